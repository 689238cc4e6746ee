package jserver

import "context"

// RunRequest carries the worker/leader HTTP endpoint's decoded form
// fields.
type RunRequest struct {
	Code            string
	Name            string
	Replicates      int
	APIKey          string
	ExternalData    string
	FavorBigDecimal bool
	// ReplicateNumber is only meaningful for POST /runReplicate; nil for
	// /runReplicates, which multiplexes all of Replicates itself.
	ReplicateNumber *int
}

// Engine executes a simulation and returns a reader of wire-protocol
// lines. The out-of-scope interpreter is opaque to this module — an
// Engine implementation is where it would be wired in; the server
// itself only streams whatever the Engine produces.
type Engine interface {
	RunReplicate(ctx context.Context, req RunRequest) (LineReader, error)
}

// LineReader yields wire-protocol lines one at a time. A stub Engine
// can wrap a bufio.Scanner over a canned io.Reader; a real interpreter
// would wrap its own line-producing output.
type LineReader interface {
	// Next returns the next line and true, or ("", false) once
	// exhausted. A non-nil error means the underlying source failed and
	// no further lines should be read.
	Next() (string, bool, error)
}
