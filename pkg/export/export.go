// Package export writes per-target result data to durable sinks with
// an explicit start/write/join lifecycle. A CSVSink is the only sink
// implementation the core ships, but any Sink can be plugged into the
// response reducer.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/codeready-toolchain/josh/pkg/wire"
)

// Sink is a per-target-name export destination. Writes are append-only
// from the caller's perspective: a sink only ever receives one record
// at a time, in the order the response reducer observed them. Join
// must be safe to call more than once and safe to call after a partial
// failure mid-write.
type Sink interface {
	Start() error
	Write(attrs []wire.Attr, step int64) error
	Join() error
}

type bufferedRow struct {
	step  int64
	attrs []wire.Attr
}

// CSVSink accumulates records in memory and renders them as CSV on
// Join, discovering its column set lazily as new attribute names
// appear across records. The chosen policy — extend the header to the
// union of every attribute name seen, writing an empty field for
// records missing a later-added column — means no data is ever
// silently dropped, at the cost of buffering every record the sink
// receives (from all of a job's replicates) in memory until Join.
type CSVSink struct {
	out io.WriteCloser

	mu      sync.Mutex
	started bool
	closed  bool
	columns []string
	colSet  map[string]struct{}
	rows    []bufferedRow
}

// NewCSVSink wraps an already-open writer. Callers own opening the
// underlying file (or buffer, for tests); CSVSink only ever appends to
// it, on Join.
func NewCSVSink(out io.WriteCloser) *CSVSink {
	return &CSVSink{out: out, colSet: make(map[string]struct{})}
}

// Start marks the sink ready to receive Write calls. Calling Start
// twice is a programming error.
func (s *CSVSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("export: sink already started")
	}
	s.started = true
	return nil
}

// Write buffers one record. Attribute names not seen before extend the
// sink's column set; the record is not required to carry every column
// seen so far.
func (s *CSVSink) Write(attrs []wire.Attr, step int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("export: write before start")
	}
	if s.closed {
		return fmt.Errorf("export: write after join")
	}
	for _, a := range attrs {
		if _, ok := s.colSet[a.Key]; !ok {
			s.colSet[a.Key] = struct{}{}
			s.columns = append(s.columns, a.Key)
		}
	}
	s.rows = append(s.rows, bufferedRow{step: step, attrs: attrs})
	return nil
}

// Join renders the buffered rows as CSV, flushes, and closes the
// underlying writer. It is idempotent: a second call returns nil
// without writing anything again, so callers may invoke it
// unconditionally from a cleanup path after an earlier failure already
// closed the sink.
func (s *CSVSink) Join() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if !s.started {
		return s.out.Close()
	}

	w := csv.NewWriter(s.out)
	header := make([]string, 0, len(s.columns)+1)
	header = append(header, "step")
	header = append(header, s.columns...)
	if err := w.Write(header); err != nil {
		_ = s.out.Close()
		return fmt.Errorf("export: writing header: %w", err)
	}

	for _, row := range s.rows {
		record := make([]string, len(header))
		record[0] = strconv.FormatInt(row.step, 10)
		byKey := make(map[string]string, len(row.attrs))
		for _, a := range row.attrs {
			byKey[a.Key] = a.Raw
		}
		for i, col := range s.columns {
			record[i+1] = byKey[col]
		}
		if err := w.Write(record); err != nil {
			_ = s.out.Close()
			return fmt.Errorf("export: writing row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = s.out.Close()
		return fmt.Errorf("export: flushing: %w", err)
	}
	return s.out.Close()
}
