// Package reduce drives the wire codec, result builder, export sinks,
// and progress calculator from a stream of wire-format lines, for
// exactly one strategy invocation. It guarantees every sink it opens
// is joined exactly once, on every exit path.
package reduce

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/josh/pkg/export"
	"github.com/codeready-toolchain/josh/pkg/josherr"
	"github.com/codeready-toolchain/josh/pkg/progress"
	"github.com/codeready-toolchain/josh/pkg/result"
	"github.com/codeready-toolchain/josh/pkg/wire"
)

// SinkFactory opens the export sink for a target name, the first time
// that target is observed. The reducer calls Start on the returned
// sink before writing to it.
type SinkFactory func(target string) (export.Sink, error)

// Options configures one reducer invocation.
type Options struct {
	// Calculator reports throttled progress; required.
	Calculator *progress.Calculator
	// Cumulative, if non-nil, rewrites every PROGRESS message's step
	// through a shared counter before handing it to Calculator — used
	// by the local-leader dispatcher to present one monotonic sequence
	// across interleaved replicate streams.
	Cumulative *wire.CumulativeCounter
	// TotalReplicates is the number of replicates this invocation
	// expects to see END for. Zero means "unknown" (the reducer simply
	// runs until the line source closes).
	TotalReplicates int
	// Sinks opens a sink per target name. May be nil if the caller only
	// wants builder output and no export sinks.
	Sinks SinkFactory
	// OnProgress, if set, is called for every emitted progress.Update.
	OnProgress func(progress.Update)
}

// Output is what a reducer invocation produces on success.
type Output struct {
	// Replicates maps replicate index to its frozen result.
	Replicates map[uint32]*result.ReplicateResult
}

type replicateState struct {
	builder *result.Builder
}

// Run consumes lines until the channel closes, ctx is cancelled, or a
// fatal error is encountered (an ERROR wire message, a malformed line,
// or a sink failure). It always joins every sink it opened before
// returning. The error it returns is whatever caused the run to end;
// when the run itself succeeded, it is the first sink-close error, if
// any.
func Run(ctx context.Context, lines <-chan string, opts Options) (*Output, error) {
	if opts.Calculator == nil {
		return nil, fmt.Errorf("reduce: Calculator is required")
	}

	replicates := make(map[uint32]*replicateState)
	sinks := make(map[string]export.Sink)
	sinkOrder := make([]string, 0, 4)
	repsCompleted := 0

	closeSinks := func() error {
		var first error
		for _, name := range sinkOrder {
			if err := sinks[name].Join(); err != nil && first == nil {
				first = josherr.Sink("closing sink %q: %v", name, err)
			}
		}
		return first
	}

	stateFor := func(rep uint32) *replicateState {
		st, ok := replicates[rep]
		if !ok {
			st = &replicateState{builder: result.NewBuilder()}
			replicates[rep] = st
		}
		return st
	}

	sinkFor := func(target string) (export.Sink, error) {
		if s, ok := sinks[target]; ok {
			return s, nil
		}
		if opts.Sinks == nil {
			return nil, nil
		}
		s, err := opts.Sinks(target)
		if err != nil {
			return nil, josherr.Sink("opening sink for %q: %v", target, err)
		}
		if err := s.Start(); err != nil {
			return nil, josherr.Sink("starting sink for %q: %v", target, err)
		}
		sinks[target] = s
		sinkOrder = append(sinkOrder, target)
		return s, nil
	}

	emit := func(u progress.Update, ok bool) {
		if ok && opts.OnProgress != nil {
			opts.OnProgress(u)
		}
	}

	finish := func(out *Output, runErr error) (*Output, error) {
		closeErr := closeSinks()
		if runErr != nil {
			return nil, runErr
		}
		if closeErr != nil {
			return nil, closeErr
		}
		return out, nil
	}

	results := make(map[uint32]*result.ReplicateResult)

	for {
		select {
		case <-ctx.Done():
			return finish(nil, josherr.Transport("cancelled: %v", ctx.Err()))

		case line, more := <-lines:
			if !more {
				return finish(&Output{Replicates: results}, nil)
			}

			m := wire.Parse(line)
			switch m.Kind {
			case wire.KindIgnored:
				// nothing to do

			case wire.KindDatum:
				st := stateFor(m.Replicate)
				st.builder.Add(m.Target, m.Attrs)

				sink, err := sinkFor(m.Target)
				if err != nil {
					return finish(nil, err)
				}
				if sink != nil {
					step := stepAttr(m.Attrs)
					if err := sink.Write(m.Attrs, step); err != nil {
						return finish(nil, josherr.Sink("writing to sink %q: %v", m.Target, err))
					}
				}

			case wire.KindProgress:
				pm := m
				if opts.Cumulative != nil {
					pm = opts.Cumulative.Rewrite(m)
				}
				emit(opts.Calculator.UpdateStep(pm.Step))

			case wire.KindEnd:
				st, ok := replicates[m.Replicate]
				if !ok {
					st = stateFor(m.Replicate)
				}
				results[m.Replicate] = st.builder.Build()
				delete(replicates, m.Replicate)

				repsCompleted++
				emit(opts.Calculator.UpdateReplicateCompleted(repsCompleted), true)
				if opts.TotalReplicates == 0 || repsCompleted < opts.TotalReplicates {
					opts.Calculator.ResetForNextReplicate()
				}

			case wire.KindError:
				err := josherr.Protocol("%s", m.Msg)
				if m.HasReplicate {
					err = err.WithReplicate(m.Replicate)
				}
				return finish(nil, err)
			}
		}
	}
}

func stepAttr(attrs []wire.Attr) int64 {
	for _, a := range attrs {
		if a.Key != "step" || !a.IsNumber() {
			continue
		}
		v, err := a.Float64()
		if err != nil {
			return 0
		}
		return int64(v)
	}
	return 0
}
