package strategy

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/codeready-toolchain/josh/pkg/progress"
	"github.com/codeready-toolchain/josh/pkg/reduce"
)

// OffloadStrategy runs a Job by POSTing the whole replicate count to a
// remote leader and piping its response through the reducer unchanged
// — the remote leader has already produced one coherent PROGRESS
// stream, so no cumulative rewriting is needed.
type OffloadStrategy struct {
	Transport HTTPTransport
	Endpoint  string // normalized, ends in /runReplicates
}

// Run executes job against the remote leader.
func (s *OffloadStrategy) Run(ctx context.Context, req RequestContext, replicates int, sinkFactory reduce.SinkFactory, calc *progress.Calculator) (*reduce.Output, error) {
	log := slog.With("worker_url", s.Endpoint, "replicates", replicates)

	form := req.baseForm()
	form.Set("replicates", strconv.Itoa(replicates))

	// streamCtx is cancelled the moment the reducer stops reading, not
	// just when ctx eventually is, so the scanning goroutine below never
	// blocks forever on a full lines channel nobody is draining anymore.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	lines, errCh, cleanup := streamLines(streamCtx, s.Transport, s.Endpoint, form)
	defer cleanup()

	log.Info("streaming from remote leader")
	out, err := reduce.Run(ctx, lines, reduce.Options{
		Calculator:      calc,
		TotalReplicates: replicates,
		Sinks:           sinkFactory,
	})
	cancelStream()
	if err != nil {
		log.Error("remote leader stream failed", "error", err)
		return nil, err
	}
	if streamErr := <-errCh; streamErr != nil {
		log.Error("remote leader stream failed", "error", streamErr)
		return nil, streamErr
	}
	log.Info("remote leader stream complete")
	return out, nil
}
