package strategy

import (
	"context"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	channerics "github.com/niceyeti/channerics/channels"

	"github.com/codeready-toolchain/josh/pkg/josherr"
	"github.com/codeready-toolchain/josh/pkg/progress"
	"github.com/codeready-toolchain/josh/pkg/reduce"
	"github.com/codeready-toolchain/josh/pkg/wire"
)

// LocalLeaderStrategy replicates the coordination a remote leader would
// perform, locally: it fans N single-replicate requests out to a
// worker endpoint, bounded to Concurrency in flight at once, rewrites
// each response's replicate numbers and progress steps so the caller
// sees one coherent job, and feeds the merged stream to a single
// shared response reducer.
type LocalLeaderStrategy struct {
	Transport      HTTPTransport
	WorkerEndpoint string
	Concurrency    int
}

// Run executes replicates worker tasks for one job and returns the
// reducer's output. A failing task (non-200, transport error, or an
// ERROR wire message) cancels every other in-flight task and the
// single returned error names the offending replicate where known.
func (s *LocalLeaderStrategy) Run(ctx context.Context, req RequestContext, replicates int, sinkFactory reduce.SinkFactory, calc *progress.Calculator) (*reduce.Output, error) {
	if replicates < 1 {
		return nil, josherr.Input("replicates must be >= 1")
	}
	k := s.Concurrency
	if k <= 0 || k > replicates {
		k = replicates
	}

	// runCtx is cancelled the moment the reducer below stops draining
	// merged, not just when ctx eventually is, so a runTask blocked on a
	// full taskChans[idx] never waits forever on a consumer that already
	// gave up.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(k)

	taskChans := make([]chan string, replicates)
	taskLines := make([]<-chan string, replicates)
	for i := range taskChans {
		taskChans[i] = make(chan string, 16)
		taskLines[i] = taskChans[i]
	}

	for i := 0; i < replicates; i++ {
		idx := i
		g.Go(func() error {
			return s.runTask(gctx, idx, req, taskChans[idx])
		})
	}

	merged := channerics.Merge(gctx.Done(), taskLines...)

	type reduceResult struct {
		out *reduce.Output
		err error
	}
	reduceDone := make(chan reduceResult, 1)
	go func() {
		out, err := reduce.Run(ctx, merged, reduce.Options{
			Calculator:      calc,
			Cumulative:      wire.NewCumulativeCounter(),
			TotalReplicates: replicates,
			Sinks:           sinkFactory,
		})
		cancelRun()
		reduceDone <- reduceResult{out: out, err: err}
	}()

	taskErr := g.Wait()
	rr := <-reduceDone

	if taskErr != nil {
		return nil, taskErr
	}
	return rr.out, rr.err
}

// runTask drives a single worker request, rewriting every message's
// replicate field to idx (the worker only ever reports replicate 0,
// since it was asked for exactly one) before forwarding the re-encoded
// line to out. It returns the task's terminal error, if any, and
// always closes out so the fan-in merge can observe completion.
func (s *LocalLeaderStrategy) runTask(ctx context.Context, idx int, req RequestContext, out chan<- string) error {
	defer close(out)

	log := slog.With("replicate", idx, "worker_url", s.WorkerEndpoint)

	form := req.baseForm()
	form.Set("replicates", "1")
	form.Set("replicateNumber", strconv.Itoa(idx))

	lines, errCh, cleanup := streamLines(ctx, s.Transport, s.WorkerEndpoint, form)
	defer cleanup()

	log.Info("worker task started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, more := <-lines:
			if !more {
				if err := <-errCh; err != nil {
					log.Error("worker task failed", "error", err)
					return josherr.Transport("worker replicate %d: %v", idx, err).WithReplicate(uint32(idx))
				}
				log.Info("worker task complete")
				return nil
			}

			m := rewriteReplicate(wire.Parse(line), uint32(idx))
			select {
			case out <- wire.ToWireFormat(m):
			case <-ctx.Done():
				return ctx.Err()
			}

			if m.Kind == wire.KindError {
				log.Error("worker reported error", "message", m.Msg)
				return josherr.Protocol("worker replicate %d: %s", idx, m.Msg).WithReplicate(uint32(idx))
			}
		}
	}
}

// rewriteReplicate sets m's replicate field to the dispatcher's true
// index, for every message kind that carries one. The worker is never
// the source of truth for replicate numbers in local-leader mode.
func rewriteReplicate(m wire.Message, idx uint32) wire.Message {
	if !m.HasReplicate {
		return m
	}
	m.Replicate = idx
	return m
}
