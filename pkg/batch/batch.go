// Package batch drives a planned list of jobs through a chosen
// strategy, aborting the whole batch on the first job that fails while
// preserving the output of every job that already completed.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/josh/pkg/plan"
	"github.com/codeready-toolchain/josh/pkg/progress"
	"github.com/codeready-toolchain/josh/pkg/reduce"
	"github.com/codeready-toolchain/josh/pkg/strategy"
)

// Strategy is the contract both OffloadStrategy and LocalLeaderStrategy
// satisfy; the batch driver depends only on this, not on either
// concrete type, so the offload/local-leader choice is made once per
// job by Config.NewStrategy.
type Strategy interface {
	Run(ctx context.Context, req strategy.RequestContext, replicates int, sinkFactory reduce.SinkFactory, calc *progress.Calculator) (*reduce.Output, error)
}

// Config wires a Driver to the caller's choices for strategy
// selection, sink placement, and request construction — all of which
// depend on the job (e.g. output directory, which files were
// resolved) and on configuration outside the core (remote-leader flag,
// concurrency).
type Config struct {
	NewStrategy       func(job plan.Job) (Strategy, error)
	NewSinks          func(job plan.Job) reduce.SinkFactory
	RequestFor        func(job plan.Job) (strategy.RequestContext, error)
	StepsPerReplicate int64
}

// Driver runs a planned job list to completion or first failure.
type Driver struct {
	cfg Config
}

// NewDriver returns a Driver wired per cfg.
func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// JobResult pairs one planned job with the reducer output it produced.
type JobResult struct {
	Job    plan.Job
	Output *reduce.Output
}

// Run executes jobs in order. On the first failure it returns every
// JobResult completed so far alongside the error — callers should
// treat those results' sinks as already closed and their output as
// final, per the "already-completed jobs' outputs remain persisted"
// contract.
func (d *Driver) Run(ctx context.Context, jobs []plan.Job) ([]JobResult, error) {
	results := make([]JobResult, 0, len(jobs))

	for i, job := range jobs {
		log := slog.With("job_index", i, "replicates", job.Replicates)

		strat, err := d.cfg.NewStrategy(job)
		if err != nil {
			return results, fmt.Errorf("job %d: selecting strategy: %w", i, err)
		}

		req, err := d.cfg.RequestFor(job)
		if err != nil {
			return results, fmt.Errorf("job %d: building request: %w", i, err)
		}

		calc := progress.NewCalculator(d.cfg.StepsPerReplicate, job.Replicates)
		sinks := d.cfg.NewSinks(job)

		log.Info("starting job")
		out, err := strat.Run(ctx, req, job.Replicates, sinks, calc)
		if err != nil {
			log.Error("job failed", "error", err)
			return results, fmt.Errorf("job %d: %w", i, err)
		}
		log.Info("job complete")
		results = append(results, JobResult{Job: job, Output: out})
	}

	return results, nil
}
