// Command josh drives josh's distributed simulation execution core: a
// batch of replicate runs, coordinated either by offloading to a
// remote leader or by fanning work out locally, built from the pieces
// in pkg/plan, pkg/strategy, pkg/batch, and pkg/reduce.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/codeready-toolchain/josh/pkg/batch"
	"github.com/codeready-toolchain/josh/pkg/config"
	"github.com/codeready-toolchain/josh/pkg/export"
	"github.com/codeready-toolchain/josh/pkg/extdata"
	"github.com/codeready-toolchain/josh/pkg/josherr"
	"github.com/codeready-toolchain/josh/pkg/jserver"
	"github.com/codeready-toolchain/josh/pkg/plan"
	"github.com/codeready-toolchain/josh/pkg/reduce"
	"github.com/codeready-toolchain/josh/pkg/strategy"
	"github.com/codeready-toolchain/josh/pkg/version"
)

func main() {
	app := &cli.App{
		Name:    version.AppName,
		Usage:   "run and coordinate josh agent-based simulation batches",
		Version: version.Full(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-dir", Usage: "directory holding .env, default ./deploy/config"},
			&cli.StringFlag{Name: "endpoint", Usage: "leader endpoint URI"},
			&cli.StringFlag{Name: "api-key", Usage: "API key for the endpoint"},
			&cli.IntFlag{Name: "concurrent-workers", Usage: "bound on in-flight worker requests for local-leader mode"},
			&cli.BoolFlag{Name: "remote-leader", Usage: "offload coordination to the remote leader instead of dispatching locally"},
			&cli.BoolFlag{Name: "use-float-64", Usage: "prefer float64 over arbitrary-precision decimals on the wire"},
			&cli.StringFlag{Name: "program", Aliases: []string{"p"}, Usage: "path to the simulation program source"},
			&cli.StringFlag{Name: "name", Usage: "simulation name"},
			&cli.IntFlag{Name: "replicates", Value: 1, Usage: "replicate count per job"},
			&cli.StringSliceFlag{Name: "data", Usage: "name=path[;path...], repeatable; ; within one flag forms a variation group"},
			&cli.StringSliceFlag{Name: "custom-tag", Usage: "name=value, repeatable; reserved names rejected"},
			&cli.StringFlag{Name: "out-dir", Value: "./out", Usage: "directory CSV export sinks are written to"},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "plan and execute a batch locally, dispatching replicates to worker endpoints",
				Action: runCommand(false),
			},
			{
				Name:   "runRemote",
				Usage:  "plan and execute a batch by offloading each job to a remote leader",
				Action: runCommand(true),
			},
			{
				Name:   "validate",
				Usage:  "validate endpoint, replicate count, --data syntax, and custom-tag names without any network I/O",
				Action: validateCommand,
			},
			{
				Name:   "preprocess",
				Usage:  "pack the resolved external-data file map for the template job and print the wire envelope",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "out", Usage: "write the envelope here instead of stdout"}},
				Action: preprocessCommand,
			},
			{
				Name:   "inspect",
				Usage:  "expand the job planner's grid for the current template and print it, without executing",
				Action: inspectCommand,
			},
			{
				Name:  "server",
				Usage: "serve /runReplicate and /runReplicates so another josh process can use this one as a worker or leader",
				Flags: []cli.Flag{&cli.StringFlag{Name: "addr", Value: ":8090", Usage: "listen address"}},
				Action: serverCommand,
			},
			{
				Name:   "discoverConfig",
				Usage:  "print the resolved configuration after merging defaults, .env, environment, and flags",
				Action: discoverConfigCommand,
			},
			{
				Name:   "exportDeps",
				Usage:  "print the external-data file map a template resolves to, without packing or sending it",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "out", Usage: "write the listing here instead of stdout"}},
				Action: exportDepsCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("josh exiting", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var je *josherr.Error
	if errors.As(err, &je) {
		return je.ExitCode
	}
	return josherr.ExitLoad
}

// loadConfigFromFlags resolves pkg/config's layered Config, applying
// only the flags the caller actually set so the env and .env layers
// still win for anything left at its zero value.
func loadConfigFromFlags(c *cli.Context) *config.Config {
	var o config.Overrides
	if c.IsSet("endpoint") {
		v := c.String("endpoint")
		o.Endpoint = &v
	}
	if c.IsSet("api-key") {
		v := c.String("api-key")
		o.APIKey = &v
	}
	if c.IsSet("concurrent-workers") {
		v := c.Int("concurrent-workers")
		o.ConcurrentWorkers = &v
	}
	if c.IsSet("remote-leader") {
		v := c.Bool("remote-leader")
		o.RemoteLeader = &v
	}
	if c.IsSet("use-float-64") {
		v := c.Bool("use-float-64")
		o.UseFloat64 = &v
	}
	return config.Load(c.String("config-dir"), o)
}

// parseDataFlags turns repeated --data name=path[;path...] values into
// a VariationSpec, preserving flag order as group order and ;-split
// order as candidate order.
func parseDataFlags(values []string) (plan.VariationSpec, error) {
	spec := make(plan.VariationSpec, 0, len(values))
	for _, raw := range values {
		name, rest, ok := strings.Cut(raw, "=")
		if !ok || name == "" || rest == "" {
			return nil, josherr.Input("--data %q: expected name=path[;path...]", raw)
		}
		candidates := strings.Split(rest, ";")
		spec = append(spec, plan.VariationGroup{LogicalName: name, Candidates: candidates})
	}
	return spec, nil
}

// parseCustomTagFlags turns repeated --custom-tag name=value values
// into a map, rejecting reserved names up front (an Input error, fails
// before any network I/O).
func parseCustomTagFlags(values []string) (map[string]string, error) {
	tags := make(map[string]string, len(values))
	for _, raw := range values {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return nil, josherr.Input("--custom-tag %q: expected name=value", raw)
		}
		tags[name] = value
	}
	if err := plan.ValidateCustomTags(tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// buildPlan resolves the CLI's --data/--custom-tag/--replicates flags
// into the deterministic job list the batch driver runs.
func buildPlan(c *cli.Context) ([]plan.Job, error) {
	spec, err := parseDataFlags(c.StringSlice("data"))
	if err != nil {
		return nil, err
	}
	tags, err := parseCustomTagFlags(c.StringSlice("custom-tag"))
	if err != nil {
		return nil, err
	}
	replicates := c.Int("replicates")
	if replicates < 1 {
		return nil, josherr.Input("--replicates must be >= 1, got %d", replicates)
	}
	return plan.Plan(spec, replicates, tags), nil
}

// packExternalData reads every file a job's variation resolved to and
// packs it into the wire envelope, in deterministic (sorted
// logical-name) order since plan.Job.Files is a map.
func packExternalData(job plan.Job) (string, error) {
	order := make([]string, 0, len(job.Files))
	content := make(map[string][]byte, len(job.Files))
	for name, path := range job.Files {
		order = append(order, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return "", josherr.Input("reading --data file %q for %q: %v", path, name, err)
		}
		content[name] = b
	}
	sort.Strings(order)
	return extdata.PackMap(content, order), nil
}

// requestForFlags builds the RequestContext shared across a job's
// strategy invocation from the CLI's program/name/endpoint flags plus
// that job's resolved file map and custom tags.
func requestForFlags(c *cli.Context, cfg *config.Config) func(plan.Job) (strategy.RequestContext, error) {
	return func(job plan.Job) (strategy.RequestContext, error) {
		programPath := c.String("program")
		if programPath == "" {
			return strategy.RequestContext{}, josherr.Input("--program is required")
		}
		code, err := os.ReadFile(programPath)
		if err != nil {
			return strategy.RequestContext{}, josherr.Input("reading --program %q: %v", programPath, err)
		}
		packed, err := packExternalData(job)
		if err != nil {
			return strategy.RequestContext{}, err
		}
		return strategy.RequestContext{
			Code:         string(code),
			Name:         c.String("name"),
			APIKey:       cfg.APIKey,
			ExternalData: packed,
			// use-float-64 is the CLI's user-facing framing; favorBigDecimal
			// is the wire field's, and the two are each other's negation.
			FavorBigDecimal: !cfg.UseFloat64,
			CustomTags:      job.CustomTags,
		}, nil
	}
}

// newStrategyFor picks the offload or local-leader strategy per
// cfg.RemoteLeader, normalizing cfg.Endpoint once per job (cheap, and
// keeps Config immutable).
func newStrategyFor(cfg *config.Config) func(plan.Job) (batch.Strategy, error) {
	return func(plan.Job) (batch.Strategy, error) {
		leaderEndpoint, err := strategy.NormalizeLeaderEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		if cfg.RemoteLeader {
			return &strategy.OffloadStrategy{Transport: http.DefaultClient, Endpoint: leaderEndpoint}, nil
		}
		return &strategy.LocalLeaderStrategy{
			Transport:      http.DefaultClient,
			WorkerEndpoint: strategy.WorkerEndpointFor(leaderEndpoint),
			Concurrency:    cfg.ConcurrentWorkers,
		}, nil
	}
}

// newSinksFor opens one CSV file per (job, target) under outDir, named
// with a monotonic job sequence number since plan.Job carries no
// identity of its own.
func newSinksFor(outDir string) func(plan.Job) reduce.SinkFactory {
	var jobSeq int32
	return func(plan.Job) reduce.SinkFactory {
		idx := atomic.AddInt32(&jobSeq, 1) - 1
		return func(target string) (export.Sink, error) {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return nil, josherr.Sink("creating output directory %q: %v", outDir, err)
			}
			path := filepath.Join(outDir, fmt.Sprintf("job-%03d-%s.csv", idx, target))
			f, err := os.Create(path)
			if err != nil {
				return nil, josherr.Sink("opening %q: %v", path, err)
			}
			return export.NewCSVSink(f), nil
		}
	}
}

func runCommand(remote bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg := loadConfigFromFlags(c)
		cfg.RemoteLeader = remote || cfg.RemoteLeader

		if err := cfg.CheckAuth(); err != nil {
			return err
		}

		jobs, err := buildPlan(c)
		if err != nil {
			return err
		}

		runID := uuid.New()
		log := slog.With("run_id", runID, "jobs", len(jobs), "remote_leader", cfg.RemoteLeader)
		log.Info("starting batch")

		driver := batch.NewDriver(batch.Config{
			NewStrategy:       newStrategyFor(cfg),
			NewSinks:          newSinksFor(c.String("out-dir")),
			RequestFor:        requestForFlags(c, cfg),
			StepsPerReplicate: 1,
		})

		results, err := driver.Run(context.Background(), jobs)
		if err != nil {
			log.Error("batch aborted", "completed_jobs", len(results), "error", err)
			return err
		}
		log.Info("batch complete", "completed_jobs", len(results))
		return nil
	}
}

func validateCommand(c *cli.Context) error {
	cfg := loadConfigFromFlags(c)
	if _, err := strategy.NormalizeLeaderEndpoint(cfg.Endpoint); err != nil {
		return err
	}
	if err := cfg.CheckAuth(); err != nil {
		return err
	}
	if _, err := buildPlan(c); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "ok")
	return nil
}

func preprocessCommand(c *cli.Context) error {
	jobs, err := buildPlan(c)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return josherr.Input("no jobs to preprocess")
	}
	packed, err := packExternalData(jobs[0])
	if err != nil {
		return err
	}
	return writeOutput(c, packed)
}

func inspectCommand(c *cli.Context) error {
	jobs, err := buildPlan(c)
	if err != nil {
		return err
	}
	var b strings.Builder
	for i, job := range jobs {
		fmt.Fprintf(&b, "job %d: replicates=%d files=%s tags=%s\n", i, job.Replicates, formatMap(job.Files), formatMap(job.CustomTags))
	}
	return writeOutput(c, b.String())
}

func serverCommand(c *cli.Context) error {
	engine := unimplementedEngine{}
	srv := jserver.NewServer(engine)
	addr := c.String("addr")
	slog.Info("serving worker/leader HTTP role", "addr", addr)
	return srv.Start(addr)
}

func discoverConfigCommand(c *cli.Context) error {
	cfg := loadConfigFromFlags(c)
	fmt.Fprintf(c.App.Writer, "endpoint=%s\nconcurrentWorkers=%d\nremoteLeader=%t\nuseFloat64=%t\nconfigDir=%s\n",
		cfg.Endpoint, cfg.ConcurrentWorkers, cfg.RemoteLeader, cfg.UseFloat64, cfg.ConfigDir)
	return nil
}

func exportDepsCommand(c *cli.Context) error {
	jobs, err := buildPlan(c)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return josherr.Input("no jobs to describe")
	}
	return writeOutput(c, formatMap(jobs[0].Files)+"\n")
}

func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ",")
}

func writeOutput(c *cli.Context, content string) error {
	outPath := c.String("out")
	if outPath == "" {
		_, err := io.WriteString(c.App.Writer, content)
		return err
	}
	if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
		return josherr.Sink("writing %q: %v", outPath, err)
	}
	return nil
}

// unimplementedEngine satisfies jserver.Engine so `josh server` has
// something to boot against. The simulation language parser and
// agent/patch evaluation engine are out of this module's scope; a real
// deployment wires its own Engine implementation in here.
type unimplementedEngine struct{}

func (unimplementedEngine) RunReplicate(ctx context.Context, req jserver.RunRequest) (jserver.LineReader, error) {
	return nil, josherr.Protocol("no simulation engine wired into this server")
}
