package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	flags "github.com/jessevdk/go-flags"

	taskforge "github.com/forgebench/taskforge"
	"github.com/forgebench/taskforge/internal/export"
	"github.com/forgebench/taskforge/internal/llm/cliagent"
	"github.com/forgebench/taskforge/internal/manifest"
	"github.com/forgebench/taskforge/internal/metric"
	"github.com/forgebench/taskforge/internal/pipeline"
	"github.com/forgebench/taskforge/internal/prcache"
	"github.com/forgebench/taskforge/internal/sandbox"
	"github.com/forgebench/taskforge/internal/validator"
	"github.com/forgebench/taskforge/tracing"
)

// Options is the command-line surface for a single pipeline run. The CLI
// entry point itself is out of scope for the mining/validation core (spec
// §1); this wires the core's capability interfaces to the simplest concrete
// collaborators this repository owns outright.
type Options struct {
	pipeline.Config `group:"Pipeline"`
	Tracing         tracing.Config `group:"Tracing"`

	DataDir     string `long:"data-dir" description:"directory holding the PR cache database" default:"./data"`
	OutputDir   string `long:"output-dir" description:"directory tasks are exported into" default:"./out"`
	PerDifficulty bool `long:"per-difficulty" description:"nest export output under {difficulty}-tasks/"`
	JSONLPath   string `long:"jsonl" description:"optional path to also append every exported task as one JSON line"`

	ManifestPath string `long:"manifest" description:"path to a JSON candidate manifest standing in for a live source-control host" required:"true"`

	AgentPath string `long:"agent-path" description:"path to the CLI coding agent binary backing every LLM capability" default:"claude"`
	AgentModel string `long:"agent-model" description:"model name passed to the CLI coding agent"`

	ContainerdSocket string `long:"containerd-socket" description:"containerd API socket"`
	ContainerdNamespace string `long:"containerd-namespace" description:"containerd namespace"`

	Version func() `long:"version" description:"print the version and exit"`
}

func main() {
	var opts Options
	opts.Version = func() {
		fmt.Printf("taskforge %s (task schema %s)\n", taskforge.Version, taskforge.SpecVersion)
		os.Exit(0)
	}

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		handleError(err)
	}

	logger := lager.NewLogger("taskforge")
	logger.RegisterSink(lager.NewWriterSink(os.Stdout, lager.INFO))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = lagerctx.NewContext(ctx, logger)

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("run-failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts Options, logger lager.Logger) error {
	if tp, shutdown, err := opts.Tracing.TracerProvider(ctx); err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	} else if tp != nil {
		defer shutdown(ctx)
	}
	metric.InitOTel()

	cache, err := prcache.Open(opts.DataDir)
	if err != nil {
		return fmt.Errorf("open PR cache: %w", err)
	}
	defer cache.Close()
	defer cache.LogStats(func(format string, args ...any) {
		logger.Info(fmt.Sprintf(format, args...))
	})

	driver, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return err
	}

	agent := cliagent.New(opts.AgentPath, opts.AgentModel)

	sandboxes := sandbox.Factory{Cfg: sandbox.Config{
		Socket:    opts.ContainerdSocket,
		Namespace: opts.ContainerdNamespace,
	}}

	val := &validator.Validator{
		Sandboxes: sandboxes,
		Repairer:  agent,
	}

	layout := export.Layout{OutputDir: opts.OutputDir, PerDifficulty: opts.PerDifficulty}

	var sink export.Sink
	if opts.JSONLPath != "" {
		s, err := export.NewJSONLSink(opts.JSONLPath)
		if err != nil {
			return fmt.Errorf("open jsonl sink: %w", err)
		}
		defer s.Close()
		sink = s
	}

	events := make(chan pipeline.Event, 64)
	go drainEvents(logger, events)
	defer close(events)

	sched := pipeline.New(opts.Config, pipeline.Collaborators{
		Collector:    driver,
		Fetcher:      driver,
		Triager:      agent,
		DiffFetcher:  driver,
		Rewriter:     agent,
		TestDesigner: agent,
		Assessor:     agent,
		Validator:    val,
		Cache:        cache,
		Export:       layout,
		Sink:         sink,
		Events:       events,
	})

	summary, err := sched.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("run-complete", lager.Data{
		"emitted": summary.Emitted, "filtered": summary.Filtered,
		"extracted": summary.Extracted, "scored": summary.Scored,
		"tasks": len(summary.Tasks),
	})
	return nil
}

// drainEvents logs every control-flow event the scheduler broadcasts, until
// the channel is closed at shutdown.
func drainEvents(logger lager.Logger, events <-chan pipeline.Event) {
	for ev := range events {
		logger.Debug("pipeline-event", lager.Data{"kind": string(ev.Kind)})
	}
}

func handleError(err error) {
	if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
		fmt.Println(err)
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", err)
	os.Exit(1)
}
