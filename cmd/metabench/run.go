package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"metabench/internal/benchmark"
	"metabench/internal/config"
	"metabench/internal/history"
	"metabench/internal/telemetry"
	"metabench/internal/ui"
)

// Factories allow mocking in tests.
var (
	newRunnerFunc = func(exe string, opts ...benchmark.GoogleRunnerOption) (benchmark.Runner, error) {
		return benchmark.NewGoogleRunner(exe, opts...)
	}
	newHistoryStoreFunc = func(dsn string) (history.Store, error) {
		return history.NewStore(history.ConfigFromDSN(dsn))
	}
	startMetricsServerFunc = telemetry.StartMetricsServer
)

var runFlagKeys = map[string]string{
	config.KeyExe:            "exe",
	config.KeyMinMetaReps:    "min-meta-reps",
	config.KeyMaxMetaReps:    "max-meta-reps",
	config.KeyRelCIThreshold: "rel-ci-threshold",
	config.KeyMinTime:        "min-time",
	config.KeyWarmup:         "warmup",
	config.KeyTimeout:        "timeout",
	config.KeyBaseFilter:     "base-filter",
	config.KeyBenchArg:       "bench-arg",
	config.KeyBenchArgs:      "bench-args",
	config.KeyOutput:         "output",
	config.KeySaveRaw:        "save-raw",
	config.KeyPinCore:        "pin-core",
	config.KeyNoLive:         "no-live",
	config.KeyHistoryDB:      "history-db",
	config.KeyMetricsAddr:    "metrics-addr",
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run --exe PATH",
		Short: "Run the adaptive meta-benchmark loop",
		Long: `Runs the benchmark executable with --benchmark_repetitions, evaluates the
95% confidence interval of every case, and re-runs only the unstable ones.
A JSON snapshot is rewritten after every iteration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(a.v, cmd.Flags(), runFlagKeys)
			cfg, err := config.FromViper(a.v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return a.run(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.String("exe", "", "Path to the Google Benchmark executable")
	f.Int("min-meta-reps", config.DefaultMinMetaReps, "Minimum samples per case before evaluating stability")
	f.Int("max-meta-reps", config.DefaultMaxMetaReps, "Maximum samples per case")
	f.Float64("rel-ci-threshold", config.DefaultRelCIThreshold, "Target relative 95% CI half-width (0.03 = 3%)")
	f.Duration("min-time", config.DefaultMinTime, "Forwarded as --benchmark_min_time")
	f.Duration("warmup", 0, "Forwarded as --benchmark_min_warmup_time (0 = off)")
	f.Duration("timeout", 0, "Per-invocation timeout (0 = none)")
	f.String("base-filter", "", "Regex selecting the benchmarks of the first run")
	f.StringArray("bench-arg", nil, "Extra argument passed to the executable (repeatable)")
	f.String("bench-args", "", "Extra arguments as one shell-quoted string")
	f.String("output", config.DefaultOutput, "Snapshot JSON output path")
	f.String("save-raw", "", "Directory to store the raw JSON output of every invocation")
	f.Int("pin-core", config.DefaultPinCore, "Pin the benchmark process to a CPU core (Linux, -1 = off)")
	f.Bool("no-live", false, "Disable the live single-line progress output")
	f.String("history-db", "", "Record samples to this SQLite path or postgres:// DSN")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func (a *app) run(cmd *cobra.Command, cfg *config.RunConfig) error {
	logger := a.logger
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting meta-benchmark", "exe", cfg.Exe)
	logger.Debug("Run parameters",
		"min_meta_reps", cfg.Params.MinMetaReps,
		"max_meta_reps", cfg.Params.MaxMetaReps,
		"rel_ci_threshold", cfg.Params.RelCIThreshold,
		"extra_args", cfg.ExtraArgs,
	)

	runnerOpts := []benchmark.GoogleRunnerOption{benchmark.WithRunnerLogger(logger)}
	if cfg.PinCore >= 0 {
		runnerOpts = append(runnerOpts, benchmark.WithPinCore(cfg.PinCore))
	}
	if cfg.SaveRaw != "" {
		runnerOpts = append(runnerOpts, benchmark.WithRawDir(cfg.SaveRaw))
	}
	runner, err := newRunnerFunc(cfg.Exe, runnerOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}

	snapshots, err := benchmark.NewFileSnapshotWriter(cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}

	progress := ui.NewLiveProgress(out, cfg.Params.MaxMetaReps, cfg.Live)
	opts := []benchmark.ControllerOption{
		benchmark.WithSnapshotWriter(snapshots),
		benchmark.WithRequestTemplate(cfg.Request()),
		benchmark.WithLogger(logger),
		benchmark.WithObserver(progress),
	}

	if cfg.MetricsAddr != "" {
		metrics := telemetry.NewMetrics()
		if err := startMetricsServerFunc(ctx, cfg.MetricsAddr, metrics, logger); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		runner = metrics.Instrument(runner)
		opts = append(opts, benchmark.WithObserver(metrics))
	}

	var recorder *history.Recorder
	if cfg.HistoryDB != "" {
		store, err := newHistoryStoreFunc(cfg.HistoryDB)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()

		recorder, err = history.NewRecorder(ctx, store, cfg.Exe, cfg.Params, logger)
		if err != nil {
			return fmt.Errorf("failed to start history run: %w", err)
		}
		logger.Debug("Recording history", "run_id", recorder.RunID())
		opts = append(opts, benchmark.WithObserver(recorder))
	}

	ctrl, err := benchmark.NewController(cfg.Params, runner, opts...)
	if err != nil {
		return err
	}

	res, runErr := ctrl.Run(ctx, cfg.BaseFilter)
	progress.Finish()

	reason := res.Reason.String()
	switch {
	case runErr == nil:
	case errors.Is(runErr, benchmark.ErrNoBenchmarks):
		logger.Error("No benchmarks matched. Check --exe and --base-filter.")
		reason = "no_benchmarks"
	case errors.Is(runErr, context.Canceled):
		logger.Warn("Interrupted by user")
		reason = "interrupted"
		// Leave a snapshot even when interrupted before the first evaluation.
		if err := snapshots.WriteSnapshot(benchmark.NewSnapshot(cfg.Params, res.Stats)); err != nil {
			logger.Warn("failed to write snapshot", "path", snapshots.Path(), "error", err)
		}
	default:
		reason = "failed"
	}

	if recorder != nil {
		// Failures are logged by the recorder.
		_ = recorder.Finish(reason)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	printFinal(out, res)
	if runErr != nil {
		return runErr
	}
	logger.Info("Completed successfully",
		"reason", res.Reason.String(),
		"iterations", res.Iterations,
		"output", snapshots.Path(),
	)
	return nil
}

func printFinal(w io.Writer, res *benchmark.Result) {
	cases := len(res.Stats)
	fmt.Fprintf(w, "Meta runs: %d, cases: %d, stable: %d/%d\n", res.TotalRuns, cases, res.StableCount(), cases)
}
