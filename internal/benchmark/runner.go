package benchmark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Runner is the boundary to the external measurement program. Measure runs
// it once and returns one Observation per genuine run, aggregates excluded.
type Runner interface {
	Measure(ctx context.Context, req Request) ([]Observation, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) ([]Observation, error)

func (f RunnerFunc) Measure(ctx context.Context, req Request) ([]Observation, error) {
	return f(ctx, req)
}

const maxStdoutInError = 500

// waitDelay bounds how long Wait blocks on output pipes after the process
// has been killed.
const waitDelay = 2 * time.Second

// GoogleRunner implements Runner for Google Benchmark executables.
type GoogleRunner struct {
	exe     string
	pinCore int
	rawDir  string
	logger  *slog.Logger

	// execCommand allows mocking in tests.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	now         func() time.Time
}

// GoogleRunnerOption configures a GoogleRunner.
type GoogleRunnerOption func(*GoogleRunner)

// WithPinCore pins each benchmark process to the given CPU core. Negative disables pinning.
func WithPinCore(core int) GoogleRunnerOption {
	return func(r *GoogleRunner) { r.pinCore = core }
}

// WithRawDir stores each raw JSON report under dir.
func WithRawDir(dir string) GoogleRunnerOption {
	return func(r *GoogleRunner) { r.rawDir = dir }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) GoogleRunnerOption {
	return func(r *GoogleRunner) { r.logger = l }
}

// NewGoogleRunner checks that exe is an executable file.
func NewGoogleRunner(exe string, opts ...GoogleRunnerOption) (*GoogleRunner, error) {
	info, err := os.Stat(exe)
	if err != nil {
		return nil, fmt.Errorf("executable not found: %s: %w", exe, err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return nil, fmt.Errorf("not an executable file: %s", exe)
	}

	r := &GoogleRunner{
		exe:         exe,
		pinCore:     -1,
		logger:      slog.Default(),
		execCommand: exec.CommandContext,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rawDir != "" {
		if err := os.MkdirAll(r.rawDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create raw output directory %s: %w", r.rawDir, err)
		}
	}
	r.logger.Debug("initialized benchmark runner", "exe", exe, "pin_core", r.pinCore)
	return r, nil
}

// Args builds the command line for req, executable first.
func (r *GoogleRunner) Args(req Request) []string {
	args := []string{r.exe, "--benchmark_format=json"}
	if req.Filter != "" {
		args = append(args, "--benchmark_filter="+req.Filter)
	}
	if req.MinTime > 0 {
		args = append(args, "--benchmark_min_time="+formatSeconds(req.MinTime))
	}
	if req.Warmup > 0 {
		args = append(args, "--benchmark_min_warmup_time="+formatSeconds(req.Warmup))
	}
	args = append(args,
		"--benchmark_counters_tabular=false",
		"--benchmark_enable_random_interleaving=true",
	)
	if req.Repetitions > 0 {
		args = append(args, "--benchmark_repetitions="+strconv.Itoa(req.Repetitions))
	}
	return append(args, req.ExtraArgs...)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func (r *GoogleRunner) Measure(ctx context.Context, req Request) ([]Observation, error) {
	args := r.Args(req)

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r.logger.Debug("running benchmark", "iteration", req.Iteration, "args", args)

	cmd := r.execCommand(runCtx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, NewMeasurementError(KindLaunch, args, err)
	}
	if r.pinCore >= 0 {
		if err := pinProcess(cmd.Process.Pid, r.pinCore); err != nil {
			r.logger.Warn("failed to set CPU affinity", "pid", cmd.Process.Pid, "core", r.pinCore, "error", err)
		}
	}
	waitErr := cmd.Wait()

	// Output of a timed-out or cancelled process is never trusted.
	if ctxErr := runCtx.Err(); ctxErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("benchmark interrupted: %w", ctx.Err())
		}
		return nil, NewMeasurementError(KindTimeout, args, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			merr := NewMeasurementError(KindExitStatus, args, waitErr)
			merr.ExitCode = exitErr.ExitCode()
			merr.Stderr = stderr.String()
			return nil, merr
		}
		return nil, NewMeasurementError(KindLaunch, args, waitErr)
	}

	obs, err := ParseOutput(stdout.Bytes())
	if err != nil {
		merr := NewMeasurementError(KindMalformedOutput, args, err)
		merr.Stdout = truncate(stdout.String(), maxStdoutInError)
		return nil, merr
	}
	r.logger.Debug("benchmark completed", "iteration", req.Iteration, "observations", len(obs))

	if r.rawDir != "" {
		if err := r.saveRaw(req.Iteration, stdout.Bytes()); err != nil {
			return nil, err
		}
	}
	return obs, nil
}

func (r *GoogleRunner) saveRaw(iteration int, data []byte) error {
	name := fmt.Sprintf("run_%d_%s.json", iteration, r.now().Format("20060102-150405"))
	path := filepath.Join(r.rawDir, name)
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte(`{"benchmarks": []}`)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to save benchmark results to %s: %w", path, err)
	}
	r.logger.Debug("saved raw results", "path", path)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
