package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metabench/internal/benchmark"
	"metabench/internal/telemetry"
)

// fakeRunner emits one observation per repetition for every case the
// filter selects.
type fakeRunner struct {
	mu       sync.Mutex
	cases    map[string][]float64 // per-case values cycled through
	requests []benchmark.Request
	hook     func(call int) error
	cursor   map[string]int
}

func (f *fakeRunner) Measure(ctx context.Context, req benchmark.Request) ([]benchmark.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.hook != nil {
		if err := f.hook(len(f.requests)); err != nil {
			return nil, err
		}
	}
	if f.cursor == nil {
		f.cursor = make(map[string]int)
	}

	var re *regexp.Regexp
	if req.Filter != "" {
		re = regexp.MustCompile(req.Filter)
	}
	var obs []benchmark.Observation
	for rep := 0; rep < max(req.Repetitions, 1); rep++ {
		for _, id := range sortedKeys(f.cases) {
			if re != nil && !re.MatchString(id) {
				continue
			}
			vals := f.cases[id]
			obs = append(obs, benchmark.Observation{Case: id, Value: vals[f.cursor[id]%len(vals)], Unit: "ns"})
			f.cursor[id]++
		}
	}
	return obs, nil
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// useRunner swaps the runner factory for the duration of the test.
func useRunner(t *testing.T, r benchmark.Runner) *[]string {
	t.Helper()
	orig := newRunnerFunc
	var exes []string
	newRunnerFunc = func(exe string, opts ...benchmark.GoogleRunnerOption) (benchmark.Runner, error) {
		exes = append(exes, exe)
		return r, nil
	}
	t.Cleanup(func() { newRunnerFunc = orig })
	return &exes
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	if ctx == nil {
		ctx = context.Background()
	}
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestRunCmd_Converges(t *testing.T) {
	r := &fakeRunner{cases: map[string][]float64{
		"BM_A":   {100},
		"BM_B/8": {200},
	}}
	exes := useRunner(t, r)
	output := filepath.Join(t.TempDir(), "out", "meta.json")

	stdout, _, err := execute(t, nil, "run", "--exe", "./bench", "--output", output, "--no-live")
	require.NoError(t, err)
	assert.Equal(t, exitOK, exitCode(err))
	assert.Equal(t, []string{"./bench"}, *exes)
	assert.Equal(t, "Meta runs: 5, cases: 2, stable: 2/2\n", stdout)

	require.Len(t, r.requests, 1)
	assert.Equal(t, 5, r.requests[0].Repetitions)
	assert.Empty(t, r.requests[0].Filter)

	snap, err := benchmark.ReadSnapshot(output)
	require.NoError(t, err)
	assert.Len(t, snap.Cases, 2)
	assert.True(t, snap.Cases["BM_B/8"].Stable)
}

func TestRunCmd_CapsOut(t *testing.T) {
	r := &fakeRunner{cases: map[string][]float64{
		"BM_Quiet": {100},
		"BM_Noisy": {50, 150},
	}}
	useRunner(t, r)
	output := filepath.Join(t.TempDir(), "meta.json")

	stdout, _, err := execute(t, nil, "run", "--exe", "./bench", "--output", output,
		"--min-meta-reps", "2", "--max-meta-reps", "4", "--base-filter", "^BM_")
	require.NoError(t, err)
	assert.Equal(t, "Meta runs: 4, cases: 2, stable: 1/2\n", stdout)

	require.Len(t, r.requests, 2)
	assert.Equal(t, "^BM_", r.requests[0].Filter)
	assert.Equal(t, `^(BM_Noisy)$`, r.requests[1].Filter)
	assert.Equal(t, 2, r.requests[1].Repetitions)
}

func TestRunCmd_ForwardsRequestSettings(t *testing.T) {
	r := &fakeRunner{cases: map[string][]float64{"BM_A": {1}}}
	useRunner(t, r)

	_, _, err := execute(t, nil, "run", "--exe", "./bench",
		"--output", filepath.Join(t.TempDir(), "m.json"),
		"--min-time", "200ms", "--warmup", "1s", "--timeout", "1m",
		"--bench-arg=--benchmark_out_format=json",
		"--bench-arg=--v=1",
		`--bench-args=--benchmark_context=host='lab one'`,
	)
	require.NoError(t, err)

	require.Len(t, r.requests, 1)
	req := r.requests[0]
	assert.Equal(t, "200ms", req.MinTime.String())
	assert.Equal(t, "1s", req.Warmup.String())
	assert.Equal(t, "1m0s", req.Timeout.String())
	assert.Equal(t, []string{
		"--benchmark_out_format=json",
		"--v=1",
		"--benchmark_context=host=lab one",
	}, req.ExtraArgs)
}

func TestRunCmd_NoBenchmarks(t *testing.T) {
	useRunner(t, &fakeRunner{cases: map[string][]float64{}})

	stdout, _, err := execute(t, nil, "run", "--exe", "./bench", "--output", filepath.Join(t.TempDir(), "m.json"))
	assert.ErrorIs(t, err, benchmark.ErrNoBenchmarks)
	assert.Equal(t, exitNoBenchmarks, exitCode(err))
	assert.Empty(t, stdout)
}

func TestRunCmd_MeasurementFailure(t *testing.T) {
	r := &fakeRunner{
		cases: map[string][]float64{"BM_A": {100}, "BM_B": {50, 150}},
		hook: func(call int) error {
			if call == 2 {
				return benchmark.NewMeasurementError(benchmark.KindExitStatus, []string{"./bench"}, errors.New("exit status 1"))
			}
			return nil
		},
	}
	useRunner(t, r)
	output := filepath.Join(t.TempDir(), "m.json")

	stdout, _, err := execute(t, nil, "run", "--exe", "./bench", "--output", output)
	var merr *benchmark.MeasurementError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, exitError, exitCode(err))
	assert.Contains(t, err.Error(), "iteration 2")
	assert.Empty(t, stdout)

	// The snapshot still holds the first batch.
	snap, err := benchmark.ReadSnapshot(output)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Cases["BM_B"].Count)
}

func TestRunCmd_EmptyRerunStopsCleanly(t *testing.T) {
	inner := &fakeRunner{cases: map[string][]float64{"BM_A": {100}, "BM_B": {50, 150}}}
	calls := 0
	useRunner(t, benchmark.RunnerFunc(func(ctx context.Context, req benchmark.Request) ([]benchmark.Observation, error) {
		calls++
		if calls > 1 {
			return nil, nil
		}
		return inner.Measure(ctx, req)
	}))
	output := filepath.Join(t.TempDir(), "m.json")

	stdout, _, err := execute(t, nil, "run", "--exe", "./bench", "--output", output)
	require.NoError(t, err)
	assert.Equal(t, exitOK, exitCode(err))
	assert.Equal(t, "Meta runs: 5, cases: 2, stable: 1/2\n", stdout)

	snap, err := benchmark.ReadSnapshot(output)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Cases["BM_B"].Count)
}

func TestRunCmd_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &fakeRunner{
		cases: map[string][]float64{"BM_A": {100}, "BM_B": {50, 150}},
		hook: func(call int) error {
			if call == 2 {
				cancel()
				return context.Canceled
			}
			return nil
		},
	}
	useRunner(t, r)
	output := filepath.Join(t.TempDir(), "m.json")

	stdout, _, err := execute(t, ctx, "run", "--exe", "./bench", "--output", output)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, exitInterrupted, exitCode(err))
	assert.Equal(t, "Meta runs: 5, cases: 2, stable: 1/2\n", stdout)

	snap, err := benchmark.ReadSnapshot(output)
	require.NoError(t, err)
	assert.Len(t, snap.Cases, 2)
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	useRunner(t, &fakeRunner{})

	_, _, err := execute(t, nil, "run", "--exe", "./bench", "--min-meta-reps", "5", "--max-meta-reps", "2", "--min-time", "0s")
	require.Error(t, err)
	assert.Equal(t, exitError, exitCode(err))
	assert.Contains(t, err.Error(), "max_meta_reps")
	assert.Contains(t, err.Error(), "min_time")

	_, _, err = execute(t, nil, "run")
	assert.ErrorContains(t, err, "exe is required")
}

func TestRunCmd_EnvOverrides(t *testing.T) {
	r := &fakeRunner{cases: map[string][]float64{"BM_A": {1}}}
	useRunner(t, r)
	t.Setenv("METABENCH_EXE", "./from-env")
	t.Setenv("METABENCH_MIN_META_REPS", "3")
	t.Setenv("METABENCH_OUTPUT", filepath.Join(t.TempDir(), "env.json"))

	stdout, _, err := execute(t, nil, "run")
	require.NoError(t, err)
	assert.Equal(t, "Meta runs: 3, cases: 1, stable: 1/1\n", stdout)
	assert.Equal(t, 3, r.requests[0].Repetitions)
}

func TestRunCmd_MetricsAndHistory(t *testing.T) {
	r := &fakeRunner{cases: map[string][]float64{"BM_A": {100}, "BM_B": {50, 150}}}
	useRunner(t, r)

	var metrics *telemetry.Metrics
	origStart := startMetricsServerFunc
	startMetricsServerFunc = func(ctx context.Context, addr string, m *telemetry.Metrics, logger *slog.Logger) error {
		assert.Equal(t, "127.0.0.1:0", addr)
		metrics = m
		return nil
	}
	t.Cleanup(func() { startMetricsServerFunc = origStart })

	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	_, _, err := execute(t, nil, "run", "--exe", "./bench",
		"--output", filepath.Join(dir, "m.json"),
		"--min-meta-reps", "2", "--max-meta-reps", "4",
		"--metrics-addr", "127.0.0.1:0",
		"--history-db", db,
	)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	stdout, _, err := execute(t, nil, "history", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "RUN ID")
	assert.Contains(t, stdout, "capped_out")
	assert.Contains(t, stdout, "./bench")
}
