package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metabench/internal/benchmark"
)

func recordFor(t *testing.T, iteration int, samples map[string][]float64, unstable []string) benchmark.IterationRecord {
	t.Helper()
	store := benchmark.NewSampleStore()
	var obs []benchmark.Observation
	for id, vals := range samples {
		for _, v := range vals {
			obs = append(obs, benchmark.Observation{Case: id, Value: v, Unit: "ns"})
		}
	}
	_, err := store.Merge(obs)
	require.NoError(t, err)
	frozen := store.Freeze()

	stats := make(map[string]benchmark.CaseStats)
	for id := range samples {
		stats[id] = benchmark.CaseStats{Count: frozen.Count(id)}
	}
	return benchmark.IterationRecord{
		Iteration: iteration,
		TotalRuns: frozen.MaxCount(),
		Unstable:  unstable,
		Stats:     stats,
		Store:     frozen,
	}
}

func TestMetrics_ObserveIteration(t *testing.T) {
	m := NewMetrics()

	m.ObserveIteration(recordFor(t, 1, map[string][]float64{
		"BM_A": {1, 2, 3},
		"BM_B": {1, 2, 3},
	}, []string{"BM_B"}))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Iterations))
	assert.Equal(t, float64(6), testutil.ToFloat64(m.SamplesRecorded))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Cases))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnstableCases))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.MetaRuns))

	m.ObserveIteration(recordFor(t, 2, map[string][]float64{
		"BM_A": {1, 2, 3},
		"BM_B": {1, 2, 3, 4, 5},
	}, nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Iterations))
	assert.Equal(t, float64(8), testutil.ToFloat64(m.SamplesRecorded))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.UnstableCases))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.MetaRuns))
}

func TestMetrics_Instrument(t *testing.T) {
	m := NewMetrics()
	calls := 0
	inner := benchmark.RunnerFunc(func(ctx context.Context, req benchmark.Request) ([]benchmark.Observation, error) {
		calls++
		switch calls {
		case 1:
			return []benchmark.Observation{{Case: "BM_A", Value: 1, Unit: "ns"}}, nil
		case 2:
			return nil, benchmark.NewMeasurementError(benchmark.KindTimeout, []string{"bench"}, context.DeadlineExceeded)
		case 3:
			return nil, context.Canceled
		default:
			return nil, errors.New("other")
		}
	})
	r := m.Instrument(inner)

	obs, err := r.Measure(context.Background(), benchmark.Request{})
	require.NoError(t, err)
	assert.Len(t, obs, 1)

	for i := 0; i < 3; i++ {
		_, err = r.Measure(context.Background(), benchmark.Request{})
		assert.Error(t, err)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Invocations.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Invocations.WithLabelValues("timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Invocations.WithLabelValues("canceled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Invocations.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.InvocationSeconds))
}

func TestStartMetricsServer(t *testing.T) {
	// Reserve a free port, then hand it to the server.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMetrics()
	m.Iterations.Inc()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, StartMetricsServer(ctx, addr, m, logger))

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "metabench_iterations_total 1"))
}

func TestStartMetricsServer_BadAddr(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := StartMetricsServer(context.Background(), "not-an-addr", NewMetrics(), logger)
	assert.Error(t, err)
}
