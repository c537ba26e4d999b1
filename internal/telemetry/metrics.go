package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metabench/internal/benchmark"
)

// Metrics collects controller and adapter metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Iterations        prometheus.Counter
	Invocations       *prometheus.CounterVec
	InvocationSeconds prometheus.Histogram
	SamplesRecorded   prometheus.Counter
	Cases             prometheus.Gauge
	UnstableCases     prometheus.Gauge
	MetaRuns          prometheus.Gauge

	lastTotal int
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Iterations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metabench_iterations_total",
		Help: "Controller iterations evaluated",
	})
	m.Invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metabench_invocations_total",
			Help: "Invocations of the measurement program by outcome",
		},
		[]string{"outcome"},
	)
	m.InvocationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "metabench_invocation_duration_seconds",
		Help:    "Wall time of each measurement program invocation",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	m.SamplesRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metabench_samples_recorded_total",
		Help: "Per-run samples merged into the sample store",
	})
	m.Cases = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metabench_cases",
		Help: "Known benchmark cases",
	})
	m.UnstableCases = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metabench_unstable_cases",
		Help: "Cases not yet stable after the last iteration",
	})
	m.MetaRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metabench_meta_runs",
		Help: "Highest per-case meta-repetition count",
	})

	m.registry.MustRegister(
		m.Iterations,
		m.Invocations,
		m.InvocationSeconds,
		m.SamplesRecorded,
		m.Cases,
		m.UnstableCases,
		m.MetaRuns,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIteration implements benchmark.Observer.
func (m *Metrics) ObserveIteration(rec benchmark.IterationRecord) {
	m.Iterations.Inc()
	if rec.Store != nil {
		total := rec.Store.Total()
		if d := total - m.lastTotal; d > 0 {
			m.SamplesRecorded.Add(float64(d))
		}
		m.lastTotal = total
	}
	m.Cases.Set(float64(len(rec.Stats)))
	m.UnstableCases.Set(float64(len(rec.Unstable)))
	m.MetaRuns.Set(float64(rec.TotalRuns))
}

// Instrument wraps r so every invocation is timed and counted by outcome.
func (m *Metrics) Instrument(r benchmark.Runner) benchmark.Runner {
	return benchmark.RunnerFunc(func(ctx context.Context, req benchmark.Request) ([]benchmark.Observation, error) {
		start := time.Now()
		obs, err := r.Measure(ctx, req)
		m.InvocationSeconds.Observe(time.Since(start).Seconds())
		m.Invocations.WithLabelValues(outcome(err)).Inc()
		return obs, err
	})
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var merr *benchmark.MeasurementError
	if errors.As(err, &merr) {
		return merr.Kind.String()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

// StartMetricsServer serves /metrics on addr until ctx is done.
func StartMetricsServer(ctx context.Context, addr string, m *Metrics, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting metrics server", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return nil
}
