package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"metabench/internal/benchmark"
)

// Recorder mirrors a controller run into a Store. It is a
// benchmark.Observer; after each iteration it persists only the samples
// added since the previous one.
type Recorder struct {
	ctx    context.Context
	store  Store
	runID  string
	logger *slog.Logger
	now    func() time.Time

	written map[string]int
	err     error
}

// NewRecorder registers a new run in store and returns its recorder.
func NewRecorder(ctx context.Context, store Store, exe string, params benchmark.Params, logger *slog.Logger) (*Recorder, error) {
	r := &Recorder{
		ctx:     ctx,
		store:   store,
		runID:   uuid.NewString(),
		logger:  logger,
		now:     time.Now,
		written: make(map[string]int),
	}
	if err := store.Begin(ctx, Run{
		ID:        r.runID,
		StartedAt: r.now(),
		Exe:       exe,
		Params:    params,
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// RunID returns the id of the recorded run.
func (r *Recorder) RunID() string {
	return r.runID
}

// Err returns the first persistence error, if any.
func (r *Recorder) Err() error {
	return r.err
}

// ObserveIteration implements benchmark.Observer.
func (r *Recorder) ObserveIteration(rec benchmark.IterationRecord) {
	if rec.Store == nil {
		return
	}
	for _, id := range rec.Store.CaseIDs() {
		series := rec.Store.Series(id)
		done := r.written[id]
		if len(series) <= done {
			continue
		}
		if err := r.store.RecordSamples(r.ctx, r.runID, id, done, series[done:]); err != nil {
			r.fail(err, "case", id)
			continue
		}
		r.written[id] = len(series)
	}
}

// Finish stamps the run with the controller's termination reason.
func (r *Recorder) Finish(reason string) error {
	// The run context may already be cancelled on interrupt.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Finish(ctx, r.runID, reason, r.now()); err != nil {
		r.fail(err)
		return err
	}
	return nil
}

func (r *Recorder) fail(err error, attrs ...any) {
	if r.err == nil {
		r.err = err
	}
	r.logger.Warn("failed to record history", append([]any{"run_id", r.runID, "error", err}, attrs...)...)
}
