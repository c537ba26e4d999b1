package benchmark

import (
	"context"
	"fmt"
	"log/slog"
)

// Controller drives meta-repetitions until every case is stable or the
// repetition cap is reached. Invocations of the Runner are strictly serial.
type Controller struct {
	params    Params
	runner    Runner
	template  Request
	snapshots SnapshotWriter
	observers []Observer
	logger    *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSnapshotWriter sets where the per-iteration snapshot is written.
func WithSnapshotWriter(w SnapshotWriter) ControllerOption {
	return func(c *Controller) { c.snapshots = w }
}

// WithObserver registers an observer called after every evaluation.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithRequestTemplate sets the invocation settings shared by every request
// (min time, warmup, timeout, extra args). Filter and repetitions are
// controlled by the controller.
func WithRequestTemplate(req Request) ControllerOption {
	return func(c *Controller) { c.template = req }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController validates params and returns a controller for runner.
func NewController(params Params, runner Runner, opts ...ControllerOption) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("controller requires a runner")
	}
	c := &Controller{
		params: params,
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Params returns the run parameters.
func (c *Controller) Params() Params {
	return c.params
}

// Run executes the stability loop. baseFilter narrows the first batch and may
// be empty. On error the returned Result still holds everything merged so
// far, and the last written snapshot reflects it.
func (c *Controller) Run(ctx context.Context, baseFilter string) (*Result, error) {
	store := NewSampleStore()
	res := &Result{Store: store, Reason: StateInit}

	req := c.template
	req.Filter = baseFilter
	req.Repetitions = c.params.MinMetaReps

	state := StateRunning
	fail := func(err error) (*Result, error) {
		res.Reason = state
		return res, err
	}
	for {
		switch state {
		case StateRunning, StateContinuing:
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			res.Iterations++
			req.Iteration = res.Iterations
			c.logger.Debug("starting meta-run",
				"iteration", req.Iteration,
				"filter", filterLabel(req.Filter),
				"repetitions", req.Repetitions,
			)

			batch, err := c.runner.Measure(ctx, req)
			if err != nil {
				return fail(fmt.Errorf("iteration %d (filter %s): %w", req.Iteration, filterLabel(req.Filter), err))
			}
			batch = c.clipToCap(store, batch, req.Iteration)
			added, err := store.Merge(batch)
			if err != nil {
				return fail(fmt.Errorf("iteration %d: %w", req.Iteration, err))
			}
			if added == 0 {
				if state == StateRunning {
					return fail(ErrNoBenchmarks)
				}
				c.logger.Warn("no samples extracted, stopping",
					"iteration", req.Iteration,
					"filter", filterLabel(req.Filter),
				)
				state = StateExhausted
				continue
			}
			c.logger.Debug("merged samples", "iteration", req.Iteration, "samples", added)
			state = StateEvaluating

		case StateEvaluating:
			frozen := store.Freeze()
			stats, unstable := Evaluate(frozen, c.params)
			next, maxUnstable := c.decide(frozen, unstable)

			res.Stats = stats
			res.TotalRuns = frozen.MaxCount()

			if c.snapshots != nil {
				if err := c.snapshots.WriteSnapshot(NewSnapshot(c.params, stats)); err != nil {
					return fail(err)
				}
			}

			rec := IterationRecord{
				Iteration: res.Iterations,
				TotalRuns: res.TotalRuns,
				Unstable:  unstable,
				CappedOut: next == StateCappedOut,
				Next:      next,
				Stats:     stats,
				Params:    c.params,
				Store:     frozen,
			}
			for _, o := range c.observers {
				o.ObserveIteration(rec)
			}

			if next == StateContinuing {
				filter, err := BuildFilter(unstable)
				if err != nil {
					return fail(err)
				}
				req.Filter = filter
				req.Repetitions = c.nextRepetitions(maxUnstable)
				c.logger.Debug("re-running unstable cases", "cases", len(unstable), "repetitions", req.Repetitions)
			}
			state = next

		case StateConverged, StateCappedOut, StateExhausted:
			res.Reason = state
			c.logger.Debug("meta-benchmark finished", "reason", state.String(), "iterations", res.Iterations)
			return res, nil

		default:
			return fail(fmt.Errorf("controller reached unexpected state %s", state))
		}
	}
}

// clipToCap drops observations that would push a case past MaxMetaReps. The
// adapter may return more rows than requested when extra arguments override
// the repetition count.
func (c *Controller) clipToCap(store *SampleStore, batch []Observation, iteration int) []Observation {
	taken := make(map[string]int)
	dropped := make(map[string]int)
	kept := make([]Observation, 0, len(batch))
	for _, o := range batch {
		if store.Count(o.Case)+taken[o.Case] >= c.params.MaxMetaReps {
			dropped[o.Case]++
			continue
		}
		taken[o.Case]++
		kept = append(kept, o)
	}
	for id, n := range dropped {
		c.logger.Warn("dropping samples beyond max_meta_reps",
			"iteration", iteration,
			"case", id,
			"dropped", n,
			"max_meta_reps", c.params.MaxMetaReps,
		)
	}
	return kept
}

// decide applies the termination checks in order and returns the next state
// along with the highest sample count among unstable cases.
func (c *Controller) decide(store *SampleStore, unstable []string) (State, int) {
	if len(unstable) == 0 {
		return StateConverged, 0
	}
	maxUnstable := 0
	for _, id := range unstable {
		if n := store.Count(id); n > maxUnstable {
			maxUnstable = n
		}
	}
	if maxUnstable >= c.params.MaxMetaReps {
		return StateCappedOut, maxUnstable
	}
	return StateContinuing, maxUnstable
}

// nextRepetitions sizes a re-run batch: another MinMetaReps repetitions,
// clipped to the budget left for the unstable case closest to the cap and
// never below one.
func (c *Controller) nextRepetitions(maxUnstable int) int {
	reps := c.params.MinMetaReps
	if remaining := c.params.MaxMetaReps - maxUnstable; remaining < reps {
		reps = remaining
	}
	if reps < 1 {
		reps = 1
	}
	return reps
}

func filterLabel(f string) string {
	if f == "" {
		return "(none)"
	}
	return f
}
