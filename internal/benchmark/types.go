package benchmark

import (
	"fmt"
	"time"
)

// Observation is a single raw per-run timing reported by the measurement program.
type Observation struct {
	Case  string  `json:"case"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Request describes one invocation of the measurement program.
type Request struct {
	// Filter selects the cases to run. Empty matches everything.
	Filter      string
	MinTime     time.Duration
	Warmup      time.Duration
	Repetitions int
	ExtraArgs   []string
	Timeout     time.Duration

	// Iteration is the 1-based controller iteration issuing the request.
	Iteration int
}

// Params holds the stopping rule for a controller run.
type Params struct {
	MinMetaReps    int     `json:"min_meta_reps"`
	MaxMetaReps    int     `json:"max_meta_reps"`
	RelCIThreshold float64 `json:"rel_ci_threshold"`
}

// NewParams builds validated run parameters.
func NewParams(minMetaReps, maxMetaReps int, relCIThreshold float64) (Params, error) {
	p := Params{
		MinMetaReps:    minMetaReps,
		MaxMetaReps:    maxMetaReps,
		RelCIThreshold: relCIThreshold,
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate reports the first invalid field as a *ConfigError.
func (p Params) Validate() error {
	if p.MinMetaReps < 1 {
		return &ConfigError{Field: "min_meta_reps", Reason: fmt.Sprintf("must be >= 1, got %d", p.MinMetaReps)}
	}
	if p.MaxMetaReps < p.MinMetaReps {
		return &ConfigError{Field: "max_meta_reps", Reason: fmt.Sprintf("must be >= min_meta_reps (%d), got %d", p.MinMetaReps, p.MaxMetaReps)}
	}
	if !(p.RelCIThreshold > 0 && p.RelCIThreshold <= 1) {
		return &ConfigError{Field: "rel_ci_threshold", Reason: fmt.Sprintf("must be in (0, 1], got %g", p.RelCIThreshold)}
	}
	return nil
}

// CaseStats is derived from a case's sample series on demand.
type CaseStats struct {
	Count       int
	Mean        float64
	StdDev      float64
	RelCI95Half float64
	Stable      bool
}

// State is a step of the controller state machine.
type State int

const (
	StateInit State = iota
	StateRunning
	StateEvaluating
	StateContinuing
	StateConverged
	StateCappedOut
	// StateExhausted ends the run when a re-run yields no samples for the
	// requested cases. The stats from the last evaluation stand.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateEvaluating:
		return "evaluating"
	case StateContinuing:
		return "continuing"
	case StateConverged:
		return "converged"
	case StateCappedOut:
		return "capped_out"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the controller stops in this state.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateCappedOut || s == StateExhausted
}

// IterationRecord is handed to observers after every evaluation.
// Observers must treat it as read-only.
type IterationRecord struct {
	Iteration int
	TotalRuns int
	Unstable  []string
	CappedOut bool
	Next      State
	Stats     map[string]CaseStats
	Params    Params

	// Store is the frozen view the stats were computed from.
	Store *SampleStore
}

// Observer receives an IterationRecord after each evaluation.
type Observer interface {
	ObserveIteration(rec IterationRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(rec IterationRecord)

func (f ObserverFunc) ObserveIteration(rec IterationRecord) { f(rec) }

// Result is what a controller run leaves behind.
type Result struct {
	Store *SampleStore
	Stats map[string]CaseStats
	// Reason is the terminal state on success. When Run returns an error it
	// is the state the loop was in when it failed.
	Reason     State
	Iterations int
	TotalRuns  int
}

// StableCount returns how many cases ended stable.
func (r *Result) StableCount() int {
	n := 0
	for _, s := range r.Stats {
		if s.Stable {
			n++
		}
	}
	return n
}
