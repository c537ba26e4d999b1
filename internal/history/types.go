package history

import (
	"context"
	"database/sql"
	"time"

	"metabench/internal/benchmark"
)

// Run is one recorded `metabench run` invocation.
type Run struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt sql.NullTime     `json:"finished_at"`
	Exe        string           `json:"exe"`
	Reason     string           `json:"reason"`
	Params     benchmark.Params `json:"params"`
}

// Finished reports whether the run recorded a termination reason.
func (r Run) Finished() bool {
	return r.FinishedAt.Valid
}

// Store persists runs and their per-case sample series.
type Store interface {
	Close() error

	Begin(ctx context.Context, run Run) error
	RecordSamples(ctx context.Context, runID, caseID string, startSeq int, valuesNs []float64) error
	Finish(ctx context.Context, runID, reason string, finishedAt time.Time) error

	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Samples(ctx context.Context, runID string) (map[string][]float64, error)
}
