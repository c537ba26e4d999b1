package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metabench/internal/benchmark"
)

func withMockStore(t *testing.T, fn func(*PostgresStore, sqlmock.Sqlmock)) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := newPostgresStoreWithDB(db)
	fn(store, mock)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", dollarPlaceholders("SELECT a FROM t WHERE x = ? AND y = ?"))
	assert.Equal(t, "SELECT 1", dollarPlaceholders("SELECT 1"))
}

func TestPostgresStore_Mocked(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	t.Run("Begin", func(t *testing.T) {
		withMockStore(t, func(s *PostgresStore, mock sqlmock.Sqlmock) {
			mock.ExpectExec(`INSERT INTO runs (id, started_at, exe, reason, params) VALUES ($1, $2, $3, $4, $5)`).
				WithArgs("r1", started, "./bench", "", `{"min_meta_reps":5,"max_meta_reps":30,"rel_ci_threshold":0.03}`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := s.Begin(ctx, Run{
				ID:        "r1",
				StartedAt: started,
				Exe:       "./bench",
				Params:    benchmark.Params{MinMetaReps: 5, MaxMetaReps: 30, RelCIThreshold: 0.03},
			})
			assert.NoError(t, err)
		})
	})

	t.Run("RecordSamples", func(t *testing.T) {
		withMockStore(t, func(s *PostgresStore, mock sqlmock.Sqlmock) {
			mock.ExpectBegin()
			prep := mock.ExpectPrepare(`INSERT INTO samples (run_id, case_id, seq, value_ns) VALUES ($1, $2, $3, $4)`)
			prep.ExpectExec().WithArgs("r1", "BM_A", 3, 1.5).WillReturnResult(sqlmock.NewResult(0, 1))
			prep.ExpectExec().WithArgs("r1", "BM_A", 4, 2.5).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			assert.NoError(t, s.RecordSamples(ctx, "r1", "BM_A", 3, []float64{1.5, 2.5}))
		})
	})

	t.Run("RecordSamples rolls back on error", func(t *testing.T) {
		withMockStore(t, func(s *PostgresStore, mock sqlmock.Sqlmock) {
			mock.ExpectBegin()
			prep := mock.ExpectPrepare(`INSERT INTO samples (run_id, case_id, seq, value_ns) VALUES ($1, $2, $3, $4)`)
			prep.ExpectExec().WithArgs("r1", "BM_A", 0, 1.0).WillReturnError(errors.New("disk full"))
			mock.ExpectRollback()

			err := s.RecordSamples(ctx, "r1", "BM_A", 0, []float64{1})
			assert.ErrorContains(t, err, "disk full")
		})
	})

	t.Run("Finish", func(t *testing.T) {
		withMockStore(t, func(s *PostgresStore, mock sqlmock.Sqlmock) {
			mock.ExpectExec(`UPDATE runs SET finished_at = $1, reason = $2 WHERE id = $3`).
				WithArgs(started, "capped_out", "r1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`UPDATE runs SET finished_at = $1, reason = $2 WHERE id = $3`).
				WithArgs(started, "capped_out", "missing").
				WillReturnResult(sqlmock.NewResult(0, 0))

			assert.NoError(t, s.Finish(ctx, "r1", "capped_out", started))
			assert.ErrorContains(t, s.Finish(ctx, "missing", "capped_out", started), "not found")
		})
	})

	t.Run("ListRuns", func(t *testing.T) {
		withMockStore(t, func(s *PostgresStore, mock sqlmock.Sqlmock) {
			rows := sqlmock.NewRows([]string{"id", "started_at", "finished_at", "exe", "reason", "params"}).
				AddRow("r2", started.Add(time.Hour), nil, "./bench", "", `{"min_meta_reps":3,"max_meta_reps":9,"rel_ci_threshold":0.05}`).
				AddRow("r1", started, started.Add(time.Minute), "./bench", "converged", `{"min_meta_reps":5,"max_meta_reps":30,"rel_ci_threshold":0.03}`)
			mock.ExpectQuery(`SELECT id, started_at, finished_at, exe, reason, params FROM runs ORDER BY started_at DESC LIMIT $1`).
				WithArgs(20).
				WillReturnRows(rows)

			runs, err := s.ListRuns(ctx, 20)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.False(t, runs[0].Finished())
			assert.Equal(t, 9, runs[0].Params.MaxMetaReps)
			assert.True(t, runs[1].Finished())
			assert.Equal(t, "converged", runs[1].Reason)
		})
	})

	t.Run("Samples", func(t *testing.T) {
		withMockStore(t, func(s *PostgresStore, mock sqlmock.Sqlmock) {
			rows := sqlmock.NewRows([]string{"case_id", "value_ns"}).
				AddRow("BM_A", 1.0).
				AddRow("BM_A", 2.0).
				AddRow("BM_B", 3.0)
			mock.ExpectQuery(`SELECT case_id, value_ns FROM samples WHERE run_id = $1 ORDER BY case_id, seq`).
				WithArgs("r1").
				WillReturnRows(rows)

			samples, err := s.Samples(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, map[string][]float64{"BM_A": {1, 2}, "BM_B": {3}}, samples)
		})
	})
}
