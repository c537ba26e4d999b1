package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name   string
	schema []string
	// bind rewrites '?' placeholders for the driver.
	bind func(query string) string
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func openSQLStore(driver, dsn string, d dialect) (*sqlStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &sqlStore{db: db, d: d}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *sqlStore) migrate() error {
	for _, query := range s.d.schema {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) q(query string) string {
	if s.d.bind == nil {
		return query
	}
	return s.d.bind(query)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Begin inserts a new run row.
func (s *sqlStore) Begin(ctx context.Context, run Run) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO runs (id, started_at, exe, reason, params) VALUES (?, ?, ?, ?, ?)`),
		run.ID, run.StartedAt.UTC(), run.Exe, run.Reason, string(params))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// RecordSamples appends valuesNs to a case series, numbering them from startSeq.
func (s *sqlStore) RecordSamples(ctx context.Context, runID, caseID string, startSeq int, valuesNs []float64) error {
	if len(valuesNs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO samples (run_id, case_id, seq, value_ns) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, v := range valuesNs {
		if _, err := stmt.ExecContext(ctx, runID, caseID, startSeq+i, v); err != nil {
			return fmt.Errorf("failed to insert sample %s#%d: %w", caseID, startSeq+i, err)
		}
	}
	return tx.Commit()
}

// Finish stamps the run with its termination reason.
func (s *sqlStore) Finish(ctx context.Context, runID, reason string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE runs SET finished_at = ?, reason = ? WHERE id = ?`),
		finishedAt.UTC(), reason, runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *sqlStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, started_at, finished_at, exe, reason, params FROM runs ORDER BY started_at DESC LIMIT ?`),
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run    Run
			params string
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Exe, &run.Reason, &params); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
			return nil, fmt.Errorf("run %s: bad params: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Samples returns every recorded series of a run, in sequence order.
func (s *sqlStore) Samples(ctx context.Context, runID string) (map[string][]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT case_id, value_ns FROM samples WHERE run_id = ? ORDER BY case_id, seq`),
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float64)
	for rows.Next() {
		var (
			caseID string
			v      float64
		)
		if err := rows.Scan(&caseID, &v); err != nil {
			return nil, err
		}
		out[caseID] = append(out[caseID], v)
	}
	return out, rows.Err()
}

// dollarPlaceholders rewrites '?' to $1, $2, ...
func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
