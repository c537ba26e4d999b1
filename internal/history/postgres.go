package history

import (
	"database/sql"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			exe TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			params TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL REFERENCES runs(id),
			case_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			value_ns DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, case_id, seq)
		);`,
	},
	bind: dollarPlaceholders,
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects to dsn and applies migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	s, err := openSQLStore("postgres", dsn, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}

// newPostgresStoreWithDB wraps an existing connection without migrating.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore: &sqlStore{db: db, d: postgresDialect}}
}
