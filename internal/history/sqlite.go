package history

import (
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			exe TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			params TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL REFERENCES runs(id),
			case_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			value_ns REAL NOT NULL,
			PRIMARY KEY (run_id, case_id, seq)
		);`,
	},
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	s, err := openSQLStore("sqlite", path, sqliteDialect)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	s.db.SetMaxOpenConns(1)
	return &SQLiteStore{sqlStore: s}, nil
}
