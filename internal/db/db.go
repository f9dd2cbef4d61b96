// Package db provides the SQLite connection and schema backing the run ledger.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath selects a database that lives only as long as the process.
const MemoryPath = ":memory:"

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	dsn := dbPath + "?_journal_mode=WAL"
	if dbPath == MemoryPath {
		dsn = MemoryPath
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == MemoryPath {
		// each new connection would see its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Run ledger - append-only history of ring runs and their arms.
	// Several rows per run (started, completed, arm failures).
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS run_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			source TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_run_ledger_ts ON run_ledger(timestamp);
		CREATE INDEX IF NOT EXISTS idx_run_ledger_run ON run_ledger(run_id, event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create run_ledger table: %w", err)
	}

	// One terminal row per run, first writer wins
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_run_ledger_terminal
		ON run_ledger(run_id)
		WHERE event_type IN ('run_completed', 'run_skipped');
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_run_ledger_terminal index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
