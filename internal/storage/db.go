package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL lets the API read while the poller writes
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationSamples,
		migrationErrorRecords,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// samples.payload and error_records.message are sealed (see Sealer); the
// timestamp and entity columns stay in clear text so range queries can use
// the indexes.
const migrationSamples = `
CREATE TABLE IF NOT EXISTS samples (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	entity_id TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationErrorRecords = `
CREATE TABLE IF NOT EXISTS error_records (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	entity_id TEXT NOT NULL,
	error_type TEXT NOT NULL,
	error_code TEXT,
	message BLOB NOT NULL,
	request_id TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolution_notes TEXT,
	resolved_at INTEGER
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);
CREATE INDEX IF NOT EXISTS idx_samples_entity_ts ON samples(entity_id, ts);
CREATE INDEX IF NOT EXISTS idx_error_records_ts ON error_records(ts);
CREATE INDEX IF NOT EXISTS idx_error_records_resolved ON error_records(resolved, ts);
`
