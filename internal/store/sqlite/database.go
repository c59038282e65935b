// Package sqlite implements the §6 persistence schema on a pure-Go
// SQLite driver, grounded on the pack's modernc.org/sqlite stores:
// flemzord-sclaw's modules/memory/sqlite.OpenHistoryStore for the
// connection setup (single connection, WAL mode, busy timeout) and
// RedClaus-cortex's cortex-evaluator session.SQLiteStore / pinky's
// memory.SQLiteStore for the inline CREATE TABLE IF NOT EXISTS migrate
// step in place of goose.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection and implements both
// message.Persistence and streamlog.Persistence against it. A single
// mutex serializes writes; modernc.org/sqlite does not tolerate
// concurrent writers any better than the stdlib driver does.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the SQLite file at path and runs the
// schema migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only tolerates one writer connection at a time; keep the
	// pool to one to avoid SQLITE_BUSY under concurrent flush/cleanup.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		row_created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_row_created_at ON messages (row_created_at);

	CREATE TABLE IF NOT EXISTS stream_chunks (
		chunk_id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL,
		body BLOB NOT NULL,
		chunk_index INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	);
	CREATE INDEX IF NOT EXISTS idx_stream_chunks_stream_id ON stream_chunks (stream_id, chunk_index);

	CREATE TABLE IF NOT EXISTS stream_metadata (
		stream_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_stream_metadata_status ON stream_metadata (status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
