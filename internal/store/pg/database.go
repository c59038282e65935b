// Package pg implements the §6 persistence schema on Postgres, grounded
// on the teacher's internal/storage/pg/database.go and migrations.go
// (sql.Open("postgres", ...) + goose embedded migrations), narrowed to
// this module's two Persistence interfaces instead of sqlc-generated
// query structs.
package pg

import (
	"database/sql"
	"embed"
	"fmt"
	"net/url"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps a Postgres connection pool and implements both
// message.Persistence and streamlog.Persistence against it.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL and runs pending migrations. schema, if
// non-empty, isolates this Store's three tables under a dedicated
// Postgres schema (created if absent) so one database can host many
// sessions (§6's schema carries no session-scoping column: isolation
// is the caller's job, not a table column, per spec.md's exact §6
// table definitions, left unchanged).
func Open(databaseURL, schema string) (*Store, error) {
	dsn := databaseURL
	if schema != "" {
		if err := ensureSchema(databaseURL, schema); err != nil {
			return nil, err
		}
		withPath, err := withSearchPath(databaseURL, schema)
		if err != nil {
			return nil, fmt.Errorf("build schema-scoped dsn: %w", err)
		}
		dsn = withPath
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// ensureSchema connects with the default search_path and issues
// CREATE SCHEMA IF NOT EXISTS, using pq.QuoteIdentifier since schema is
// an operator-supplied session name, not a literal.
func ensureSchema(databaseURL, schema string) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open postgres for schema setup: %w", err)
	}
	defer db.Close()
	stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schema))
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}

// withSearchPath appends a libpq "options" connection parameter that
// sets search_path for the lifetime of every connection opened with
// the returned DSN.
func withSearchPath(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	q.Set("options", fmt.Sprintf("-c search_path=%s", schema))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
