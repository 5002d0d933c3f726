// Package database opens the relational store behind the ledger and the
// directory tables: Postgres when a URL is configured, SQLite otherwise.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects SQL differences between the supported engines.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Rebind rewrites ? placeholders into the engine's form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AutoIncrement is the column type of a monotonically assigned row id.
func (d Dialect) AutoIncrement() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// IsUniqueViolation reports whether err was raised by a UNIQUE constraint.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Options for Open.
type Options struct {
	DatabaseURL string
	DataDir     string
}

// Open connects to Postgres when DatabaseURL is set and to a SQLite file
// under DataDir otherwise (lite mode).
func Open(ctx context.Context, opts Options) (*sql.DB, Dialect, error) {
	if opts.DatabaseURL != "" {
		db, err := sql.Open("postgres", opts.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return db, Postgres, nil
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, "", fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "aliasledger.db")
	slog.Default().With("component", "database").InfoContext(ctx, "lite mode: using sqlite", "path", dbPath)

	db, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, "", err
	}
	return db, SQLite, nil
}

// OpenSQLite opens a SQLite database. ":memory:" gives a private
// in-memory database. A single connection serializes writers, which is
// what SQLite does internally anyway.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
