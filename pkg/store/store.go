// Package store is the attestation ledger: issued requests, relay callbacks,
// session outcomes and idempotent responses, on SQLite (lite mode) or
// Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for a missing record.
var ErrNotFound = errors.New("record not found")

// Dialect selects placeholder syntax and DDL variants.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Ledger persists protocol records.
type Ledger struct {
	db      *sql.DB
	dialect Dialect
	archive EvidenceArchive
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, dialect Dialect) *Ledger {
	return &Ledger{db: db, dialect: dialect}
}

// Open connects to Postgres when databaseURL is set, otherwise to a SQLite
// file under dataDir, and migrates the schema.
func Open(ctx context.Context, databaseURL, dataDir string) (*Ledger, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	if databaseURL != "" {
		dialect = DialectPostgres
		db, err = sql.Open("postgres", databaseURL)
	} else {
		if dataDir == "" {
			dataDir = "data"
		}
		//nolint:gosec // data directory is operator-owned
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dialect = DialectSQLite
		db, err = sql.Open("sqlite", filepath.Join(dataDir, "attestgate.db")+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	l := New(db, dialect)
	if err := l.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// WithArchive attaches an evidence archive used for verified outcomes.
func (l *Ledger) WithArchive(a EvidenceArchive) *Ledger {
	l.archive = a
	return l
}

// Dialect reports the SQL dialect.
func (l *Ledger) Dialect() Dialect { return l.dialect }

// Ping checks connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (l *Ledger) rebind(query string) string {
	if l.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *Ledger) exec(ctx context.Context, query string, args ...any) error {
	_, err := l.db.ExecContext(ctx, l.rebind(query), args...)
	return err
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS issuances (
		request_id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		subject_address TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		signature TEXT NOT NULL,
		request_json TEXT NOT NULL,
		issued_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS relay_events (
		event_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		request_id TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		attestation_json TEXT NOT NULL DEFAULT '',
		recorded_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		attempt_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		app_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		subject_address TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL DEFAULT '',
		fact TEXT NOT NULL DEFAULT '',
		evidence_ref TEXT NOT NULL DEFAULT '',
		recorded_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attempts_request_idx ON attempts (request_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		cached_at BIGINT NOT NULL
	)`,
}

// Migrate creates the schema.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if err := l.exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
