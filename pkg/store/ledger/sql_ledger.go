package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
	"github.com/Mindburn-Labs/aliasledger/pkg/database"
)

// tsLayout is fixed width so lexical order equals time order on every engine.
const tsLayout = "2006-01-02T15:04:05Z"

// SQLLedger stores events in alias_events on Postgres or SQLite.
type SQLLedger struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLLedger(db *sql.DB, dialect database.Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect}
}

func (l *SQLLedger) schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS alias_events (
	seq %s,
	tenant_id TEXT NOT NULL,
	alias_key TEXT NOT NULL,
	event_type TEXT NOT NULL,
	correlation_id TEXT,
	previous_hash TEXT NOT NULL,
	current_hash TEXT NOT NULL,
	ts TEXT NOT NULL,
	UNIQUE (tenant_id, alias_key, previous_hash)
);
CREATE INDEX IF NOT EXISTS idx_alias_events_chain ON alias_events (tenant_id, alias_key, seq);
CREATE INDEX IF NOT EXISTS idx_alias_events_ts ON alias_events (ts);
`, l.dialect.AutoIncrement())
}

// Init creates the table and indexes.
func (l *SQLLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, l.schema())
	return err
}

func (l *SQLLedger) Append(ctx context.Context, ev chain.Event) (chain.Event, error) {
	if err := validate(ev); err != nil {
		return chain.Event{}, err
	}
	ev.Timestamp = chain.NormalizeTimestamp(ev.Timestamp)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return chain.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	tip := chain.GenesisHash
	err = tx.QueryRowContext(ctx, l.dialect.Rebind(
		`SELECT current_hash FROM alias_events WHERE tenant_id = ? AND alias_key = ? ORDER BY seq DESC LIMIT 1`),
		ev.TenantID, ev.AliasKey,
	).Scan(&tip)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return chain.Event{}, err
	}
	if ev.PreviousHash != tip {
		return chain.Event{}, ErrConflict
	}

	// A concurrent writer that read the same tip collides on the unique
	// (tenant_id, alias_key, previous_hash) index.
	_, err = tx.ExecContext(ctx, l.dialect.Rebind(`
		INSERT INTO alias_events (tenant_id, alias_key, event_type, correlation_id, previous_hash, current_hash, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.TenantID, ev.AliasKey, string(ev.Kind), nullString(ev.CorrelationID),
		ev.PreviousHash, ev.CurrentHash, ev.Timestamp.Format(tsLayout),
	)
	if err != nil {
		if l.dialect.IsUniqueViolation(err) {
			return chain.Event{}, ErrConflict
		}
		return chain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		if l.dialect.IsUniqueViolation(err) {
			return chain.Event{}, ErrConflict
		}
		return chain.Event{}, err
	}
	return ev, nil
}

const selectColumns = `tenant_id, alias_key, event_type, correlation_id, previous_hash, current_hash, ts`

func (l *SQLLedger) LastEvent(ctx context.Context, tenantID, aliasKey string) (chain.Event, error) {
	row := l.db.QueryRowContext(ctx, l.dialect.Rebind(
		`SELECT `+selectColumns+` FROM alias_events WHERE tenant_id = ? AND alias_key = ? ORDER BY seq DESC LIMIT 1`),
		tenantID, aliasKey)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.Event{}, ErrNotFound
	}
	return ev, err
}

func (l *SQLLedger) Events(ctx context.Context, tenantID, aliasKey string) ([]chain.Event, error) {
	return l.query(ctx, `SELECT `+selectColumns+` FROM alias_events
		WHERE tenant_id = ? AND alias_key = ? ORDER BY ts ASC, seq ASC`, tenantID, aliasKey)
}

func (l *SQLLedger) EventsByDate(ctx context.Context, date time.Time, tenantID string) ([]chain.Event, error) {
	start, end := DayBounds(date)
	if tenantID == "" {
		return l.query(ctx, `SELECT `+selectColumns+` FROM alias_events
			WHERE ts >= ? AND ts < ? ORDER BY ts ASC, seq ASC`,
			start.Format(tsLayout), end.Format(tsLayout))
	}
	return l.query(ctx, `SELECT `+selectColumns+` FROM alias_events
		WHERE tenant_id = ? AND ts >= ? AND ts < ? ORDER BY ts ASC, seq ASC`,
		tenantID, start.Format(tsLayout), end.Format(tsLayout))
}

func (l *SQLLedger) query(ctx context.Context, query string, args ...any) ([]chain.Event, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := []chain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (chain.Event, error) {
	var (
		ev     chain.Event
		kind   string
		corrID sql.NullString
		ts     string
	)
	if err := s.Scan(&ev.TenantID, &ev.AliasKey, &kind, &corrID, &ev.PreviousHash, &ev.CurrentHash, &ts); err != nil {
		return chain.Event{}, err
	}
	// Stored kinds are not re-validated: a tampered row must still reach
	// the verifier, which reports it as corrupted.
	ev.Kind = chain.EventKind(kind)
	ev.CorrelationID = corrID.String
	parsed, err := time.Parse(tsLayout, ts)
	if err != nil {
		return chain.Event{}, fmt.Errorf("corrupt timestamp %q: %w", ts, err)
	}
	ev.Timestamp = parsed
	return ev, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
