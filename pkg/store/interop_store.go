// Package store implements the persistence behind the directory registry
// and the interop audit trail: in memory and on SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/audit"
	"github.com/Mindburn-Labs/aliasledger/pkg/database"
	"github.com/google/uuid"
)

// MemoryInteropStore is an append-only in-process audit store.
type MemoryInteropStore struct {
	mu       sync.RWMutex
	records  []audit.InteropRecord
	byID     map[string]int
	sequence uint64
}

func NewMemoryInteropStore() *MemoryInteropStore {
	return &MemoryInteropStore{byID: make(map[string]int)}
}

func (s *MemoryInteropStore) Append(ctx context.Context, rec *audit.InteropRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	}
	s.sequence++
	rec.Sequence = s.sequence
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryInteropStore) Query(ctx context.Context, f audit.Filter) ([]audit.InteropRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.InteropRecord{}
	for _, r := range s.records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// SQLInteropStore keeps interop records in interop_audit.
type SQLInteropStore struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLInteropStore(db *sql.DB, dialect database.Dialect) *SQLInteropStore {
	return &SQLInteropStore{db: db, dialect: dialect}
}

func (s *SQLInteropStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS interop_audit (
	sequence %s,
	id TEXT NOT NULL UNIQUE,
	requesting_tenant_id TEXT NOT NULL,
	alias_key TEXT NOT NULL,
	target_tenant_id TEXT,
	query_type TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interop_audit_target ON interop_audit (target_tenant_id, ts);
`, s.dialect.AutoIncrement()))
	return err
}

func (s *SQLInteropStore) Append(ctx context.Context, rec *audit.InteropRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO interop_audit (id, requesting_tenant_id, alias_key, target_tenant_id, query_type, correlation_id, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING sequence`),
		rec.ID, rec.RequestingTenant, rec.AliasKey, nullString(rec.TargetTenant),
		string(rec.QueryType), rec.CorrelationID, formatTime(rec.Timestamp),
	).Scan(&seq)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
		}
		return err
	}
	rec.Sequence = uint64(seq) //nolint:gosec // sequences are positive
	return nil
}

func (s *SQLInteropStore) Query(ctx context.Context, f audit.Filter) ([]audit.InteropRecord, error) {
	query := `SELECT sequence, id, requesting_tenant_id, alias_key, target_tenant_id, query_type, correlation_id, ts
		FROM interop_audit WHERE 1 = 1`
	var args []any
	if f.RequestingTenant != "" {
		query += ` AND requesting_tenant_id = ?`
		args = append(args, f.RequestingTenant)
	}
	if f.TargetTenant != "" {
		query += ` AND target_tenant_id = ?`
		args = append(args, f.TargetTenant)
	}
	if f.Start != nil {
		query += ` AND ts >= ?`
		args = append(args, formatTime(*f.Start))
	}
	if f.End != nil {
		query += ` AND ts <= ?`
		args = append(args, formatTime(*f.End))
	}
	if f.CrossTenantOnly {
		query += ` AND target_tenant_id IS NOT NULL AND target_tenant_id <> requesting_tenant_id`
	}
	query += ` ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []audit.InteropRecord{}
	for rows.Next() {
		var (
			r      audit.InteropRecord
			seq    int64
			target sql.NullString
			qt, ts string
		)
		if err := rows.Scan(&seq, &r.ID, &r.RequestingTenant, &r.AliasKey, &target, &qt, &r.CorrelationID, &ts); err != nil {
			return nil, err
		}
		r.Sequence = uint64(seq) //nolint:gosec // sequences are positive
		r.TargetTenant = target.String
		r.QueryType = audit.QueryType(qt)
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// timeLayout keeps sub-second precision and sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
