package evidence

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/database"
)

// ErrAlreadyArchived is returned when a period was already recorded.
var ErrAlreadyArchived = errors.New("evidence: period already archived")

// Index remembers which periods have been archived. Entries are insert-only.
type Index interface {
	Lookup(ctx context.Context, period, tenantID string) (ref string, ok bool, err error)
	Record(ctx context.Context, period, tenantID, ref string) error
}

type indexKey struct{ period, tenant string }

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu   sync.RWMutex
	refs map[indexKey]string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{refs: make(map[indexKey]string)}
}

func (m *MemoryIndex) Lookup(_ context.Context, period, tenantID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.refs[indexKey{period, tenantID}]
	return ref, ok, nil
}

func (m *MemoryIndex) Record(_ context.Context, period, tenantID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := indexKey{period, tenantID}
	if _, ok := m.refs[k]; ok {
		return ErrAlreadyArchived
	}
	m.refs[k] = ref
	return nil
}

// SQLIndex keeps the index in evidence_archive.
type SQLIndex struct {
	db      *sql.DB
	dialect database.Dialect
	clock   func() time.Time
}

func NewSQLIndex(db *sql.DB, dialect database.Dialect) *SQLIndex {
	return &SQLIndex{db: db, dialect: dialect, clock: time.Now}
}

func (s *SQLIndex) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS evidence_archive (
	period TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	archived_at TEXT NOT NULL,
	PRIMARY KEY (period, tenant_id)
)`)
	return err
}

func (s *SQLIndex) Lookup(ctx context.Context, period, tenantID string) (string, bool, error) {
	var ref string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT ref FROM evidence_archive WHERE period = ? AND tenant_id = ?`), period, tenantID).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ref, true, nil
}

func (s *SQLIndex) Record(ctx context.Context, period, tenantID, ref string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO evidence_archive (period, tenant_id, ref, archived_at) VALUES (?, ?, ?, ?)`),
		period, tenantID, ref, s.clock().UTC().Format(time.RFC3339))
	if s.dialect.IsUniqueViolation(err) {
		return ErrAlreadyArchived
	}
	return err
}
