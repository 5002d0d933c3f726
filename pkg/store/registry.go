package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/database"
	"github.com/Mindburn-Labs/aliasledger/pkg/directory"
)

// ErrDuplicate is returned when a record id is reused.
var ErrDuplicate = errors.New("duplicate record")

// MemoryRegistry is an in-process directory.Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	aliases []*directory.Alias
	global  []*directory.GlobalAlias
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

func (r *MemoryRegistry) Create(ctx context.Context, a *directory.Alias, g *directory.GlobalAlias) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.aliases {
		if existing.TenantID == a.TenantID && existing.AliasKey == a.AliasKey && existing.Status == directory.StatusActive {
			return fmt.Errorf("%w: %s", directory.ErrAliasExists, a.AliasKey)
		}
	}
	for _, existing := range r.global {
		if existing.AliasKey == g.AliasKey && existing.Status == directory.StatusActive {
			return fmt.Errorf("%w globally: %s", directory.ErrAliasExists, g.AliasKey)
		}
	}
	ac, gc := *a, *g
	r.aliases = append(r.aliases, &ac)
	r.global = append(r.global, &gc)
	return nil
}

func (r *MemoryRegistry) find(tenantID, aliasKey string, activeOnly bool) (*directory.Alias, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.aliases) - 1; i >= 0; i-- {
		a := r.aliases[i]
		if a.TenantID != tenantID || a.AliasKey != aliasKey {
			continue
		}
		if activeOnly && a.Status != directory.StatusActive {
			continue
		}
		cp := *a
		return &cp, nil
	}
	return nil, directory.ErrNotFound
}

func (r *MemoryRegistry) FindActive(ctx context.Context, tenantID, aliasKey string) (*directory.Alias, error) {
	return r.find(tenantID, aliasKey, true)
}

func (r *MemoryRegistry) Find(ctx context.Context, tenantID, aliasKey string) (*directory.Alias, error) {
	return r.find(tenantID, aliasKey, false)
}

func (r *MemoryRegistry) Deactivate(ctx context.Context, aliasID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for _, a := range r.aliases {
		if a.ID == aliasID {
			a.Status = directory.StatusInactive
			a.UpdatedAt = at
			found = true
		}
	}
	if !found {
		return directory.ErrNotFound
	}
	for _, g := range r.global {
		if g.AliasID == aliasID {
			g.Status = directory.StatusInactive
			g.UpdatedAt = at
		}
	}
	return nil
}

func (r *MemoryRegistry) Remove(ctx context.Context, aliasID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.aliases)
	r.aliases = slices.DeleteFunc(r.aliases, func(a *directory.Alias) bool { return a.ID == aliasID })
	if len(r.aliases) == n {
		return directory.ErrNotFound
	}
	r.global = slices.DeleteFunc(r.global, func(g *directory.GlobalAlias) bool { return g.AliasID == aliasID })
	return nil
}

func (r *MemoryRegistry) Reactivate(ctx context.Context, aliasID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var target *directory.Alias
	for _, a := range r.aliases {
		if a.ID == aliasID {
			target = a
		}
	}
	if target == nil {
		return directory.ErrNotFound
	}
	for _, a := range r.aliases {
		if a.ID != aliasID && a.TenantID == target.TenantID && a.AliasKey == target.AliasKey && a.Status == directory.StatusActive {
			return fmt.Errorf("%w: %s", directory.ErrAliasExists, target.AliasKey)
		}
	}
	for _, g := range r.global {
		if g.AliasID != aliasID && g.AliasKey == target.AliasKey && g.Status == directory.StatusActive {
			return fmt.Errorf("%w globally: %s", directory.ErrAliasExists, target.AliasKey)
		}
	}
	target.Status = directory.StatusActive
	target.UpdatedAt = at
	for _, g := range r.global {
		if g.AliasID == aliasID {
			g.Status = directory.StatusActive
			g.UpdatedAt = at
		}
	}
	return nil
}

func (r *MemoryRegistry) FindActiveGlobal(ctx context.Context, aliasKey string) (*directory.GlobalAlias, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.global {
		if g.AliasKey == aliasKey && g.Status == directory.StatusActive {
			cp := *g
			return &cp, nil
		}
	}
	return nil, directory.ErrNotFound
}

// SQLRegistry keeps aliases and global_aliases on Postgres or SQLite.
// Partial unique indexes allow one active row per key.
type SQLRegistry struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSQLRegistry(db *sql.DB, dialect database.Dialect) *SQLRegistry {
	return &SQLRegistry{db: db, dialect: dialect}
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS aliases (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	alias_raw TEXT NOT NULL,
	alias_key TEXT NOT NULL,
	bank_name TEXT NOT NULL,
	account_type TEXT NOT NULL,
	last_4_digits TEXT NOT NULL,
	acc_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_aliases_active ON aliases (tenant_id, alias_key) WHERE status = 'ACTIVE';
CREATE TABLE IF NOT EXISTS global_aliases (
	alias_id TEXT PRIMARY KEY,
	alias_key TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	routing_code TEXT NOT NULL,
	account_type TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_global_aliases_active ON global_aliases (alias_key) WHERE status = 'ACTIVE';
`

func (r *SQLRegistry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, registrySchema)
	return err
}

func (r *SQLRegistry) Create(ctx context.Context, a *directory.Alias, g *directory.GlobalAlias) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO aliases (id, tenant_id, alias_raw, alias_key, bank_name, account_type, last_4_digits, acc_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.TenantID, a.AliasRaw, a.AliasKey, a.Bank, string(a.AccountType), a.Last4, a.AccountHash,
		string(a.Status), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", directory.ErrAliasExists, a.AliasKey)
		}
		return err
	}
	_, err = tx.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO global_aliases (alias_id, alias_key, tenant_id, routing_code, account_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		g.AliasID, g.AliasKey, g.TenantID, g.RoutingCode, string(g.AccountType),
		string(g.Status), formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w globally: %s", directory.ErrAliasExists, g.AliasKey)
		}
		return err
	}
	return tx.Commit()
}

const aliasColumns = `id, tenant_id, alias_raw, alias_key, bank_name, account_type, last_4_digits, acc_hash, status, created_at, updated_at`

func (r *SQLRegistry) FindActive(ctx context.Context, tenantID, aliasKey string) (*directory.Alias, error) {
	return r.findAlias(ctx, `SELECT `+aliasColumns+` FROM aliases
		WHERE tenant_id = ? AND alias_key = ? AND status = 'ACTIVE' LIMIT 1`, tenantID, aliasKey)
}

func (r *SQLRegistry) Find(ctx context.Context, tenantID, aliasKey string) (*directory.Alias, error) {
	return r.findAlias(ctx, `SELECT `+aliasColumns+` FROM aliases
		WHERE tenant_id = ? AND alias_key = ? ORDER BY created_at DESC LIMIT 1`, tenantID, aliasKey)
}

func (r *SQLRegistry) findAlias(ctx context.Context, query string, args ...any) (*directory.Alias, error) {
	var (
		a                    directory.Alias
		accType, status      string
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...).Scan(
		&a.ID, &a.TenantID, &a.AliasRaw, &a.AliasKey, &a.Bank, &accType, &a.Last4, &a.AccountHash,
		&status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.AccountType = directory.AccountType(accType)
	a.Status = directory.Status(status)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLRegistry) Deactivate(ctx context.Context, aliasID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE aliases SET status = 'INACTIVE', updated_at = ? WHERE id = ?`), formatTime(at), aliasID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE global_aliases SET status = 'INACTIVE', updated_at = ? WHERE alias_id = ?`), formatTime(at), aliasID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRegistry) Remove(ctx context.Context, aliasID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM global_aliases WHERE alias_id = ?`), aliasID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM aliases WHERE id = ?`), aliasID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return directory.ErrNotFound
	}
	return tx.Commit()
}

func (r *SQLRegistry) Reactivate(ctx context.Context, aliasID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE aliases SET status = 'ACTIVE', updated_at = ? WHERE id = ?`), formatTime(at), aliasID)
	if r.dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%w: alias %s", directory.ErrAliasExists, aliasID)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return directory.ErrNotFound
	}
	_, err = tx.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE global_aliases SET status = 'ACTIVE', updated_at = ? WHERE alias_id = ?`), formatTime(at), aliasID)
	if r.dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%w globally: alias %s", directory.ErrAliasExists, aliasID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRegistry) FindActiveGlobal(ctx context.Context, aliasKey string) (*directory.GlobalAlias, error) {
	var (
		g                    directory.GlobalAlias
		accType, status      string
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(`
		SELECT alias_id, alias_key, tenant_id, routing_code, account_type, status, created_at, updated_at
		FROM global_aliases WHERE alias_key = ? AND status = 'ACTIVE' LIMIT 1`), aliasKey,
	).Scan(&g.AliasID, &g.AliasKey, &g.TenantID, &g.RoutingCode, &accType, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.AccountType = directory.AccountType(accType)
	g.Status = directory.Status(status)
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
