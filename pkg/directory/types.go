// Package directory manages the alias lifecycle: registration, resolution,
// deactivation and the audit views over each alias chain.
package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("alias not found")
	ErrAliasExists  = errors.New("alias already exists")
	ErrInvalidAlias = errors.New("invalid alias")
)

// AccountType is the kind of bank account an alias points to.
type AccountType string

const (
	AccountVista     AccountType = "CTA_VISTA"
	AccountCorriente AccountType = "CTA_CORRIENTE"
	AccountAhorro    AccountType = "CTA_AHORRO"
	AccountPlatinum  AccountType = "CTA_PLATINUM"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountVista, AccountCorriente, AccountAhorro, AccountPlatinum:
		return true
	}
	return false
}

// Status of an alias registration.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusPending  Status = "PENDING"
)

// Alias is a tenant's registration of an alias for one bank account. Only
// the peppered account hash and the last four digits are kept.
type Alias struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	AliasRaw    string      `json:"alias_raw"`
	AliasKey    string      `json:"alias_normalized"`
	Bank        string      `json:"bank_name"`
	AccountType AccountType `json:"account_type"`
	Last4       string      `json:"last_4_digits"`
	AccountHash string      `json:"acc_hash"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// GlobalAlias is the cross-tenant routing record of an active alias.
type GlobalAlias struct {
	AliasKey    string      `json:"alias_normalized"`
	TenantID    string      `json:"tenant_id"`
	AliasID     string      `json:"alias_id"`
	RoutingCode string      `json:"routing_code"`
	AccountType AccountType `json:"account_type"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Registry persists aliases and their global routing records.
type Registry interface {
	// Create stores a and g atomically. An active alias with the same key
	// for the tenant, or globally, yields ErrAliasExists.
	Create(ctx context.Context, a *Alias, g *GlobalAlias) error
	// FindActive returns the tenant's active alias or ErrNotFound.
	FindActive(ctx context.Context, tenantID, aliasKey string) (*Alias, error)
	// Find returns the tenant's most recent alias in any status.
	Find(ctx context.Context, tenantID, aliasKey string) (*Alias, error)
	// Deactivate marks the alias and its global record inactive.
	Deactivate(ctx context.Context, aliasID string, at time.Time) error
	// FindActiveGlobal returns the active global record or ErrNotFound.
	FindActiveGlobal(ctx context.Context, aliasKey string) (*GlobalAlias, error)
	// Remove deletes the alias and its global record. It undoes a Create
	// whose REGISTER event could not be appended.
	Remove(ctx context.Context, aliasID string) error
	// Reactivate marks the alias and its global record active again. It
	// undoes a Deactivate whose DEACTIVATE event could not be appended and
	// yields ErrAliasExists when the key was taken in between.
	Reactivate(ctx context.Context, aliasID string, at time.Time) error
}

var (
	last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)
	// ':' separates fields of the event hash input and must never reach a key.
	aliasPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{4,30}$`)
)

// RegisterCommand carries a registration request.
type RegisterCommand struct {
	TenantID      string
	Alias         string
	Bank          string
	AccountType   AccountType
	Last4         string
	CorrelationID string
}

// Validate checks field formats.
func (c RegisterCommand) Validate() error {
	switch {
	case c.TenantID == "":
		return fmt.Errorf("%w: tenant is required", ErrInvalidAlias)
	case !aliasPattern.MatchString(strings.TrimSpace(c.Alias)):
		return fmt.Errorf("%w: alias must be 4 to 30 letters, digits, '.', '_' or '-'", ErrInvalidAlias)
	case c.Bank == "":
		return fmt.Errorf("%w: bank is required", ErrInvalidAlias)
	case !c.AccountType.Valid():
		return fmt.Errorf("%w: unknown account type %q", ErrInvalidAlias, c.AccountType)
	case !last4Pattern.MatchString(c.Last4):
		return fmt.Errorf("%w: last 4 digits must be exactly 4 digits", ErrInvalidAlias)
	}
	return nil
}

// ResolveResult is the answer to a resolution request.
type ResolveResult struct {
	Found       bool        `json:"found"`
	Alias       string      `json:"alias"`
	Bank        string      `json:"bank_name,omitempty"`
	AccountType AccountType `json:"account_type,omitempty"`
	Last4       string      `json:"last_4_digits,omitempty"`
	Status      Status      `json:"status,omitempty"`
	ResolvedAt  time.Time   `json:"resolved_at,omitempty"`
}

// HistoryEntry is one event of an alias history.
type HistoryEntry struct {
	EventType     string    `json:"event_type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PreviousHash  string    `json:"previous_hash"`
	CurrentHash   string    `json:"current_hash"`
	Timestamp     time.Time `json:"timestamp"`
}

// History is the ordered chain of an alias.
type History struct {
	Alias       string         `json:"alias"`
	TotalEvents int            `json:"total_events"`
	Events      []HistoryEntry `json:"events"`
}
