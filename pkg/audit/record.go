// Package audit records cross-tenant interop queries and writes the
// structured audit trail.
package audit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyTenantID is returned when tenant ID is empty.
	ErrEmptyTenantID = errors.New("audit: tenant_id must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrStoreNotConfigured is returned when recording without a backing store.
	ErrStoreNotConfigured = errors.New("audit: store not configured (fail-closed)")
)

// QueryType classifies an interop query.
type QueryType string

const (
	QueryGlobalValidation  QueryType = "GLOBAL_VALIDATION"
	QueryCrossTenantLookup QueryType = "CROSS_TENANT_LOOKUP"
	QueryRoutingResolution QueryType = "ROUTING_RESOLUTION"
	QueryComplianceCheck   QueryType = "COMPLIANCE_CHECK"
	QueryFraudValidation   QueryType = "FRAUD_VALIDATION"
	// QueryRateLimited marks a validation refused by the tenant's query budget.
	QueryRateLimited QueryType = "RATE_LIMITED"
)

func (q QueryType) Valid() bool {
	switch q {
	case QueryGlobalValidation, QueryCrossTenantLookup, QueryRoutingResolution, QueryComplianceCheck, QueryFraudValidation,
		QueryRateLimited:
		return true
	}
	return false
}

// InteropRecord is one append-only entry of the interop audit trail.
// TargetTenant is empty when the alias was not found.
type InteropRecord struct {
	ID               string    `json:"id"`
	Sequence         uint64    `json:"sequence"`
	RequestingTenant string    `json:"requesting_tenant_id"`
	AliasKey         string    `json:"alias_normalized"`
	TargetTenant     string    `json:"target_tenant_id,omitempty"`
	QueryType        QueryType `json:"query_type"`
	CorrelationID    string    `json:"correlation_id"`
	Timestamp        time.Time `json:"timestamp"`
}

// CrossTenant reports whether the query reached another tenant's alias.
func (r InteropRecord) CrossTenant() bool {
	return r.TargetTenant != "" && r.TargetTenant != r.RequestingTenant
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	RequestingTenant string
	TargetTenant     string
	Start            *time.Time
	End              *time.Time
	CrossTenantOnly  bool
}

// Matches reports whether r passes f.
func (f Filter) Matches(r InteropRecord) bool {
	switch {
	case f.RequestingTenant != "" && r.RequestingTenant != f.RequestingTenant:
		return false
	case f.TargetTenant != "" && r.TargetTenant != f.TargetTenant:
		return false
	case f.Start != nil && r.Timestamp.Before(*f.Start):
		return false
	case f.End != nil && r.Timestamp.After(*f.End):
		return false
	case f.CrossTenantOnly && !r.CrossTenant():
		return false
	}
	return true
}

// Store is an append-only interop audit store.
type Store interface {
	// Append assigns ID and Sequence when unset and persists rec.
	Append(ctx context.Context, rec *InteropRecord) error
	// Query returns matching records in append order.
	Query(ctx context.Context, f Filter) ([]InteropRecord, error)
}

// CrossTenantQueries lists queries by other tenants that reached
// tenantID's aliases.
func CrossTenantQueries(ctx context.Context, s Store, tenantID string) ([]InteropRecord, error) {
	if tenantID == "" {
		return nil, ErrEmptyTenantID
	}
	return s.Query(ctx, Filter{TargetTenant: tenantID, CrossTenantOnly: true})
}
