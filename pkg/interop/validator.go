// Package interop answers cross-tenant "does this alias exist" queries
// without disclosing account details, and keeps an audit record of every
// query.
package interop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/audit"
	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
	"github.com/Mindburn-Labs/aliasledger/pkg/directory"
	"github.com/Mindburn-Labs/aliasledger/pkg/ledger"
	"github.com/Mindburn-Labs/aliasledger/pkg/observability"
	"github.com/Mindburn-Labs/aliasledger/pkg/routing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a tenant exceeds its query budget.
var ErrRateLimited = errors.New("interop: rate limit exceeded")

const (
	DetailAliasNotFound      = "ALIAS_NOT_FOUND"
	DetailInvalidRoutingCode = "INVALID_ROUTING_CODE"

	CategoryValidated = "VALIDATED"
	LevelCrossTenant  = "CROSS_TENANT"
)

// GlobalDirectory finds the active global record of an alias.
type GlobalDirectory interface {
	FindActiveGlobal(ctx context.Context, aliasKey string) (*directory.GlobalAlias, error)
}

// Result is the answer to a validation query. Only the hashed alias and
// the routing code leave the owning tenant.
type Result struct {
	Exists              bool      `json:"exists"`
	AliasHash           string    `json:"alias_hash,omitempty"`
	RoutingCode         string    `json:"routing_code,omitempty"`
	AccountTypeCategory string    `json:"account_type_category,omitempty"`
	ValidationLevel     string    `json:"validation_level,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
	Detail              string    `json:"detail,omitempty"`
	CorrelationID       string    `json:"correlation_id"`
}

// Validator runs global validations.
type Validator struct {
	globals  GlobalDirectory
	recorder *audit.Recorder
	writer   *ledger.Writer
	clock    func() time.Time
	tracker  observability.Tracker
	logger   *slog.Logger

	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewValidator(globals GlobalDirectory, recorder *audit.Recorder, writer *ledger.Writer) *Validator {
	return &Validator{
		globals:  globals,
		recorder: recorder,
		writer:   writer,
		clock:    time.Now,
		tracker:  observability.NopTracker(),
		logger:   slog.Default().With("component", "interop"),
		rps:      rate.Inf,
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithClock overrides clock for testing.
func (v *Validator) WithClock(clock func() time.Time) *Validator {
	v.clock = clock
	return v
}

// WithTracker records spans and RED metrics for each validation.
func (v *Validator) WithTracker(t observability.Tracker) *Validator {
	if t != nil {
		v.tracker = t
	}
	return v
}

// WithRateLimit caps queries per requesting tenant. rps <= 0 disables it.
func (v *Validator) WithRateLimit(rps float64, burst int) *Validator {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rps <= 0 {
		v.rps = rate.Inf
	} else {
		v.rps = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	v.burst = burst
	v.limiters = make(map[string]*rate.Limiter)
	return v
}

func (v *Validator) allow(tenantID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rps == rate.Inf {
		return true
	}
	l, ok := v.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(v.rps, v.burst)
		v.limiters[tenantID] = l
	}
	return l.AllowN(v.clock(), 1)
}

// Validate checks whether alias is actively registered by any tenant.
// Every query is recorded in the audit trail, found or not; a query over
// the tenant's budget is recorded as RATE_LIMITED and refused. When the
// record cannot be written the query fails.
func (v *Validator) Validate(ctx context.Context, alias, requestingTenant string) (res *Result, err error) {
	ctx, done := v.tracker.TrackOperation(ctx, "interop.validate", attribute.String("tenant_id", requestingTenant))
	defer func() { done(err) }()

	key := chain.NormalizeAlias(alias)
	if !v.allow(requestingTenant) {
		// Refused before the lookup, so no owner is recorded.
		if _, err := v.recorder.RecordQuery(ctx, requestingTenant, key, "", audit.QueryRateLimited); err != nil {
			return nil, errors.Join(ErrRateLimited, err)
		}
		return nil, ErrRateLimited
	}

	global, err := v.globals.FindActiveGlobal(ctx, key)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("lookup global alias: %w", err)
	}
	if err != nil {
		global = nil
	}

	target := ""
	if global != nil {
		target = global.TenantID
	}
	rec, err := v.recorder.RecordQuery(ctx, requestingTenant, key, target, audit.QueryGlobalValidation)
	if err != nil {
		return nil, err
	}

	now := v.clock().UTC()
	if global == nil {
		return &Result{Exists: false, AliasHash: chain.SHA256Hex(key), Timestamp: now, Detail: DetailAliasNotFound, CorrelationID: rec.CorrelationID}, nil
	}
	if !routing.ValidCode(global.RoutingCode) {
		v.logger.WarnContext(ctx, "global alias has malformed routing code",
			"alias_id", global.AliasID, "routing_code", global.RoutingCode)
		return &Result{Exists: false, AliasHash: chain.SHA256Hex(key), Timestamp: now, Detail: DetailInvalidRoutingCode, CorrelationID: rec.CorrelationID}, nil
	}

	// The event lands on the owner's chain of the alias.
	ev, err := v.writer.AppendAt(ctx, global.TenantID, key, chain.KindInteropResolve, rec.CorrelationID, now)
	if err != nil {
		return nil, err
	}
	return &Result{
		Exists:              true,
		AliasHash:           chain.SHA256Hex(key),
		RoutingCode:         global.RoutingCode,
		AccountTypeCategory: CategoryValidated,
		ValidationLevel:     LevelCrossTenant,
		Timestamp:           ev.Timestamp,
		CorrelationID:       rec.CorrelationID,
	}, nil
}
