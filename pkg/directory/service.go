package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
	"github.com/Mindburn-Labs/aliasledger/pkg/config"
	"github.com/Mindburn-Labs/aliasledger/pkg/ledger"
	"github.com/Mindburn-Labs/aliasledger/pkg/observability"
	"github.com/Mindburn-Labs/aliasledger/pkg/routing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Service runs the alias lifecycle and records every transition on the
// alias chain.
type Service struct {
	registry Registry
	writer   *ledger.Writer
	routes   *routing.Table
	pepper   string
	clock    func() time.Time
	tracker  observability.Tracker
	logger   *slog.Logger
}

// NewService validates the pepper up front: a service that cannot hash
// accounts must not start.
func NewService(registry Registry, writer *ledger.Writer, routes *routing.Table, pepper string) (*Service, error) {
	if err := config.ValidatePepper(pepper); err != nil {
		return nil, err
	}
	if routes == nil {
		routes = routing.Default()
	}
	return &Service{
		registry: registry,
		writer:   writer,
		routes:   routes,
		pepper:   pepper,
		clock:    time.Now,
		tracker:  observability.NopTracker(),
		logger:   slog.Default().With("component", "directory"),
	}, nil
}

// WithClock overrides clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	s.writer.WithClock(clock)
	return s
}

// WithTracker records spans and RED metrics for each operation.
func (s *Service) WithTracker(t observability.Tracker) *Service {
	if t != nil {
		s.tracker = t
	}
	return s
}

func correlation(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// Register creates an alias and appends REGISTER to its chain.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (alias *Alias, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "directory.register", attribute.String("tenant_id", cmd.TenantID))
	defer func() { done(err) }()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	key := chain.NormalizeAlias(cmd.Alias)

	if _, err := s.registry.FindActive(ctx, cmd.TenantID, key); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAliasExists, key)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup alias: %w", err)
	}
	if _, err := s.registry.FindActiveGlobal(ctx, key); err == nil {
		return nil, fmt.Errorf("%w globally: %s", ErrAliasExists, key)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup global alias: %w", err)
	}

	accHash, err := chain.CalculateAccountHash(cmd.TenantID, cmd.Bank, string(cmd.AccountType), cmd.Last4, key, s.pepper)
	if err != nil {
		return nil, err
	}

	now := chain.NormalizeTimestamp(s.clock())
	a := &Alias{
		ID:          uuid.NewString(),
		TenantID:    cmd.TenantID,
		AliasRaw:    cmd.Alias,
		AliasKey:    key,
		Bank:        cmd.Bank,
		AccountType: cmd.AccountType,
		Last4:       cmd.Last4,
		AccountHash: accHash,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	g := &GlobalAlias{
		AliasKey:    key,
		TenantID:    cmd.TenantID,
		AliasID:     a.ID,
		RoutingCode: s.routes.Code(cmd.Bank),
		AccountType: cmd.AccountType,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.registry.Create(ctx, a, g); err != nil {
		return nil, err
	}

	if _, err := s.writer.AppendAt(ctx, a.TenantID, key, chain.KindRegister, correlation(cmd.CorrelationID), now); err != nil {
		return nil, s.undo(ctx, "register", a.ID, err, func(ctx context.Context) error {
			return s.registry.Remove(ctx, a.ID)
		})
	}
	s.logger.InfoContext(ctx, "alias registered", "tenant_id", a.TenantID, "alias_id", a.ID, "routing_code", g.RoutingCode)
	return a, nil
}

// undo reverts a registry write whose chain event was not appended, so the
// registry never holds a state the chain does not record. It runs even when
// ctx is cancelled and returns appendErr joined with any revert failure.
func (s *Service) undo(ctx context.Context, op, aliasID string, appendErr error, revert func(context.Context) error) error {
	if err := revert(context.WithoutCancel(ctx)); err != nil {
		s.logger.ErrorContext(ctx, "registry change not reverted after failed append",
			"op", op, "alias_id", aliasID, "append_error", appendErr, "error", err)
		return errors.Join(appendErr, fmt.Errorf("revert %s: %w", op, err))
	}
	s.logger.WarnContext(ctx, "registry change reverted after failed append", "op", op, "alias_id", aliasID, "error", appendErr)
	return appendErr
}

// ResolveQuery carries a resolution request.
type ResolveQuery struct {
	TenantID      string
	Alias         string
	CorrelationID string
}

// Resolve returns the tenant's active alias and appends RESOLVE. An unknown
// alias is a negative result, not an error, and leaves the chain untouched.
func (s *Service) Resolve(ctx context.Context, q ResolveQuery) (res *ResolveResult, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "directory.resolve", attribute.String("tenant_id", q.TenantID))
	defer func() { done(err) }()

	key := chain.NormalizeAlias(q.Alias)
	a, err := s.registry.FindActive(ctx, q.TenantID, key)
	if errors.Is(err, ErrNotFound) {
		return &ResolveResult{Found: false, Alias: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup alias: %w", err)
	}

	ev, err := s.writer.Append(ctx, q.TenantID, key, chain.KindResolve, correlation(q.CorrelationID))
	if err != nil {
		return nil, err
	}
	return &ResolveResult{
		Found:       true,
		Alias:       key,
		Bank:        a.Bank,
		AccountType: a.AccountType,
		Last4:       a.Last4,
		Status:      a.Status,
		ResolvedAt:  ev.Timestamp,
	}, nil
}

// DeactivateCommand carries a deactivation request.
type DeactivateCommand struct {
	TenantID      string
	Alias         string
	CorrelationID string
}

// Deactivate marks an alias inactive and appends DEACTIVATE. It returns
// false for an unknown alias and true without a new event when the alias
// is already inactive.
func (s *Service) Deactivate(ctx context.Context, cmd DeactivateCommand) (ok bool, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "directory.deactivate", attribute.String("tenant_id", cmd.TenantID))
	defer func() { done(err) }()

	key := chain.NormalizeAlias(cmd.Alias)
	a, err := s.registry.Find(ctx, cmd.TenantID, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup alias: %w", err)
	}
	if a.Status == StatusInactive {
		return true, nil
	}

	now := chain.NormalizeTimestamp(s.clock())
	if err := s.registry.Deactivate(ctx, a.ID, now); err != nil {
		return false, fmt.Errorf("deactivate alias: %w", err)
	}
	if _, err := s.writer.AppendAt(ctx, cmd.TenantID, key, chain.KindDeactivate, correlation(cmd.CorrelationID), now); err != nil {
		return false, s.undo(ctx, "deactivate", a.ID, err, func(ctx context.Context) error {
			return s.registry.Reactivate(ctx, a.ID, a.UpdatedAt)
		})
	}
	s.logger.InfoContext(ctx, "alias deactivated", "tenant_id", cmd.TenantID, "alias_id", a.ID)
	return true, nil
}

// History returns the chain of an alias in order.
func (s *Service) History(ctx context.Context, tenantID, alias string) (*History, error) {
	key := chain.NormalizeAlias(alias)
	events, err := s.writer.Store().Events(ctx, tenantID, key)
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}
	h := &History{Alias: key, TotalEvents: len(events), Events: make([]HistoryEntry, len(events))}
	for i, ev := range events {
		h.Events[i] = HistoryEntry{
			EventType:     string(ev.Kind),
			CorrelationID: ev.CorrelationID,
			PreviousHash:  ev.PreviousHash,
			CurrentHash:   ev.CurrentHash,
			Timestamp:     ev.Timestamp,
		}
	}
	return h, nil
}

// VerifyChain checks the integrity of an alias chain.
func (s *Service) VerifyChain(ctx context.Context, tenantID, alias string) (resp *chain.VerificationResponse, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "directory.verify_chain", attribute.String("tenant_id", tenantID))
	defer func() { done(err) }()

	key := chain.NormalizeAlias(alias)
	events, err := s.writer.Store().Events(ctx, tenantID, key)
	if err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}
	v := chain.VerifyChain(events)
	if !v.Valid {
		s.logger.WarnContext(ctx, "hash chain integrity violation",
			"tenant_id", tenantID, "corrupted", v.CorruptedIndices, "break_at", *v.ChainBreakAt)
	}
	out := v.Response(key)
	return &out, nil
}
