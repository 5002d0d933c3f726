// Package ledger runs the append protocol for alias chains: read the tip,
// hash the new event against it, and commit conditionally, retrying with
// bounded backoff when another writer moved the tip first.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
	"github.com/Mindburn-Labs/aliasledger/pkg/retry"
	store "github.com/Mindburn-Labs/aliasledger/pkg/store/ledger"
	"github.com/google/uuid"
)

// ErrAppendContention is returned when every attempt lost the race for the
// chain tip. It wraps store.ErrConflict.
var ErrAppendContention = fmt.Errorf("concurrent append conflict: %w", store.ErrConflict)

// DefaultPolicy bounds the append retry loop.
var DefaultPolicy = retry.BackoffPolicy{
	PolicyID:    "chain-append",
	BaseMs:      10,
	MaxMs:       500,
	MaxJitterMs: 10,
	MaxAttempts: 5,
}

// Writer appends lifecycle events.
type Writer struct {
	store  store.Ledger
	policy retry.BackoffPolicy
	clock  func() time.Time
	sleep  func(context.Context, time.Duration) error
	id     string
	logger *slog.Logger
}

// NewWriter creates a Writer over s.
func NewWriter(s store.Ledger) *Writer {
	return &Writer{
		store:  s,
		policy: DefaultPolicy,
		clock:  time.Now,
		sleep:  retry.Sleep,
		id:     uuid.NewString(),
		logger: slog.Default().With("component", "chain-writer"),
	}
}

// WithClock overrides clock for testing.
func (w *Writer) WithClock(clock func() time.Time) *Writer {
	w.clock = clock
	return w
}

// WithPolicy overrides the retry policy.
func (w *Writer) WithPolicy(p retry.BackoffPolicy) *Writer {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	w.policy = p
	return w
}

// WithSleep overrides how the writer waits between attempts.
func (w *Writer) WithSleep(sleep func(context.Context, time.Duration) error) *Writer {
	w.sleep = sleep
	return w
}

// Store returns the underlying ledger.
func (w *Writer) Store() store.Ledger {
	return w.store
}

// Append records kind on the chain of (tenantID, aliasKey) at the current
// clock time.
func (w *Writer) Append(ctx context.Context, tenantID, aliasKey string, kind chain.EventKind, correlationID string) (chain.Event, error) {
	return w.AppendAt(ctx, tenantID, aliasKey, kind, correlationID, time.Time{})
}

// AppendAt records kind with timestamp at, or the clock time when at is
// zero. A timestamp older than the tip is raised to the tip's timestamp
// so that timestamp order and chain order agree.
func (w *Writer) AppendAt(ctx context.Context, tenantID, aliasKey string, kind chain.EventKind, correlationID string, at time.Time) (chain.Event, error) {
	if !kind.Valid() {
		return chain.Event{}, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidEvent, kind)
	}

	key := chain.Key{TenantID: tenantID, AliasKey: aliasKey}.String()
	for attempt := 0; attempt < w.policy.MaxAttempts; attempt++ {
		last, tip, err := store.Tip(ctx, w.store, tenantID, aliasKey)
		if err != nil {
			return chain.Event{}, fmt.Errorf("read chain tip: %w", err)
		}

		ts := at
		if ts.IsZero() {
			ts = w.clock()
		}
		if tip != chain.GenesisHash && ts.Before(last.Timestamp) {
			ts = last.Timestamp
		}

		ev := chain.NewEvent(tenantID, aliasKey, kind, correlationID, tip, ts)
		stored, err := w.store.Append(ctx, ev)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return chain.Event{}, fmt.Errorf("append %s event: %w", kind, err)
		}

		if attempt == w.policy.MaxAttempts-1 {
			break
		}
		delay := retry.ComputeBackoff(retry.BackoffParams{
			PolicyID:     w.policy.PolicyID,
			Key:          key,
			Writer:       w.id,
			AttemptIndex: attempt,
		}, w.policy)
		w.logger.DebugContext(ctx, "chain tip moved, retrying append",
			"tenant_id", tenantID, "kind", kind, "attempt", attempt+1, "delay", delay)
		if err := w.sleep(ctx, delay); err != nil {
			return chain.Event{}, err
		}
	}

	w.logger.WarnContext(ctx, "append retries exhausted",
		"tenant_id", tenantID, "kind", kind, "attempts", w.policy.MaxAttempts)
	return chain.Event{}, ErrAppendContention
}
