package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder persists interop records and mirrors each one to the audit
// log. It fails closed on the store: without a persisted record the caller
// gets an error. The store is the trail of record, so a failed audit line
// after a successful append is logged and the record is still returned.
type Recorder struct {
	store  Store
	logger Logger
	clock  func() time.Time
	log    *slog.Logger
}

func NewRecorder(s Store, l Logger) *Recorder {
	return &Recorder{store: s, logger: l, clock: time.Now, log: slog.Default().With("component", "audit")}
}

// WithClock overrides clock for testing.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

// RecordQuery stores a new record with a fresh correlation id and returns it.
func (r *Recorder) RecordQuery(ctx context.Context, requestingTenant, aliasKey, targetTenant string, qt QueryType) (*InteropRecord, error) {
	if r.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if requestingTenant == "" {
		return nil, ErrEmptyTenantID
	}
	if !qt.Valid() {
		return nil, fmt.Errorf("audit: unknown query type %q", qt)
	}

	rec := &InteropRecord{
		ID:               uuid.NewString(),
		RequestingTenant: requestingTenant,
		AliasKey:         aliasKey,
		TargetTenant:     targetTenant,
		QueryType:        qt,
		CorrelationID:    uuid.NewString(),
		Timestamp:        r.clock().UTC(),
	}
	if err := r.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("audit: append interop record: %w", err)
	}

	if r.logger != nil {
		err := r.logger.Record(WithTenant(ctx, requestingTenant), EventInterop, string(qt), "alias:"+aliasKey, map[string]interface{}{
			"correlation_id":   rec.CorrelationID,
			"target_tenant_id": targetTenant,
			"cross_tenant":     rec.CrossTenant(),
		})
		if err != nil {
			r.log.ErrorContext(ctx, "audit line not written for persisted interop record",
				"record_id", rec.ID, "sequence", rec.Sequence, "correlation_id", rec.CorrelationID, "error", err)
		}
	}
	return rec, nil
}
