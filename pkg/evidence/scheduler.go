package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler produces the bundle of the previous UTC day once per tick,
// skipping periods already archived.
type Scheduler struct {
	generator *Generator
	archiver  *Archiver
	index     Index
	tenantID  string
	interval  time.Duration
	clock     func() time.Time
	logger    *slog.Logger
}

func NewScheduler(g *Generator, a *Archiver, idx Index, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		generator: g,
		archiver:  a,
		index:     idx,
		interval:  interval,
		clock:     time.Now,
		logger:    slog.Default().With("component", "evidence-scheduler"),
	}
}

// ForTenant restricts scheduled bundles to one tenant.
func (s *Scheduler) ForTenant(tenantID string) *Scheduler {
	s.tenantID = tenantID
	return s
}

// WithClock overrides clock for testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// RunOnce archives the bundle of the day before now. produced is false
// when the period was already archived.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (ref string, produced bool, err error) {
	day := now.UTC().AddDate(0, 0, -1)
	period := Period(day)

	if ref, ok, err := s.index.Lookup(ctx, period, s.tenantID); err != nil {
		return "", false, fmt.Errorf("lookup archive index: %w", err)
	} else if ok {
		return ref, false, nil
	}

	bundle, err := s.generator.Generate(ctx, day, s.tenantID)
	if err != nil {
		return "", false, err
	}
	ref, err = s.archiver.Archive(ctx, bundle)
	if err != nil {
		return "", false, err
	}
	if err := s.index.Record(ctx, period, s.tenantID, ref); err != nil {
		if errors.Is(err, ErrAlreadyArchived) {
			// Another instance won the race; its bundle is the record.
			existing, _, lerr := s.index.Lookup(ctx, period, s.tenantID)
			return existing, false, lerr
		}
		return "", false, fmt.Errorf("record archive index: %w", err)
	}
	s.logger.InfoContext(ctx, "scheduled evidence produced", "period", period, "ref", ref, "events", len(bundle.HashChain))
	return ref, true, nil
}

// Run ticks until ctx is cancelled. Failures are logged and retried on
// the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, _, err := s.RunOnce(ctx, s.clock()); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "scheduled evidence failed", "error", err)
	}
}
