package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
)

// MemoryLedger keeps events in process. Check and append happen under one
// lock, which makes Append conditional.
type MemoryLedger struct {
	mu     sync.RWMutex
	seq    int64
	chains map[chain.Key][]sequenced
	all    []sequenced
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{chains: make(map[chain.Key][]sequenced)}
}

func (l *MemoryLedger) Append(ctx context.Context, ev chain.Event) (chain.Event, error) {
	if err := validate(ev); err != nil {
		return chain.Event{}, err
	}
	ev.Timestamp = chain.NormalizeTimestamp(ev.Timestamp)

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ev.Key()
	tip := chain.GenesisHash
	if c := l.chains[key]; len(c) > 0 {
		tip = c[len(c)-1].ev.CurrentHash
	}
	if ev.PreviousHash != tip {
		return chain.Event{}, ErrConflict
	}

	l.seq++
	s := sequenced{seq: l.seq, ev: ev}
	l.chains[key] = append(l.chains[key], s)
	l.all = append(l.all, s)
	return ev, nil
}

func (l *MemoryLedger) LastEvent(ctx context.Context, tenantID, aliasKey string) (chain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := l.chains[chain.Key{TenantID: tenantID, AliasKey: aliasKey}]
	if len(c) == 0 {
		return chain.Event{}, ErrNotFound
	}
	return c[len(c)-1].ev, nil
}

func (l *MemoryLedger) Events(ctx context.Context, tenantID, aliasKey string) ([]chain.Event, error) {
	l.mu.RLock()
	c := l.chains[chain.Key{TenantID: tenantID, AliasKey: aliasKey}]
	cp := make([]sequenced, len(c))
	copy(cp, c)
	l.mu.RUnlock()
	return sortEvents(cp), nil
}

func (l *MemoryLedger) EventsByDate(ctx context.Context, date time.Time, tenantID string) ([]chain.Event, error) {
	start, end := DayBounds(date)
	l.mu.RLock()
	var cp []sequenced
	for _, s := range l.all {
		if tenantID != "" && s.ev.TenantID != tenantID {
			continue
		}
		if s.ev.Timestamp.Before(start) || !s.ev.Timestamp.Before(end) {
			continue
		}
		cp = append(cp, s)
	}
	l.mu.RUnlock()
	return sortEvents(cp), nil
}
