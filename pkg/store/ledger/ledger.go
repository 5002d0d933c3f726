// Package ledger stores alias chain events. Every backend offers a
// conditional append: an event commits only when its previous hash is the
// current tip of its chain.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
)

var (
	// ErrNotFound is returned when a chain has no events.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the chain tip moved between read and append.
	ErrConflict = errors.New("chain tip changed")
	// ErrInvalidEvent is returned for events that cannot be stored.
	ErrInvalidEvent = errors.New("invalid event")
)

// Reader is the read side of the ledger.
type Reader interface {
	// LastEvent returns the tip of a chain or ErrNotFound.
	LastEvent(ctx context.Context, tenantID, aliasKey string) (chain.Event, error)
	// Events returns a chain in timestamp order, ties in insertion order.
	Events(ctx context.Context, tenantID, aliasKey string) ([]chain.Event, error)
	// EventsByDate returns the events whose timestamp falls on the UTC day
	// of date, in the same order. An empty tenantID selects every tenant.
	EventsByDate(ctx context.Context, date time.Time, tenantID string) ([]chain.Event, error)
}

// Appender is the write side of the ledger.
type Appender interface {
	// Append commits ev if ev.PreviousHash is the chain tip (GenesisHash
	// for an empty chain) and returns ErrConflict otherwise.
	Append(ctx context.Context, ev chain.Event) (chain.Event, error)
}

// Ledger combines both sides.
type Ledger interface {
	Reader
	Appender
}

// DayBounds returns the half-open UTC interval [start, end) of date's day.
func DayBounds(date time.Time) (time.Time, time.Time) {
	d := date.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Tip returns the hash a new event must link to.
func Tip(ctx context.Context, r Reader, tenantID, aliasKey string) (chain.Event, string, error) {
	last, err := r.LastEvent(ctx, tenantID, aliasKey)
	if errors.Is(err, ErrNotFound) {
		return chain.Event{}, chain.GenesisHash, nil
	}
	if err != nil {
		return chain.Event{}, "", err
	}
	return last, last.CurrentHash, nil
}

func validate(ev chain.Event) error {
	switch {
	case ev.TenantID == "" || ev.AliasKey == "":
		return fmt.Errorf("%w: tenant and alias are required", ErrInvalidEvent)
	case !ev.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	case len(ev.PreviousHash) != 64 || len(ev.CurrentHash) != 64:
		return fmt.Errorf("%w: hashes must be 64 hex characters", ErrInvalidEvent)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	return nil
}

type sequenced struct {
	seq int64
	ev  chain.Event
}

func sortEvents(in []sequenced) []chain.Event {
	sort.SliceStable(in, func(i, j int) bool {
		if !in[i].ev.Timestamp.Equal(in[j].ev.Timestamp) {
			return in[i].ev.Timestamp.Before(in[j].ev.Timestamp)
		}
		return in[i].seq < in[j].seq
	})
	out := make([]chain.Event, len(in))
	for i, s := range in {
		out[i] = s.ev
	}
	return out
}
