// Package chain defines lifecycle events and the hash chain that links
// them per (tenant, alias).
package chain

import (
	"fmt"
	"strings"
	"time"
)

// GenesisHash is the previous hash of the first event of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventKind identifies a lifecycle transition. The set is closed.
type EventKind string

const (
	KindRegister       EventKind = "REGISTER"
	KindResolve        EventKind = "RESOLVE"
	KindDeactivate     EventKind = "DEACTIVATE"
	KindInteropResolve EventKind = "INTEROP_RESOLVE"
)

// Kinds lists every EventKind in declaration order.
var Kinds = []EventKind{KindRegister, KindResolve, KindDeactivate, KindInteropResolve}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindRegister, KindResolve, KindDeactivate, KindInteropResolve:
		return true
	}
	return false
}

// ParseEventKind maps a stored or user supplied value to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// Event is one immutable link of an alias chain.
type Event struct {
	TenantID      string    `json:"tenant_id"`
	AliasKey      string    `json:"alias_normalized"`
	Kind          EventKind `json:"event_type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PreviousHash  string    `json:"previous_hash"`
	CurrentHash   string    `json:"current_hash"`
	Timestamp     time.Time `json:"timestamp"`
}

// Key identifies the chain an event belongs to.
type Key struct {
	TenantID string
	AliasKey string
}

func (k Key) String() string {
	return k.TenantID + ":" + k.AliasKey
}

// Key returns the chain key of e.
func (e Event) Key() Key {
	return Key{TenantID: e.TenantID, AliasKey: e.AliasKey}
}

// NormalizeTimestamp reduces t to the form that takes part in hashing:
// UTC, whole seconds. Events are stored with normalized timestamps so a
// verifier recomputing the digest sees the same input.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// hashTimestampLayout has no zone suffix; the instant is always UTC.
const hashTimestampLayout = "2006-01-02T15:04:05"

// FormatHashTimestamp renders t as it appears in the event digest input.
func FormatHashTimestamp(t time.Time) string {
	return NormalizeTimestamp(t).Format(hashTimestampLayout)
}
