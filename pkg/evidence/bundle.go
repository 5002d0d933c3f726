// Package evidence produces, verifies and archives the signed daily
// snapshots of the alias chains handed to the regulator. Items carry only
// hashes: tenants are pseudonymized with the pepper and no alias or
// account data leaves the ledger.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
)

const (
	// EmptyDayMarker is hashed as the root of a day without events.
	EmptyDayMarker = "empty_day"

	PeriodLayout    = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05Z"
	tenantHashLen   = 16
)

// Item is the anonymized form of one chain event.
type Item struct {
	Timestamp    string `json:"timestamp"`
	EventType    string `json:"event_type"`
	TenantIDHash string `json:"tenant_id_hash"`
	PayloadHash  string `json:"payload_hash"`
	PreviousHash string `json:"previous_hash"`
	CurrentHash  string `json:"current_hash"`
}

// Bundle is a signed daily evidence snapshot.
type Bundle struct {
	Version          string `json:"version"`
	Issuer           string `json:"issuer"`
	IssuedAt         string `json:"issued_at"`
	Period           string `json:"period"`
	RootHash         string `json:"root_hash"`
	HashChain        []Item `json:"hash_chain"`
	DigitalSignature string `json:"digital_signature"`
	PublicKey        string `json:"public_key"`
}

// TenantHash pseudonymizes a tenant id: the first 16 hex chars of
// SHA-256("tenant|pepper").
func TenantHash(tenantID, pepper string) string {
	return chain.SHA256Hex(tenantID + "|" + pepper)[:tenantHashLen]
}

// NewItem anonymizes ev. Hashes are copied, never recomputed.
func NewItem(ev chain.Event, pepper string) Item {
	return Item{
		Timestamp:    ev.Timestamp.UTC().Format(timestampLayout),
		EventType:    string(ev.Kind),
		TenantIDHash: TenantHash(ev.TenantID, pepper),
		PayloadHash:  ev.CurrentHash,
		PreviousHash: ev.PreviousHash,
		CurrentHash:  ev.CurrentHash,
	}
}

// RootHash summarizes the items of a period in order.
func RootHash(items []Item) string {
	if len(items) == 0 {
		return chain.SHA256Hex(EmptyDayMarker)
	}
	var b strings.Builder
	b.Grow(len(items) * sha256.Size * 2)
	for _, it := range items {
		b.WriteString(it.CurrentHash)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SignedPayload is the exact string covered by the bundle signature.
func SignedPayload(period, rootHash string) string {
	return period + ":" + rootHash
}

// Period formats the UTC calendar day of date.
func Period(date time.Time) string {
	return date.UTC().Format(PeriodLayout)
}
