package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeAlias returns the canonical alias key: surrounding whitespace
// removed, NFC composed and case folded. Chain keys, global lookups and
// alias hashes are all computed over this form.
func NormalizeAlias(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	// Casers carry state and are not shared across goroutines.
	return norm.NFC.String(cases.Fold().String(s))
}

// CalculateEventHash computes the digest linking an event to its
// predecessor. Any time.Time denoting the same instant yields the same
// digest regardless of its location.
func CalculateEventHash(tenantID, aliasKey string, kind EventKind, ts time.Time, previousHash string) string {
	input := strings.Join([]string{
		tenantID,
		aliasKey,
		string(kind),
		FormatHashTimestamp(ts),
		previousHash,
	}, ":")
	return sha256Hex(input)
}

// CalculateAccountHash derives the peppered account fingerprint stored
// instead of account details. An empty pepper is a configuration error.
func CalculateAccountHash(tenantID, bank, accountType, last4, aliasKey, pepper string) (string, error) {
	if pepper == "" {
		return "", config.Missing("ALIAS_PEPPER")
	}
	return sha256Hex(strings.Join([]string{tenantID, bank, accountType, last4, aliasKey, pepper}, "|")), nil
}

// HashEvent recomputes the digest of e from its own fields.
func HashEvent(e Event) string {
	return CalculateEventHash(e.TenantID, e.AliasKey, e.Kind, e.Timestamp, e.PreviousHash)
}

// NewEvent builds the next link after previousHash.
func NewEvent(tenantID, aliasKey string, kind EventKind, correlationID, previousHash string, ts time.Time) Event {
	ts = NormalizeTimestamp(ts)
	return Event{
		TenantID:      tenantID,
		AliasKey:      aliasKey,
		Kind:          kind,
		CorrelationID: correlationID,
		PreviousHash:  previousHash,
		CurrentHash:   CalculateEventHash(tenantID, aliasKey, kind, ts, previousHash),
		Timestamp:     ts,
	}
}

// SHA256Hex is the lowercase hex SHA-256 of s.
func SHA256Hex(s string) string {
	return sha256Hex(s)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
