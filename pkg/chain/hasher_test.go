package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateEventHash_KnownVector(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	got := CalculateEventHash("tenant-a", "juan.perez@banco.cl", KindRegister, ts, GenesisHash)
	assert.Equal(t, "7f8b0f46a59952f19bdfe3865c36c6bb2a00337fab894f75310b1e1c6896028f", got)
}

func TestCalculateEventHash_ZoneIndependent(t *testing.T) {
	utc := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	santiago := utc.In(time.FixedZone("CLT", -3*60*60))
	withNanos := utc.Add(450 * time.Millisecond)

	a := CalculateEventHash("t", "a", KindResolve, utc, GenesisHash)
	assert.Equal(t, a, CalculateEventHash("t", "a", KindResolve, santiago, GenesisHash))
	assert.Equal(t, a, CalculateEventHash("t", "a", KindResolve, withNanos, GenesisHash))
}

func TestCalculateEventHash_FieldSensitivity(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	base := CalculateEventHash("t", "a", KindRegister, ts, GenesisHash)

	assert.NotEqual(t, base, CalculateEventHash("u", "a", KindRegister, ts, GenesisHash))
	assert.NotEqual(t, base, CalculateEventHash("t", "b", KindRegister, ts, GenesisHash))
	assert.NotEqual(t, base, CalculateEventHash("t", "a", KindDeactivate, ts, GenesisHash))
	assert.NotEqual(t, base, CalculateEventHash("t", "a", KindRegister, ts.Add(time.Second), GenesisHash))
	assert.NotEqual(t, base, CalculateEventHash("t", "a", KindRegister, ts, base))
}

func TestCalculateAccountHash(t *testing.T) {
	h, err := CalculateAccountHash("tenant-a", "Banco de Chile", "CTA_VISTA", "1234", "juan.perez@banco.cl", "pepper")
	require.NoError(t, err)
	assert.Equal(t, "ddc12a83c8c0af1679f526774e185148e7a2d3d5d3278f4bb80d9309748bae24", h)

	_, err = CalculateAccountHash("tenant-a", "Banco de Chile", "CTA_VISTA", "1234", "juan.perez@banco.cl", "")
	var cerr *config.ConfigurationError
	require.True(t, errors.As(err, &cerr))
}

func TestNormalizeAlias(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Juan.Perez@Banco.CL ", "juan.perez@banco.cl"},
		{"JOSÉ", "josé"},
		{"Jose\u0301", "josé"}, // decomposed accent composes to the same key
		{"STRASSE", "strasse"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAlias(tt.in), tt.in)
	}
}

func TestParseEventKind(t *testing.T) {
	k, err := ParseEventKind(" interop_resolve ")
	require.NoError(t, err)
	assert.Equal(t, KindInteropResolve, k)

	_, err = ParseEventKind("DELETE")
	assert.Error(t, err)
	for _, k := range Kinds {
		assert.True(t, k.Valid())
	}
}

func TestNewEvent_NormalizesTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 5, 12, 0, 0, 999, time.FixedZone("X", 3600))
	ev := NewEvent("t", "a", KindRegister, "corr", GenesisHash, ts)

	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, 0, ev.Timestamp.Nanosecond())
	assert.Equal(t, HashEvent(ev), ev.CurrentHash)
	assert.Equal(t, "2024-05-05T11:00:00", FormatHashTimestamp(ev.Timestamp))
}
