package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(n int) []Event {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	kinds := []EventKind{KindRegister, KindResolve, KindInteropResolve, KindResolve, KindDeactivate}
	events := make([]Event, 0, n)
	prev := GenesisHash
	for i := 0; i < n; i++ {
		ev := NewEvent("tenant-a", "alias@bank.cl", kinds[i%len(kinds)], "", prev, start.Add(time.Duration(i)*time.Minute))
		events = append(events, ev)
		prev = ev.CurrentHash
	}
	return events
}

func TestVerifyChain_Empty(t *testing.T) {
	res := VerifyChain(nil)
	assert.True(t, res.Valid)
	assert.Equal(t, 0, res.TotalEvents)
	assert.Empty(t, res.CorruptedIndices)
	assert.Nil(t, res.ChainBreakAt)
	assert.Contains(t, res.Details(), "No events found")
}

func TestVerifyChain_Valid(t *testing.T) {
	events := buildChain(5)
	res := VerifyChain(events)

	require.True(t, res.Valid)
	assert.Empty(t, res.CorruptedIndices)
	assert.Nil(t, res.ChainBreakAt)
	assert.Equal(t, events[4].CurrentHash, res.ExpectedHash)
	assert.Equal(t, events[4].CurrentHash, res.ActualHash)
	assert.Equal(t, 5, res.ValidEvents())
	assert.Equal(t, "Hash chain integrity verified - all 5 events are consistent", res.Details())
}

func TestVerifyChain_BadGenesis(t *testing.T) {
	events := buildChain(3)
	events[0].PreviousHash = "ff" + GenesisHash[2:]

	res := VerifyChain(events)
	require.False(t, res.Valid)
	require.NotNil(t, res.ChainBreakAt)
	assert.Equal(t, 0, *res.ChainBreakAt)
	assert.Contains(t, res.CorruptedIndices, 0)
	assert.Equal(t, HashEvent(events[0]), res.ExpectedHash)
	assert.Equal(t, events[0].CurrentHash, res.ActualHash)
}

func TestVerifyChain_TamperedCurrentHash(t *testing.T) {
	events := buildChain(4)
	events[1].CurrentHash = "deadbeef"

	res := VerifyChain(events)
	require.False(t, res.Valid)
	// index 1 fails its digest, index 2 no longer links to it
	assert.Equal(t, []int{1, 2}, res.CorruptedIndices)
	assert.Equal(t, 1, *res.ChainBreakAt)
	assert.Equal(t, HashEvent(events[1]), res.ExpectedHash)
	assert.Equal(t, "deadbeef", res.ActualHash)
	assert.Equal(t, 2, res.ValidEvents())
	assert.Equal(t, "Chain broken at 2 point(s) - events at indices [1, 2] are corrupted", res.Details())
}

func TestVerifyChain_BrokenLink(t *testing.T) {
	events := buildChain(3)
	original := events[2].PreviousHash
	events[2].PreviousHash = GenesisHash

	res := VerifyChain(events)
	require.False(t, res.Valid)
	assert.Equal(t, []int{2}, res.CorruptedIndices)
	assert.Equal(t, original, res.ExpectedHash)
	assert.Equal(t, GenesisHash, res.ActualHash)
}

func TestVerifyChain_TamperedKind(t *testing.T) {
	events := buildChain(3)
	events[2].Kind = KindDeactivate

	res := VerifyChain(events)
	require.False(t, res.Valid)
	assert.Equal(t, []int{2}, res.CorruptedIndices)
}

func TestVerifyChain_EveryMutationDetected(t *testing.T) {
	for n := 2; n <= 6; n++ {
		for i := 0; i < n; i++ {
			for _, field := range []string{"current", "previous"} {
				events := buildChain(n)
				if field == "current" {
					events[i].CurrentHash = SHA256Hex("tamper")
				} else {
					events[i].PreviousHash = SHA256Hex("tamper")
				}
				res := VerifyChain(events)
				require.False(t, res.Valid, "n=%d i=%d %s", n, i, field)
				assert.Contains(t, res.CorruptedIndices, i)
				assert.Equal(t, res.CorruptedIndices[0], *res.ChainBreakAt)
			}
		}
	}
}

func TestVerificationResponse(t *testing.T) {
	events := buildChain(2)
	resp := VerifyChain(events).Response("alias@bank.cl")

	assert.Equal(t, "alias@bank.cl", resp.Alias)
	assert.True(t, resp.IsValid)
	assert.Equal(t, 2, resp.TotalEvents)
	assert.Equal(t, 2, resp.ValidEvents)
	assert.NotNil(t, resp.CorruptedEvents)
}
