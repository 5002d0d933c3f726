package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
	"github.com/Mindburn-Labs/aliasledger/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteLedger(t *testing.T) *SQLLedger {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l := NewSQLLedger(db, database.SQLite)
	require.NoError(t, l.Init(context.Background()))
	return l
}

func backends(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"sqlite": newSQLiteLedger(t),
	}
}

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func appendN(t *testing.T, l Ledger, tenant, alias string, n int, start time.Time) []chain.Event {
	t.Helper()
	ctx := context.Background()
	prev := chain.GenesisHash
	out := make([]chain.Event, 0, n)
	for i := 0; i < n; i++ {
		ev := chain.NewEvent(tenant, alias, chain.KindResolve, "", prev, start.Add(time.Duration(i)*time.Second))
		stored, err := l.Append(ctx, ev)
		require.NoError(t, err)
		out = append(out, stored)
		prev = stored.CurrentHash
	}
	return out
}

func TestLedger_AppendAndRead(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.LastEvent(ctx, "t1", "a")
			assert.ErrorIs(t, err, ErrNotFound)

			written := appendN(t, l, "t1", "a", 3, day.Add(9*time.Hour))

			last, err := l.LastEvent(ctx, "t1", "a")
			require.NoError(t, err)
			assert.Equal(t, written[2].CurrentHash, last.CurrentHash)

			events, err := l.Events(ctx, "t1", "a")
			require.NoError(t, err)
			require.Len(t, events, 3)
			for i := range written {
				assert.Equal(t, written[i].CurrentHash, events[i].CurrentHash)
				assert.True(t, written[i].Timestamp.Equal(events[i].Timestamp))
			}
			assert.True(t, chain.VerifyChain(events).Valid)

			other, err := l.Events(ctx, "t2", "a")
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestLedger_ConditionalAppend(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := chain.NewEvent("t1", "a", chain.KindRegister, "", chain.GenesisHash, day)
			_, err := l.Append(ctx, first)
			require.NoError(t, err)

			stale := chain.NewEvent("t1", "a", chain.KindResolve, "", chain.GenesisHash, day.Add(time.Second))
			_, err = l.Append(ctx, stale)
			assert.ErrorIs(t, err, ErrConflict)

			events, err := l.Events(ctx, "t1", "a")
			require.NoError(t, err)
			assert.Len(t, events, 1, "rejected append must leave no trace")
		})
	}
}

func TestLedger_ConcurrentSameTip(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				committed int
				conflicts int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ev := chain.NewEvent("t1", "race", chain.KindResolve, "", chain.GenesisHash, day.Add(time.Duration(i)*time.Second))
					_, err := l.Append(ctx, ev)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						committed++
					case errors.Is(err, ErrConflict):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, 1, committed)
			assert.Equal(t, writers-1, conflicts)
		})
	}
}

func TestLedger_EventsByDate(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// a straddles midnight, c falls on the next day
			appendN(t, l, "t1", "a", 2, day.Add(-time.Second))
			appendN(t, l, "t2", "b", 2, day.Add(23*time.Hour+59*time.Minute+58*time.Second))
			appendN(t, l, "t1", "c", 1, day.Add(24*time.Hour))

			all, err := l.EventsByDate(ctx, day.Add(5*time.Hour), "")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "a", all[0].AliasKey)
			assert.Equal(t, "b", all[1].AliasKey)

			t2, err := l.EventsByDate(ctx, day, "t2")
			require.NoError(t, err)
			assert.Len(t, t2, 2)

			empty, err := l.EventsByDate(ctx, day.AddDate(0, 1, 0), "")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestLedger_RejectsInvalidEvent(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ev := chain.NewEvent("t1", "a", chain.EventKind("DROP"), "", chain.GenesisHash, day)
			_, err := l.Append(context.Background(), ev)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestTip(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	_, tip, err := Tip(ctx, l, "t", "a")
	require.NoError(t, err)
	assert.Equal(t, chain.GenesisHash, tip)

	written := appendN(t, l, "t", "a", 2, day)
	last, tip, err := Tip(ctx, l, "t", "a")
	require.NoError(t, err)
	assert.Equal(t, written[1].CurrentHash, tip)
	assert.Equal(t, written[1].CurrentHash, last.CurrentHash)
}

func TestDayBounds(t *testing.T) {
	start, end := DayBounds(time.Date(2024, 2, 29, 23, 0, 0, 0, time.FixedZone("X", -5*3600)))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), end)
}
