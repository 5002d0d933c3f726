package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisLedger_Integration requires a running Redis and skips otherwise.
func TestRedisLedger_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	prefix := "aliasledger-test-" + uuid.NewString()
	l := NewRedisLedgerWithClient(client, prefix)
	defer func() {
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = l.Close()
	}()

	written := appendN(t, l, "t1", "a", 3, day.Add(time.Hour))

	events, err := l.Events(ctx, "t1", "a")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, written[2].CurrentHash, events[2].CurrentHash)
	assert.True(t, chain.VerifyChain(events).Valid)

	stale := chain.NewEvent("t1", "a", chain.KindResolve, "", written[1].CurrentHash, day.Add(2*time.Hour))
	_, err = l.Append(ctx, stale)
	assert.ErrorIs(t, err, ErrConflict)

	byDay, err := l.EventsByDate(ctx, day, "t1")
	require.NoError(t, err)
	assert.Len(t, byDay, 3)
}
