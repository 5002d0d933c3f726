package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/chain"
	"github.com/redis/go-redis/v9"
)

// redisAppendScript appends atomically when the chain tip matches.
// KEYS[1] = chain list, KEYS[2] = tip string, KEYS[3] = day list
// ARGV[1] = expected tip, ARGV[2] = encoded event, ARGV[3] = new tip,
// ARGV[4] = genesis hash
var redisAppendScript = redis.NewScript(`
local tip = redis.call("GET", KEYS[2])
if not tip then
    tip = ARGV[4]
end
if tip ~= ARGV[1] then
    return 0
end
redis.call("RPUSH", KEYS[1], ARGV[2])
redis.call("RPUSH", KEYS[3], ARGV[2])
redis.call("SET", KEYS[2], ARGV[3])
return 1
`)

// RedisLedger keeps one list per chain and one list per UTC day.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(addr, password string, db int) *RedisLedger {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLedgerWithClient(rdb, "aliasledger")
}

func NewRedisLedgerWithClient(client *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) chainKey(tenantID, aliasKey string) string {
	sum := sha256.Sum256([]byte(tenantID + "\x00" + aliasKey))
	return fmt.Sprintf("%s:chain:%s", l.prefix, hex.EncodeToString(sum[:16]))
}

func (l *RedisLedger) dayKey(t time.Time) string {
	return fmt.Sprintf("%s:day:%s", l.prefix, t.UTC().Format("2006-01-02"))
}

func (l *RedisLedger) Append(ctx context.Context, ev chain.Event) (chain.Event, error) {
	if err := validate(ev); err != nil {
		return chain.Event{}, err
	}
	ev.Timestamp = chain.NormalizeTimestamp(ev.Timestamp)

	data, err := json.Marshal(ev)
	if err != nil {
		return chain.Event{}, fmt.Errorf("encode event: %w", err)
	}
	ck := l.chainKey(ev.TenantID, ev.AliasKey)
	res, err := redisAppendScript.Run(ctx, l.client,
		[]string{ck, ck + ":tip", l.dayKey(ev.Timestamp)},
		ev.PreviousHash, string(data), ev.CurrentHash, chain.GenesisHash,
	).Int()
	if err != nil {
		return chain.Event{}, fmt.Errorf("redis append: %w", err)
	}
	if res != 1 {
		return chain.Event{}, ErrConflict
	}
	return ev, nil
}

func (l *RedisLedger) LastEvent(ctx context.Context, tenantID, aliasKey string) (chain.Event, error) {
	raw, err := l.client.LIndex(ctx, l.chainKey(tenantID, aliasKey), -1).Result()
	if errors.Is(err, redis.Nil) {
		return chain.Event{}, ErrNotFound
	}
	if err != nil {
		return chain.Event{}, err
	}
	return decodeEvent(raw)
}

func (l *RedisLedger) Events(ctx context.Context, tenantID, aliasKey string) ([]chain.Event, error) {
	return l.list(ctx, l.chainKey(tenantID, aliasKey), func(chain.Event) bool { return true })
}

func (l *RedisLedger) EventsByDate(ctx context.Context, date time.Time, tenantID string) ([]chain.Event, error) {
	return l.list(ctx, l.dayKey(date), func(ev chain.Event) bool {
		return tenantID == "" || ev.TenantID == tenantID
	})
}

func (l *RedisLedger) list(ctx context.Context, key string, keep func(chain.Event) bool) ([]chain.Event, error) {
	raws, err := l.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]sequenced, 0, len(raws))
	for i, raw := range raws {
		ev, err := decodeEvent(raw)
		if err != nil {
			return nil, err
		}
		if keep(ev) {
			items = append(items, sequenced{seq: int64(i), ev: ev})
		}
	}
	return sortEvents(items), nil
}

func decodeEvent(raw string) (chain.Event, error) {
	var ev chain.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return chain.Event{}, fmt.Errorf("corrupt event: %w", err)
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return ev, nil
}
