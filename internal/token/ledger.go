package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome of a ledger consumption attempt.
type Outcome int

const (
	// Consumed means this caller won the unused→used transition.
	Consumed Outcome = iota
	// AlreadyUsed means another redemption consumed the token first.
	AlreadyUsed
	// Missing means the entry expired or never existed.
	Missing
)

// Ledger records single-use token state. Register stores a jti as unused
// with a TTL; Consume performs the unused→used transition as one atomic
// step. Two concurrent Consume calls for the same jti must never both
// observe unused.
type Ledger interface {
	Register(ctx context.Context, jti string, ttl time.Duration) error
	Consume(ctx context.Context, jti string) (Outcome, error)
}

const redisKeyPrefix = "presence:token:"

// consumeScript marks the entry used in the same step that reads it,
// preserving the remaining TTL so a double redemption within the token
// lifetime reports "used" rather than "expired".
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 'missing'
end
if v == 'used' then
	return 'used'
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], 'used', 'PX', ttl)
else
	redis.call('SET', KEYS[1], 'used')
end
return 'ok'
`)

// RedisLedger is the production ledger.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Register(ctx context.Context, jti string, ttl time.Duration) error {
	return l.client.SetEx(ctx, redisKeyPrefix+jti, "unused", ttl).Err()
}

func (l *RedisLedger) Consume(ctx context.Context, jti string) (Outcome, error) {
	res, err := consumeScript.Run(ctx, l.client, []string{redisKeyPrefix + jti}).Result()
	if err != nil {
		return Missing, fmt.Errorf("ledger consume: %w", err)
	}
	switch res {
	case "ok":
		return Consumed, nil
	case "used":
		return AlreadyUsed, nil
	case "missing":
		return Missing, nil
	default:
		return Missing, fmt.Errorf("ledger consume: unexpected result %v", res)
	}
}

type memEntry struct {
	used      bool
	expiresAt time.Time
}

// MemoryLedger is a mutex-guarded ledger for dev and tests with the same
// atomicity guarantee as the Redis script.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemoryLedger creates an in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]memEntry), now: time.Now}
}

func (l *MemoryLedger) Register(_ context.Context, jti string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[jti] = memEntry{expiresAt: l.now().Add(ttl)}
	return nil
}

func (l *MemoryLedger) Consume(_ context.Context, jti string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[jti]
	if !ok || l.now().After(e.expiresAt) {
		delete(l.entries, jti)
		return Missing, nil
	}
	if e.used {
		return AlreadyUsed, nil
	}
	e.used = true
	l.entries[jti] = e
	return Consumed, nil
}
