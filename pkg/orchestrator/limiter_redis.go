package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes atomically.
// KEYS[1] bucket key; ARGV rate/s, capacity, cost, now (seconds), ttl (seconds).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// RedisLimiterStore shares buckets across orchestrator replicas.
type RedisLimiterStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisLimiterStore(client redis.Scripter) *RedisLimiterStore {
	return &RedisLimiterStore{client: client, prefix: "testgov:limiter:", now: time.Now}
}

// NewRedisLimiterStoreFromAddr dials lazily; the first Allow surfaces
// connection errors.
func NewRedisLimiterStoreFromAddr(addr, password string, db int) *RedisLimiterStore {
	return NewRedisLimiterStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func (s *RedisLimiterStore) Allow(ctx context.Context, key string, policy BackpressurePolicy, cost int) (bool, error) {
	rate := policy.perSecond()
	capacity := policy.burst()
	// Long enough for an empty bucket to refill completely.
	ttl := int64(float64(capacity)/rate) + 1
	now := float64(s.now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key}, rate, capacity, cost, now, ttl).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return res == 1, nil
}
