package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript performs an atomic refill-then-consume against a single
// Redis hash so concurrent registry instances share one bucket per key
// without a round trip per check-then-set.
//
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens/sec)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, float)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

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

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens, rate}
`)

// RedisLimiter is the cluster-coordinated Limiter: every instance executes
// the same atomic Lua script against a shared Redis, approximating a global
// budget per spec.md §4.9's "best-effort cluster coordination".
type RedisLimiter struct {
	client   *redis.Client
	policies map[Class]Policy
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client *redis.Client, policies map[Class]Policy) *RedisLimiter {
	return &RedisLimiter{client: client, policies: policies}
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, key string, class Class) (bool, time.Duration, error) {
	p := policyFor(r.policies, class)
	rate := float64(p.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}
	capacity := p.Burst
	if capacity <= 0 {
		capacity = p.RPM
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, r.client, []string{"ratelimit:" + key}, rate, capacity, 1, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 3 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script response")
	}
	allowed, _ := results[0].(int64)
	tokens, _ := toFloat(results[1])
	if allowed == 1 {
		return true, 0, nil
	}
	deficit := 1 - tokens
	wait := time.Duration(deficit/rate*1000) * time.Millisecond
	return false, wait, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		var f float64
		_, err := fmt.Sscanf(n, "%f", &f)
		return f, err == nil
	default:
		return 0, false
	}
}
