package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokens are fractional; returned as a string because Lua numbers are
// truncated to integers in replies.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * refill / interval)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', key, math.ceil(interval * capacity / refill))
return {allowed, tostring(tokens)}
`)

// RedisLimiter keeps buckets in Redis so every API replica shares them.
type RedisLimiter struct {
	rdb    *redis.Client
	bucket Bucket
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, prefix string, b Bucket) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, bucket: b.normalized(), prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{"ratelimit:" + l.prefix + ":" + key},
		l.bucket.Capacity,
		l.bucket.Refill,
		l.bucket.Interval.Milliseconds(),
		l.now().UnixMilli(),
	).Slice()
	if err != nil {
		return false, fmt.Errorf("token bucket: %w", err)
	}
	if len(res) == 0 {
		return false, fmt.Errorf("token bucket: empty reply")
	}
	allowed, ok := res[0].(int64)
	if !ok {
		return false, fmt.Errorf("token bucket: unexpected reply %T", res[0])
	}
	return allowed == 1, nil
}
