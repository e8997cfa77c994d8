package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// slidingWindowScript prunes, counts and conditionally appends in one round trip.
// Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < max then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, max - count - 1}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, tonumber(oldest[2])}
`)

// RedisLimiter shares sliding windows between instances through Redis sorted sets
type RedisLimiter struct {
	client   redis.Scripter
	instance string
	seq      atomic.Uint64
	now      func() time.Time
}

func NewRedisLimiter(client redis.Scripter) *RedisLimiter {
	return &RedisLimiter{client: client, instance: uuid.NewString(), now: time.Now}
}

func (l *RedisLimiter) Admit(ctx context.Context, key string, policy Policy) (Decision, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + l.instance + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	result, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisKeyPrefix + key},
		nowMs, policy.Window.Milliseconds(), policy.Max, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(result) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(result))
	}

	if result[0] == 1 {
		return Decision{Allowed: true, Remaining: int(result[1])}, nil
	}

	oldest := time.UnixMilli(result[1])
	return Decision{
		Allowed:    false,
		RetryAfter: retryAfter(oldest, policy.Window, now),
	}, nil
}
