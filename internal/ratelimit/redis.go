package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WIREMI/wiremi-auth/internal/utils"
)

// slidingWindowScript keeps one sorted set per key whose member scores are
// request timestamps in milliseconds. Expired members are trimmed before
// counting so the window truly slides instead of stepping.
var slidingWindowScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local window_ms = tonumber(ARGV[2])
    local limit = tonumber(ARGV[3])
    local member = ARGV[4]

    redis.call('ZREMRANGEBYSCORE', key, 0, now_ms - window_ms)
    local count = redis.call('ZCARD', key)

    if count < limit then
        redis.call('ZADD', key, now_ms, member)
        redis.call('PEXPIRE', key, window_ms)
        return { 1, limit - count - 1, 0 }
    end

    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local retry_ms = 0
    if oldest[2] then
        retry_ms = (tonumber(oldest[2]) + window_ms) - now_ms
        if retry_ms < 0 then retry_ms = 0 end
    end
    return { 0, 0, retry_ms }
`)

// RedisLimiter is the shared sliding-window limiter. State lives in redis
// so every instance of the service enforces one budget per caller.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLimiter(rdb *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix}
}

func (l *RedisLimiter) key(key string) string { return l.prefix + ":" + key }

// Allow consumes one slot in the caller's window, or reports when the
// window frees up.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	suffix, err := utils.SecureRandomToken(6)
	if err != nil {
		return Result{}, err
	}
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)

	vals, err := slidingWindowScript.Run(ctx, l.rdb, []string{l.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit, member).Result()
	if err != nil {
		return Result{}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result %#v", vals)
	}

	res := Result{
		Allowed:   asInt64(arr[0]) == 1,
		Limit:     limit,
		Remaining: int(asInt64(arr[1])),
		Member:    member,
	}
	retryMs := asInt64(arr[2])
	if res.Allowed {
		res.ResetAt = now.Add(window)
	} else {
		res.RetryAfter = time.Duration(retryMs) * time.Millisecond
		res.ResetAt = now.Add(res.RetryAfter)
	}
	return res, nil
}

// Refund releases a previously consumed slot. Used by route classes where
// successful requests do not count against the budget.
func (l *RedisLimiter) Refund(ctx context.Context, key, member string) error {
	return l.rdb.ZRem(ctx, l.key(key), member).Err()
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}
