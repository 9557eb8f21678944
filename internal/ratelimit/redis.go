package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWindowTTL outlives the one-second window so late increments still expire.
const redisWindowTTL = 2 * time.Second

// RedisLimiter counts requests per one-second window in Redis, shared by every router instance.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow increments the counter of the current window and compares it with limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	windowKey := l.windowKey(key, sec)

	var incr *redis.IntCmd
	if _, errPipe := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.Expire(ctx, windowKey, redisWindowTTL)
		return nil
	}); errPipe != nil {
		return Result{}, fmt.Errorf("rate limit redis: %w", errPipe)
	}

	count := incr.Val()
	result := Result{Reset: time.Unix(sec+1, 0).UTC()}
	if count > int64(limit) {
		return result, nil
	}
	result.Allowed = true
	result.Remaining = limit - int(count)
	return result, nil
}

// windowKey yields "<prefix>:<client key>:<unix second>".
func (l *RedisLimiter) windowKey(key string, sec int64) string {
	if l.prefix == "" {
		return key + ":" + strconv.FormatInt(sec, 10)
	}
	return l.prefix + ":" + key + ":" + strconv.FormatInt(sec, 10)
}
