package ratelimit

import (
	"context"
	"time"
)

// Backend names the counter store that decided a request.
type Backend string

// Backend values.
const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
	Backend   Backend
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}
