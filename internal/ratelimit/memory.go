package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memorySweepThreshold bounds the counter map; adding a client beyond it drops past windows first.
const memorySweepThreshold = 4096

type window struct {
	second int64
	count  int
}

// MemoryLimiter counts requests per one-second window inside this process.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]window
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]window)}
}

// Allow counts the request against the current second of key.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	result := Result{Reset: time.Unix(sec+1, 0).UTC()}

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok && len(l.windows) >= memorySweepThreshold {
		l.sweepLocked(sec)
	}
	if w.second != sec {
		w = window{second: sec}
	}
	if w.count >= limit {
		return result, nil
	}
	w.count++
	l.windows[key] = w
	result.Allowed = true
	result.Remaining = limit - w.count
	return result, nil
}

func (l *MemoryLimiter) sweepLocked(sec int64) {
	for key, w := range l.windows {
		if w.second < sec {
			delete(l.windows, key)
		}
	}
}

// Len reports how many client windows are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
