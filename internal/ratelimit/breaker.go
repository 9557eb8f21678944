package ratelimit

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// breaker keeps the Redis backend out of rotation for a fixed window after a failure.
type breaker struct {
	mu     sync.Mutex
	window time.Duration
	until  time.Time
}

func (b *breaker) open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.until.IsZero() {
		return false
	}
	if now.Before(b.until) {
		return true
	}
	b.until = time.Time{}
	return false
}

// trip opens the breaker unless it is already open. Only the first failure of a window is logged.
func (b *breaker) trip(err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.until.IsZero() && now.Before(b.until) {
		return
	}
	b.until = now.Add(b.window)
	log.WithError(err).WithField("retry_at", b.until).Warn("rate limit: redis unavailable, using in-process counters")
}
