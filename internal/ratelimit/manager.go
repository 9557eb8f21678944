package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	redisBreakerDuration = 30 * time.Second
	redisPingTimeout     = 2 * time.Second
)

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// redisBackend is a connected Redis limiter and the settings it was built from.
type redisBackend struct {
	limiter *RedisLimiter
	addr    string
	pass    string
	prefix  string
	db      int
}

func (b *redisBackend) matches(cfg SettingsConfig) bool {
	return b != nil && b.addr == cfg.RedisAddr && b.pass == cfg.RedisPassword &&
		b.prefix == cfg.RedisPrefix && b.db == cfg.RedisDB
}

// Manager enforces the admin API request limit, preferring Redis when configured
// and falling back to in-process counters while Redis is unreachable.
type Manager struct {
	settings SettingsProvider
	now      func() time.Time
	dial     RedisClientFactory
	memory   *MemoryLimiter
	breaker  *breaker

	mu    sync.Mutex
	redis *redisBackend
}

// NewManager constructs a Manager. Nil arguments select defaults; a nil provider disables limiting.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = func() SettingsConfig { return SettingsConfig{} }
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		settings: provider,
		now:      nowFn,
		dial:     newRedisClient,
		memory:   NewMemoryLimiter(),
		breaker:  &breaker{window: redisBreakerDuration},
	}
}

// Limit returns the configured requests per second; zero means unlimited.
func (m *Manager) Limit() int {
	if m == nil {
		return 0
	}
	return m.settings().Limit
}

// AllowClient applies the configured limit to one client address.
func (m *Manager) AllowClient(ctx context.Context, clientIP string) (Result, error) {
	if m == nil {
		return Result{Allowed: true}, nil
	}
	cfg := m.settings()
	return m.allow(ctx, KeyForClient(clientIP), cfg.Limit, cfg)
}

// Allow checks key against limit using the best available backend.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil {
		return Result{Allowed: true}, nil
	}
	return m.allow(ctx, key, limit, m.settings())
}

func (m *Manager) allow(ctx context.Context, key string, limit int, cfg SettingsConfig) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.now()
	if cfg.RedisEnabled && !m.breaker.open(now) {
		result, errRedis := m.allowRedis(ctx, key, limit, now, cfg)
		if errRedis == nil {
			result.Backend = BackendRedis
			return result, nil
		}
		m.breaker.trip(errRedis, now)
	}
	result, errMemory := m.memory.Allow(ctx, key, limit, now)
	result.Backend = BackendMemory
	return result, errMemory
}

func (m *Manager) allowRedis(ctx context.Context, key string, limit int, now time.Time, cfg SettingsConfig) (Result, error) {
	limiter, errConnect := m.connect(ctx, cfg)
	if errConnect != nil {
		return Result{}, errConnect
	}
	return limiter.Allow(ctx, key, limit, now)
}

// connect returns the Redis limiter for cfg, replacing a client built from older settings.
func (m *Manager) connect(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.RedisPassword = strings.TrimSpace(cfg.RedisPassword)
	cfg.RedisPrefix = strings.TrimSpace(cfg.RedisPrefix)
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis.matches(cfg) {
		return m.redis.limiter, nil
	}
	m.closeRedisLocked()

	client := m.dial(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redis = &redisBackend{
		limiter: NewRedisLimiter(client, cfg.RedisPrefix),
		addr:    cfg.RedisAddr,
		pass:    cfg.RedisPassword,
		prefix:  cfg.RedisPrefix,
		db:      cfg.RedisDB,
	}
	log.WithFields(log.Fields{"addr": cfg.RedisAddr, "db": cfg.RedisDB}).Info("rate limit: redis backend connected")
	return m.redis.limiter, nil
}

func (m *Manager) closeRedisLocked() error {
	if m.redis == nil {
		return nil
	}
	errClose := m.redis.limiter.client.Close()
	m.redis = nil
	return errClose
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeRedisLocked()
}
