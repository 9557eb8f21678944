package ratelimit

import (
	"strings"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
)

// SettingsConfig captures the admin API rate limit settings.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// LoadSettingsConfig reads the current rate limit snapshot from store.
func LoadSettingsConfig(store *settings.Store) SettingsConfig {
	cfg := SettingsConfig{
		Limit:       settings.DefaultRateLimit,
		RedisPrefix: settings.DefaultRateLimitRedisPrefix,
	}
	if store == nil {
		return cfg
	}
	cfg.Limit = store.Int(settings.RateLimitKey, settings.DefaultRateLimit)
	cfg.RedisEnabled = store.Bool(settings.RateLimitRedisEnabledKey, false)
	cfg.RedisAddr = strings.TrimSpace(store.String(settings.RateLimitRedisAddrKey, ""))
	cfg.RedisPassword = strings.TrimSpace(store.String(settings.RateLimitRedisPasswordKey, ""))
	cfg.RedisDB = store.Int(settings.RateLimitRedisDBKey, 0)
	cfg.RedisPrefix = strings.TrimSpace(store.String(settings.RateLimitRedisPrefixKey, settings.DefaultRateLimitRedisPrefix))
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = settings.DefaultRateLimitRedisPrefix
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	return cfg
}

// StoreProvider adapts a settings store into a SettingsProvider.
func StoreProvider(store *settings.Store) SettingsProvider {
	return func() SettingsConfig {
		return LoadSettingsConfig(store)
	}
}
