package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
	EnvListen       = "LISTEN"
	EnvLogLevel     = "LOG_LEVEL"
	EnvFailover     = "ROUTING_FAILOVER"
)

const (
	defaultListen        = ":8318"
	defaultLogLevel      = "info"
	defaultCooldown      = 60 * time.Second
	defaultSyncInterval  = 6 * time.Hour
	// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
	defaultJWTExpiry = 30 * 24 * time.Hour
)

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// DatabaseConfig is the nested alternative to database-dsn.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// SecretStoreConfig selects the OS keychain entry holding the master key.
type SecretStoreConfig struct {
	Service  string `yaml:"service"`
	User     string `yaml:"user"`
	Disabled bool   `yaml:"disabled"`
}

// RoutingConfig tunes model and credential resolution.
type RoutingConfig struct {
	Failover bool          `yaml:"failover"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// UsageConfig tunes usage log persistence.
type UsageConfig struct {
	DebugMode       bool `yaml:"debug-mode"`
	RetentionDays   int  `yaml:"retention-days"`
	PerUnitCounting bool `yaml:"per-unit-counting"`
}

// BootstrapProvider is created as the builtin primary provider on an empty database.
type BootstrapProvider struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	AuthKind  string `yaml:"auth-kind"`
	BaseURL   string `yaml:"base-url"`
	APIFormat string `yaml:"api-format"`
}

// ModelsSyncConfig controls the models.dev reference sync.
type ModelsSyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

// Config is the resolved application configuration.
type Config struct {
	ConfigPath        string             `yaml:"-"`
	DatabaseDSN       string             `yaml:"database-dsn"`
	Database          DatabaseConfig     `yaml:"database"`
	Listen            string             `yaml:"listen"`
	LogLevel          string             `yaml:"log-level"`
	SecretStore       SecretStoreConfig  `yaml:"secret-store"`
	Routing           RoutingConfig      `yaml:"routing"`
	Usage             UsageConfig        `yaml:"usage"`
	BootstrapProvider *BootstrapProvider `yaml:"bootstrap-provider"`
	JWT               JWTConfig          `yaml:"jwt"`
	ModelsSync        ModelsSyncConfig   `yaml:"models-sync"`
}

// DSN returns the configured database DSN.
func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DatabaseDSN); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(c.Database.DSN)
}

// Load reads the YAML file at configPath, applies environment overrides and defaults.
// A missing file is not an error; the DSN must then come from the environment.
func Load(configPath string) (*Config, error) {
	cfg := &Config{ConfigPath: configPath}
	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
		log.WithField("path", configPath).Debug("config file not found, using environment")
	default:
		return nil, fmt.Errorf("read config file: %w", errRead)
	}
	cfg.ConfigPath = configPath

	applyEnv(cfg)
	applyDefaults(cfg)

	if cfg.DSN() == "" {
		return nil, ErrMissingDatabaseDSN
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if listen := strings.TrimSpace(os.Getenv(EnvListen)); listen != "" {
		cfg.Listen = listen
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.LogLevel = level
	}
	if raw := strings.TrimSpace(os.Getenv(EnvFailover)); raw != "" {
		if failover, errParse := strconv.ParseBool(raw); errParse == nil {
			cfg.Routing.Failover = failover
		}
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = defaultListen
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Routing.Cooldown <= 0 {
		cfg.Routing.Cooldown = defaultCooldown
	}
	if cfg.Usage.RetentionDays < 0 {
		cfg.Usage.RetentionDays = 0
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
	if cfg.ModelsSync.Interval <= 0 {
		cfg.ModelsSync.Interval = defaultSyncInterval
	}
}

// LoadEnvFiles loads .env files in order; earlier files win because
// godotenv never overrides variables that are already set.
func LoadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, errStat := os.Stat(path); errStat != nil {
			continue
		}
		if errLoad := godotenv.Load(path); errLoad != nil {
			log.WithError(errLoad).WithField("path", path).Warn("failed to load env file")
			continue
		}
		log.WithField("path", path).Debug("loaded env file")
	}
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ApplyLogLevel configures logrus from the config's log level.
func ApplyLogLevel(level string) {
	parsed, errParse := log.ParseLevel(strings.TrimSpace(level))
	if errParse != nil {
		log.WithError(errParse).Warnf("invalid log level %q, using info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}
