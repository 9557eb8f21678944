package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/config"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/http/api/admin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/modelreference"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/ratelimit"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
	internalsettings "github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	settingsReloadInterval = 30 * time.Second
	retentionInterval      = 24 * time.Hour
	shutdownTimeout        = 10 * time.Second
)

// Runtime bundles the long-lived components built from a Config.
type Runtime struct {
	Config   *config.Config
	DB       *gorm.DB
	Settings *internalsettings.Store
	Secrets  secretstore.Store
	Engine   *engine.Engine
	Catalog  *catalog.Catalog
}

// Open connects to the database, migrates it and wires the engine.
func Open(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	if info, errDescribe := DescribeDSN(cfg.DSN()); errDescribe == nil {
		log.Infof("database: %s", info)
	}
	conn, errOpen := db.Open(cfg.DSN())
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		_ = db.Close(conn)
		return nil, errMigrate
	}

	store := internalsettings.NewStore()
	if errReload := store.Reload(ctx, conn); errReload != nil {
		_ = db.Close(conn)
		return nil, errReload
	}

	secrets := newSecretStore(cfg.SecretStore)
	if !secrets.Available() {
		log.Warn("secret store: OS keychain unavailable, credentials are stored with a reversible encoding")
	}

	rt := &Runtime{
		Config:   cfg,
		DB:       conn,
		Settings: store,
		Secrets:  secrets,
		Engine: engine.New(conn, secrets, engine.Options{
			Cooldown:        cfg.Routing.Cooldown,
			Failover:        cfg.Routing.Failover,
			DebugMode:       cfg.Usage.DebugMode,
			PerUnitCounting: cfg.Usage.PerUnitCounting,
			Settings:        store,
		}),
		Catalog: catalog.New(conn, secrets),
	}
	if errBootstrap := rt.bootstrap(ctx); errBootstrap != nil {
		_ = rt.Close()
		return nil, errBootstrap
	}
	return rt, nil
}

// Close releases the database connection.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	return db.Close(rt.DB)
}

func newSecretStore(cfg config.SecretStoreConfig) secretstore.Store {
	if cfg.Disabled {
		return secretstore.NewDegradedStore()
	}
	return secretstore.NewKeyringStore(cfg.Service, cfg.User)
}

// bootstrap creates the configured OAuth provider as builtin primary on an empty database.
func (rt *Runtime) bootstrap(ctx context.Context) error {
	bp := rt.Config.BootstrapProvider
	if bp == nil {
		return nil
	}
	_, errBootstrap := rt.Catalog.Bootstrap(ctx, catalog.ProviderInput{
		ID:        bp.ID,
		Name:      bp.Name,
		AuthKind:  models.AuthKind(strings.ToLower(strings.TrimSpace(bp.AuthKind))),
		BaseURL:   bp.BaseURL,
		APIFormat: models.APIFormat(strings.ToLower(strings.TrimSpace(bp.APIFormat))),
	})
	if errBootstrap != nil {
		return fmt.Errorf("app: bootstrap provider: %w", errBootstrap)
	}
	return nil
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg *config.Config) error {
	rt, errOpen := Open(ctx, cfg)
	if errOpen != nil {
		return errOpen
	}
	return rt.Close()
}

// RunServer serves the admin API and runs the background loops until ctx is done.
func RunServer(ctx context.Context, cfg *config.Config) error {
	rt, errOpen := Open(ctx, cfg)
	if errOpen != nil {
		return errOpen
	}
	defer func() {
		if errClose := rt.Close(); errClose != nil {
			log.WithError(errClose).Warn("close database")
		}
	}()

	limiter := ratelimit.NewManager(ratelimit.StoreProvider(rt.Settings), nil, nil)
	defer func() { _ = limiter.Close() }()

	engineRouter := NewRouter(rt, limiter)

	if cfg.ModelsSync.Enabled {
		modelreference.NewSyncer(rt.DB, cfg.ModelsSync.URL, cfg.ModelsSync.Interval).Start(ctx)
	}
	go rt.reloadSettingsLoop(ctx, settingsReloadInterval)
	if cfg.Usage.RetentionDays > 0 {
		go rt.retentionLoop(ctx, cfg.Usage.RetentionDays, retentionInterval)
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engineRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errServe := make(chan error, 1)
	go func() {
		log.Infof("admin API listening on %s (config=%s)", cfg.Listen, cfg.ConfigPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errServe <- err
		}
		close(errServe)
	}()

	select {
	case err, ok := <-errServe:
		if ok {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down admin API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	return nil
}

// NewRouter builds the gin engine serving the admin API.
func NewRouter(rt *Runtime, limiter *ratelimit.Manager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	admin.RegisterAdminRoutes(r, admin.Dependencies{
		DB:       rt.DB,
		Engine:   rt.Engine,
		Catalog:  rt.Catalog,
		Settings: rt.Settings,
		Limiter:  limiter,
		JWT:      rt.Config.JWT,
	})
	return r
}

// requestLogger logs one line per request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("admin request")
			return
		}
		entry.Debug("admin request")
	}
}

// reloadSettingsLoop picks up settings written by other processes.
func (rt *Runtime) reloadSettingsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errReload := rt.Settings.Reload(ctx, rt.DB); errReload != nil {
				log.WithError(errReload).Warn("settings reload failed")
				continue
			}
			rt.Engine.ApplySettings()
		}
	}
}

// retentionLoop deletes usage logs older than days, once at start and then every interval.
func (rt *Runtime) retentionLoop(ctx context.Context, days int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, errCleanup := rt.Engine.Tracker().Cleanup(ctx, days); errCleanup != nil {
			log.WithError(errCleanup).WithField("retention_days", days).Warn("usage retention cleanup failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
