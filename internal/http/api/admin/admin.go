package admin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/config"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	handlers "github.com/router-for-me/CLIProxyAPIRouter/internal/http/api/admin/handlers"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/ratelimit"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/security"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dependencies are the collaborators shared by the admin handlers.
type Dependencies struct {
	DB       *gorm.DB
	Engine   *engine.Engine
	Catalog  *catalog.Catalog
	Settings *settings.Store
	Limiter  *ratelimit.Manager
	JWT      config.JWTConfig
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.DB == nil || deps.Engine == nil || deps.Catalog == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	authed := r.Group("/v0/admin")
	authed.Use(rateLimitMiddleware(deps.Limiter))
	if strings.TrimSpace(deps.JWT.Secret) == "" {
		log.Warn("admin: jwt secret not configured, admin API is unauthenticated")
	} else {
		authed.Use(adminAuthMiddleware(deps.JWT, time.Now))
	}

	providerHandler := handlers.NewProviderHandler(deps.Catalog, deps.Engine)
	authed.POST("/providers", providerHandler.Create)
	authed.GET("/providers", providerHandler.List)
	authed.GET("/providers/:id", providerHandler.Get)
	authed.PUT("/providers/:id", providerHandler.Update)
	authed.DELETE("/providers/:id", providerHandler.Delete)
	authed.POST("/providers/:id/primary", providerHandler.SetPrimary)
	authed.GET("/providers/:id/credentials", providerHandler.Credentials)
	authed.GET("/providers/:id/models", providerHandler.Models)
	authed.GET("/providers/:id/resolve", providerHandler.Resolve)

	credentialHandler := handlers.NewCredentialHandler(deps.Catalog, deps.Engine)
	authed.POST("/credentials", credentialHandler.Create)
	authed.GET("/credentials/:id", credentialHandler.Get)
	authed.PUT("/credentials/:id", credentialHandler.Update)
	authed.DELETE("/credentials/:id", credentialHandler.Delete)
	authed.PUT("/credentials/:id/oauth", credentialHandler.StoreOAuth)
	authed.POST("/credentials/:id/error", credentialHandler.RecordError)
	authed.DELETE("/credentials/:id/error", credentialHandler.ClearError)
	authed.POST("/credentials/:id/usage", credentialHandler.AddUsage)
	authed.POST("/credentials/:id/usage/reset", credentialHandler.ResetUsage)

	modelHandler := handlers.NewModelHandler(deps.Catalog, deps.Engine)
	authed.POST("/models", modelHandler.Create)
	authed.GET("/models", modelHandler.List)
	authed.GET("/models/default", modelHandler.Default)
	authed.GET("/models/:id", modelHandler.Get)
	authed.PUT("/models/:id", modelHandler.Update)
	authed.DELETE("/models/:id", modelHandler.Delete)
	authed.POST("/models/:id/default", modelHandler.SetDefault)
	authed.GET("/models/:id/providers", modelHandler.Providers)
	authed.POST("/models/:id/providers", modelHandler.AddProvider)
	authed.PUT("/models/:id/providers/:provider_id", modelHandler.UpdateProviderStatus)
	authed.DELETE("/models/:id/providers/:provider_id", modelHandler.RemoveProvider)

	resolveHandler := handlers.NewResolveHandler(deps.Engine)
	authed.POST("/resolve", resolveHandler.Resolve)

	usageHandler := handlers.NewUsageHandler(deps.Catalog, deps.Engine)
	authed.GET("/usage", usageHandler.List)
	authed.POST("/usage", usageHandler.Record)
	authed.GET("/usage/summary", usageHandler.Summary)
	authed.GET("/usage/dashboard", usageHandler.Dashboard)
	authed.POST("/usage/cleanup", usageHandler.Cleanup)

	settingHandler := handlers.NewSettingHandler(deps.DB, deps.Settings, deps.Engine.ApplySettings)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Put)
	authed.DELETE("/settings/:key", settingHandler.Delete)
}

// rateLimitMiddleware enforces the per-client admin request budget.
func rateLimitMiddleware(limiter *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		result, errAllow := limiter.AllowClient(c.Request.Context(), c.ClientIP())
		if errAllow != nil {
			log.WithError(errAllow).Warn("admin: rate limit check failed")
			c.Next()
			return
		}
		if result.Backend != "" {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			retryAfter := int(time.Until(result.Reset).Seconds() + 0.999)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// adminAuthMiddleware validates admin bearer tokens.
func adminAuthMiddleware(jwtCfg config.JWTConfig, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := security.BearerToken(authHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token, now())
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("adminSubject", claims.Subject)
		c.Next()
	}
}
