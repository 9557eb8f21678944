package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/credential"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
)

// CredentialHandler manages admin endpoints for credentials and their bookkeeping.
type CredentialHandler struct {
	catalog *catalog.Catalog
	engine  *engine.Engine
}

// NewCredentialHandler constructs a credential handler.
func NewCredentialHandler(cat *catalog.Catalog, eng *engine.Engine) *CredentialHandler {
	return &CredentialHandler{catalog: cat, engine: eng}
}

// Create seals the submitted secrets and inserts a credential.
func (h *CredentialHandler) Create(c *gin.Context) {
	var body catalog.CredentialInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row, errCreate := h.catalog.CreateCredential(c.Request.Context(), body)
	if errCreate != nil {
		writeError(c, errCreate, "create credential failed")
		return
	}
	c.JSON(http.StatusCreated, formatCredential(row, h.engine.Credentials().Cooldown()))
}

// Get fetches a credential by id. Secrets are never returned.
func (h *CredentialHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	row, errGet := h.catalog.GetCredential(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	c.JSON(http.StatusOK, formatCredential(row, h.engine.Credentials().Cooldown()))
}

// Update applies a partial update to a credential.
func (h *CredentialHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body catalog.CredentialPatch
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, errUpdate := h.catalog.UpdateCredential(c.Request.Context(), id, body)
	if errUpdate != nil {
		writeError(c, errUpdate, "update credential failed")
		return
	}
	if !updated {
		writeError(c, resolution.ErrCredentialNotFound, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// storeOAuthRequest carries refreshed OAuth material.
type storeOAuthRequest struct {
	AccessToken  string     `json:"access_token"`  // New access token.
	RefreshToken string     `json:"refresh_token"` // Optional new refresh token.
	ExpiresAt    *time.Time `json:"expires_at"`    // Optional expiry.
}

// StoreOAuth replaces the OAuth tokens of a credential.
func (h *CredentialHandler) StoreOAuth(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body storeOAuthRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_token is required"})
		return
	}
	stored, errStore := h.catalog.StoreOAuthTokens(c.Request.Context(), id, body.AccessToken, body.RefreshToken, body.ExpiresAt)
	if errStore != nil {
		writeError(c, errStore, "store oauth tokens failed")
		return
	}
	if !stored {
		writeError(c, resolution.ErrCredentialNotFound, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a credential and its usage logs.
func (h *CredentialHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	deleted, errDelete := h.catalog.DeleteCredential(c.Request.Context(), id)
	if errDelete != nil {
		writeError(c, errDelete, "delete credential failed")
		return
	}
	if !deleted {
		writeError(c, resolution.ErrCredentialNotFound, "")
		return
	}
	c.Status(http.StatusNoContent)
}

// recordErrorRequest carries an upstream failure message.
type recordErrorRequest struct {
	Message string `json:"message"`
}

// RecordError arms the circuit breaker for a credential.
func (h *CredentialHandler) RecordError(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body recordErrorRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.respondBool(c, id, func() (bool, error) {
		return h.engine.RecordCredentialError(c.Request.Context(), id, body.Message)
	}, "record error failed")
}

// ClearError disarms the circuit breaker for a credential.
func (h *CredentialHandler) ClearError(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	h.respondBool(c, id, func() (bool, error) {
		return h.engine.Credentials().ClearError(c.Request.Context(), id)
	}, "clear error failed")
}

// addUsageRequest carries a manual usage increment.
type addUsageRequest struct {
	Amount int64 `json:"amount"`
}

// AddUsage adds to a credential's usage counter.
func (h *CredentialHandler) AddUsage(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body addUsageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	h.respondBool(c, id, func() (bool, error) {
		return h.engine.UpdateCredentialUsage(c.Request.Context(), id, body.Amount)
	}, "update usage failed")
}

// ResetUsage zeroes a credential's usage counter.
func (h *CredentialHandler) ResetUsage(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	h.respondBool(c, id, func() (bool, error) {
		return h.engine.ResetCredentialUsage(c.Request.Context(), id)
	}, "reset usage failed")
}

func (h *CredentialHandler) respondBool(c *gin.Context, id uint64, op func() (bool, error), fallback string) {
	ok, errOp := op()
	if errOp != nil {
		writeError(c, errOp, fallback)
		return
	}
	if !ok {
		writeError(c, resolution.ErrCredentialNotFound, "")
		return
	}
	row, errGet := h.catalog.GetCredential(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	c.JSON(http.StatusOK, formatCredential(row, h.engine.Credentials().Cooldown()))
}

// formatCredential formats a credential without its sealed secrets, adding its
// current availability.
func formatCredential(cred *models.Credential, cooldown time.Duration) gin.H {
	now := time.Now().UTC()
	failed := credential.FailedChecks(cred, now, cooldown)
	if failed == nil {
		failed = []resolution.Check{}
	}
	return gin.H{
		"id":                 cred.ID,
		"provider_id":        cred.ProviderID,
		"label":              cred.Label,
		"auth_kind":          cred.AuthKind,
		"has_api_key":        cred.EncryptedAPIKey != "",
		"has_oauth_token":    cred.EncryptedOAuthAccessToken != "",
		"has_refresh_token":  cred.EncryptedOAuthRefreshToken != "",
		"oauth_expires_at":   cred.OAuthExpiresAt,
		"secret_encoding":    cred.SecretEncoding,
		"is_active":          cred.IsActive,
		"priority":           cred.Priority,
		"usage_limit_type":   cred.UsageLimitType,
		"usage_limit_value":  cred.UsageLimitValue,
		"usage_limit_period": cred.UsageLimitPeriod,
		"current_usage":      cred.CurrentUsage,
		"effective_usage":    credential.EffectiveUsage(cred, now),
		"usage_reset_at":     cred.UsageResetAt,
		"last_error":         cred.LastError,
		"last_error_at":      cred.LastErrorAt,
		"failed_checks":      failed,
		"created_at":         cred.CreatedAt,
		"updated_at":         cred.UpdatedAt,
	}
}

// formatResolvedCredential reports a resolution outcome without the plaintext secrets.
func formatResolvedCredential(res *resolution.ResolvedCredential, cooldown time.Duration) gin.H {
	return gin.H{
		"provider":              formatProvider(&res.Provider),
		"credential":            formatCredential(&res.Credential, cooldown),
		"has_api_key":           res.APIKey != "",
		"has_oauth_token":       res.OAuthToken != "",
		"degraded":              res.Degraded,
		"degraded_reasons":      res.DegradedReasons,
		"secret_store_degraded": res.SecretStoreDegraded,
	}
}

// routeContextFromQuery reads optional routing identifiers from the query string.
func routeContextFromQuery(c *gin.Context) resolution.RouteContext {
	return resolution.RouteContext{
		ChatID:    strings.TrimSpace(c.Query("chat_id")),
		SubChatID: strings.TrimSpace(c.Query("sub_chat_id")),
		AgentID:   strings.TrimSpace(c.Query("agent_id")),
		Source:    "admin",
	}
}
