package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/usage"
	"golang.org/x/sync/errgroup"
)

// UsageHandler exposes usage logs, aggregates and retention.
type UsageHandler struct {
	catalog *catalog.Catalog
	engine  *engine.Engine
	now     func() time.Time
}

// NewUsageHandler constructs a usage handler.
func NewUsageHandler(cat *catalog.Catalog, eng *engine.Engine) *UsageHandler {
	return &UsageHandler{catalog: cat, engine: eng, now: time.Now}
}

// scopeFromQuery parses credential_id, provider_id, model_id and since (RFC3339).
func scopeFromQuery(c *gin.Context) (usage.Scope, bool) {
	scope := usage.Scope{
		ProviderID: strings.TrimSpace(c.Query("provider_id")),
		ModelID:    strings.TrimSpace(c.Query("model_id")),
	}
	if raw := strings.TrimSpace(c.Query("credential_id")); raw != "" {
		id, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential_id"})
			return usage.Scope{}, false
		}
		scope.CredentialID = id
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return usage.Scope{}, false
		}
		scope.Since = &since
	}
	return scope, true
}

// List returns recent usage logs, most recent first.
func (h *UsageHandler) List(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	rows, errList := h.engine.Tracker().UsageFor(c.Request.Context(), scope, limit)
	if errList != nil {
		writeError(c, errList, "list usage failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatUsageLog(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"usage": out})
}

// Summary aggregates usage for the scope.
func (h *UsageHandler) Summary(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	summary, errSummary := h.engine.UsageSummary(c.Request.Context(), scope, nil)
	if errSummary != nil {
		writeError(c, errSummary, "usage summary failed")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// dashboardWindows are the look-back windows reported by Dashboard.
var dashboardWindows = []struct {
	name string
	span time.Duration
}{
	{"last_24h", 24 * time.Hour},
	{"last_7d", 7 * 24 * time.Hour},
	{"last_30d", 30 * 24 * time.Hour},
	{"all_time", 0},
}

// Dashboard computes the summary for several windows concurrently.
func (h *UsageHandler) Dashboard(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	now := h.now().UTC()
	results := make([]usage.Summary, len(dashboardWindows))
	group, ctx := errgroup.WithContext(c.Request.Context())
	for i, window := range dashboardWindows {
		group.Go(func() error {
			var since *time.Time
			if window.span > 0 {
				ts := now.Add(-window.span)
				since = &ts
			}
			summary, errSummary := h.engine.UsageSummary(ctx, scope, since)
			if errSummary != nil {
				return errSummary
			}
			results[i] = summary
			return nil
		})
	}
	if errWait := group.Wait(); errWait != nil {
		writeError(c, errWait, "usage dashboard failed")
		return
	}
	out := gin.H{}
	for i, window := range dashboardWindows {
		out[window.name] = results[i]
	}
	c.JSON(http.StatusOK, out)
}

// recordUsageRequest reports a completed upstream call.
type recordUsageRequest struct {
	CredentialID    uint64 `json:"credential_id"`
	ModelID         string `json:"model_id"`
	RequestTokens   int64  `json:"request_tokens"`
	ResponseTokens  int64  `json:"response_tokens"`
	LatencyMs       int64  `json:"latency_ms"`
	ChatID          string `json:"chat_id"`
	SubChatID       string `json:"sub_chat_id"`
	AgentID         string `json:"agent_id"`
	RequestPayload  string `json:"request_payload"`
	ResponsePayload string `json:"response_payload"`
}

// Record stores a usage row and feeds the credential counter. Persistence
// failures are logged by the tracker and never surface here.
func (h *UsageHandler) Record(c *gin.Context) {
	var body recordUsageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.CredentialID == 0 || strings.TrimSpace(body.ModelID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential_id and model_id are required"})
		return
	}
	if body.RequestTokens < 0 || body.ResponseTokens < 0 || body.LatencyMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metrics must not be negative"})
		return
	}
	ctx := c.Request.Context()
	cred, errCred := h.catalog.GetCredential(ctx, body.CredentialID)
	if errCred != nil {
		writeError(c, errCred, "query failed")
		return
	}
	provider, errProvider := h.catalog.GetProvider(ctx, cred.ProviderID)
	if errProvider != nil {
		writeError(c, errProvider, "query failed")
		return
	}
	model, errModel := h.catalog.GetModel(ctx, body.ModelID)
	if errModel != nil {
		writeError(c, errModel, "query failed")
		return
	}
	metrics := usage.Metrics{
		RequestTokens:  body.RequestTokens,
		ResponseTokens: body.ResponseTokens,
		LatencyMs:      body.LatencyMs,
		Context: resolution.RouteContext{
			ChatID:    strings.TrimSpace(body.ChatID),
			SubChatID: strings.TrimSpace(body.SubChatID),
			AgentID:   strings.TrimSpace(body.AgentID),
			Source:    "admin",
		},
	}
	var payloads *usage.DebugPayloads
	if body.RequestPayload != "" || body.ResponsePayload != "" {
		payloads = &usage.DebugPayloads{Request: body.RequestPayload, Response: body.ResponsePayload}
	}
	h.engine.RecordUsage(ctx, cred, provider, model, metrics, h.engine.DebugMode(), payloads)
	c.JSON(http.StatusAccepted, gin.H{
		"ok":             true,
		"total_tokens":   body.RequestTokens + body.ResponseTokens,
		"estimated_cost": usage.EstimateCost(model, body.RequestTokens, body.ResponseTokens),
	})
}

// cleanupRequest names the retention window in days.
type cleanupRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// Cleanup deletes usage rows older than the given number of days.
func (h *UsageHandler) Cleanup(c *gin.Context) {
	var body cleanupRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.OlderThanDays <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_days must be positive"})
		return
	}
	deleted, errCleanup := h.engine.Tracker().Cleanup(c.Request.Context(), body.OlderThanDays)
	if errCleanup != nil {
		writeError(c, errCleanup, "usage cleanup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// formatUsageLog formats a usage row. Payloads are included only when captured.
func formatUsageLog(row *models.UsageLog) gin.H {
	out := gin.H{
		"id":              row.ID,
		"credential_id":   row.CredentialID,
		"provider_id":     row.ProviderID,
		"model_id":        row.ModelID,
		"request_tokens":  row.RequestTokens,
		"response_tokens": row.ResponseTokens,
		"total_tokens":    row.TotalTokens,
		"latency_ms":      row.LatencyMs,
		"estimated_cost":  row.EstimatedCost,
		"chat_id":         row.ChatID,
		"sub_chat_id":     row.SubChatID,
		"agent_id":        row.AgentID,
		"created_at":      row.CreatedAt,
	}
	if row.RequestPayload != "" || row.ResponsePayload != "" {
		out["request_payload"] = row.RequestPayload
		out["response_payload"] = row.ResponsePayload
	}
	return out
}
