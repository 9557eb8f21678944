package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
)

// ResolveHandler previews model routing decisions.
type ResolveHandler struct {
	engine *engine.Engine
}

// NewResolveHandler constructs a resolve handler.
func NewResolveHandler(eng *engine.Engine) *ResolveHandler {
	return &ResolveHandler{engine: eng}
}

// resolveRequest names the model to route and optional caller context.
type resolveRequest struct {
	Model             string `json:"model"`
	PreferredProvider string `json:"preferred_provider"`
	ChatID            string `json:"chat_id"`
	SubChatID         string `json:"sub_chat_id"`
	AgentID           string `json:"agent_id"`
}

// Resolve routes a model to a provider and credential without performing any call.
func (h *ResolveHandler) Resolve(c *gin.Context) {
	var body resolveRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	modelID := strings.TrimSpace(body.Model)
	if modelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}
	rctx := resolution.RouteContext{
		ChatID:    strings.TrimSpace(body.ChatID),
		SubChatID: strings.TrimSpace(body.SubChatID),
		AgentID:   strings.TrimSpace(body.AgentID),
		Source:    "admin",
	}
	res, errResolve := h.engine.ResolveModel(c.Request.Context(), modelID, strings.TrimSpace(body.PreferredProvider), rctx)
	if errResolve != nil {
		writeError(c, errResolve, "resolve model failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model":          formatModel(&res.Model),
		"provider_index": res.ProviderIndex,
		"resolution":     formatResolvedCredential(res.Credential, h.engine.Credentials().Cooldown()),
	})
}
