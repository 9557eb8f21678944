package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
)

// ProviderHandler manages admin endpoints for providers.
type ProviderHandler struct {
	catalog *catalog.Catalog // Provider persistence.
	engine  *engine.Engine   // Resolution preview.
}

// NewProviderHandler constructs a provider handler.
func NewProviderHandler(cat *catalog.Catalog, eng *engine.Engine) *ProviderHandler {
	return &ProviderHandler{catalog: cat, engine: eng}
}

// Create validates input and inserts a provider.
func (h *ProviderHandler) Create(c *gin.Context) {
	var body catalog.ProviderInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row, errCreate := h.catalog.CreateProvider(c.Request.Context(), body)
	if errCreate != nil {
		writeError(c, errCreate, "create provider failed")
		return
	}
	c.JSON(http.StatusCreated, formatProvider(row))
}

// List returns providers, primary first, filtered by the optional search query.
func (h *ProviderHandler) List(c *gin.Context) {
	rows, errList := h.catalog.ListProviders(c.Request.Context(), c.Query("search"))
	if errList != nil {
		writeError(c, errList, "list providers failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatProvider(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// Get fetches a provider by id.
func (h *ProviderHandler) Get(c *gin.Context) {
	row, errGet := h.catalog.GetProvider(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	c.JSON(http.StatusOK, formatProvider(row))
}

// Update applies a partial update to a provider.
func (h *ProviderHandler) Update(c *gin.Context) {
	var body catalog.ProviderPatch
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row, errUpdate := h.catalog.UpdateProvider(c.Request.Context(), strings.TrimSpace(c.Param("id")), body)
	if errUpdate != nil {
		writeError(c, errUpdate, "update provider failed")
		return
	}
	c.JSON(http.StatusOK, formatProvider(row))
}

// SetPrimary moves the primary role to the provider.
func (h *ProviderHandler) SetPrimary(c *gin.Context) {
	if errSet := h.catalog.SetPrimary(c.Request.Context(), strings.TrimSpace(c.Param("id"))); errSet != nil {
		writeError(c, errSet, "set primary failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a non-builtin, non-primary provider.
func (h *ProviderHandler) Delete(c *gin.Context) {
	if errDelete := h.catalog.DeleteProvider(c.Request.Context(), strings.TrimSpace(c.Param("id"))); errDelete != nil {
		writeError(c, errDelete, "delete provider failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// Credentials lists a provider's credentials in resolution order.
func (h *ProviderHandler) Credentials(c *gin.Context) {
	provider, errGet := h.catalog.GetProvider(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	rows, errList := h.catalog.ListCredentials(c.Request.Context(), provider.ID)
	if errList != nil {
		writeError(c, errList, "list credentials failed")
		return
	}
	cooldown := h.engine.Credentials().Cooldown()
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatCredential(&rows[i], cooldown))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// Models lists the models a provider actively serves.
func (h *ProviderHandler) Models(c *gin.Context) {
	rows, errList := h.engine.Routes().ModelsForProvider(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if errList != nil {
		writeError(c, errList, "list models failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatModel(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// Resolve previews which credential the provider would use now.
func (h *ProviderHandler) Resolve(c *gin.Context) {
	resolved, errResolve := h.engine.ResolveCredential(c.Request.Context(), strings.TrimSpace(c.Param("id")), routeContextFromQuery(c))
	if errResolve != nil {
		writeError(c, errResolve, "resolve credential failed")
		return
	}
	c.JSON(http.StatusOK, formatResolvedCredential(resolved, h.engine.Credentials().Cooldown()))
}

// formatProvider formats a provider row into response JSON.
func formatProvider(p *models.Provider) gin.H {
	return gin.H{
		"id":         p.ID,
		"name":       p.Name,
		"auth_kind":  p.AuthKind,
		"role":       p.Role,
		"builtin":    p.Builtin,
		"base_url":   p.BaseURL,
		"api_format": p.APIFormat,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
	}
}
