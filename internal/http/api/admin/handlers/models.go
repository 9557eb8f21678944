package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
)

// ModelHandler manages admin endpoints for models and their provider lists.
type ModelHandler struct {
	catalog *catalog.Catalog
	engine  *engine.Engine
}

// NewModelHandler constructs a model handler.
func NewModelHandler(cat *catalog.Catalog, eng *engine.Engine) *ModelHandler {
	return &ModelHandler{catalog: cat, engine: eng}
}

// createModelRequest accepts either a providers list or the positional
// provider_ids/provider_status pair ("p1,p2" / "A,D").
type createModelRequest struct {
	catalog.ModelInput
	ProviderIDs    string `json:"provider_ids"`
	ProviderStatus string `json:"provider_status"`
}

// Create inserts a model.
func (h *ModelHandler) Create(c *gin.Context) {
	var body createModelRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var (
		row       *models.Model
		errCreate error
	)
	if len(body.Providers) == 0 && (body.ProviderIDs != "" || body.ProviderStatus != "") {
		row, errCreate = h.catalog.ImportModel(c.Request.Context(), body.ModelInput, body.ProviderIDs, body.ProviderStatus)
	} else {
		row, errCreate = h.catalog.CreateModel(c.Request.Context(), body.ModelInput)
	}
	if errCreate != nil {
		writeError(c, errCreate, "create model failed")
		return
	}
	c.JSON(http.StatusCreated, formatModel(row))
}

// List returns all models.
func (h *ModelHandler) List(c *gin.Context) {
	rows, errList := h.catalog.ListModels(c.Request.Context())
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

// Default returns the default model.
func (h *ModelHandler) Default(c *gin.Context) {
	row, errGet := h.catalog.DefaultModel(c.Request.Context())
	if errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	c.JSON(http.StatusOK, formatModel(row))
}

// Get fetches a model by id.
func (h *ModelHandler) Get(c *gin.Context) {
	row, errGet := h.catalog.GetModel(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	c.JSON(http.StatusOK, formatModel(row))
}

// Update applies a partial update to capability and pricing fields.
func (h *ModelHandler) Update(c *gin.Context) {
	var body catalog.ModelPatch
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if _, errGet := h.catalog.GetModel(c.Request.Context(), id); errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	row, errUpdate := h.catalog.UpdateModel(c.Request.Context(), id, body)
	if errUpdate != nil {
		writeError(c, errUpdate, "update model failed")
		return
	}
	c.JSON(http.StatusOK, formatModel(row))
}

// SetDefault makes the model the only default.
func (h *ModelHandler) SetDefault(c *gin.Context) {
	if errSet := h.catalog.SetDefaultModel(c.Request.Context(), strings.TrimSpace(c.Param("id"))); errSet != nil {
		writeError(c, errSet, "set default model failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a model.
func (h *ModelHandler) Delete(c *gin.Context) {
	deleted, errDelete := h.catalog.DeleteModel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if errDelete != nil {
		writeError(c, errDelete, "delete model failed")
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Providers lists the providers actively serving the model in routing order.
func (h *ModelHandler) Providers(c *gin.Context) {
	rows, errList := h.engine.Routes().ProvidersForModel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
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

// mappingRequest carries a provider entry mutation.
type mappingRequest struct {
	ProviderID string                `json:"provider_id"`
	Status     models.ProviderStatus `json:"status"`
}

// AddProvider appends a provider to the model, or updates its status when present.
func (h *ModelHandler) AddProvider(c *gin.Context) {
	var body mappingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.ProviderID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider_id is required"})
		return
	}
	if body.Status == "" {
		body.Status = models.ProviderStatusActive
	}
	modelID := strings.TrimSpace(c.Param("id"))
	if errAdd := h.engine.Mappings().Add(c.Request.Context(), modelID, strings.TrimSpace(body.ProviderID), body.Status); errAdd != nil {
		writeError(c, errAdd, "add provider failed")
		return
	}
	h.respondModel(c, modelID)
}

// UpdateProviderStatus sets the status of one provider entry.
func (h *ModelHandler) UpdateProviderStatus(c *gin.Context) {
	var body mappingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	modelID := strings.TrimSpace(c.Param("id"))
	providerID := strings.TrimSpace(c.Param("provider_id"))
	if errSet := h.engine.Mappings().SetStatus(c.Request.Context(), modelID, providerID, body.Status); errSet != nil {
		writeError(c, errSet, "update provider status failed")
		return
	}
	h.respondModel(c, modelID)
}

// RemoveProvider drops a provider entry. The last entry cannot be removed.
func (h *ModelHandler) RemoveProvider(c *gin.Context) {
	modelID := strings.TrimSpace(c.Param("id"))
	providerID := strings.TrimSpace(c.Param("provider_id"))
	if errRemove := h.engine.Mappings().Remove(c.Request.Context(), modelID, providerID); errRemove != nil {
		writeError(c, errRemove, "remove provider failed")
		return
	}
	h.respondModel(c, modelID)
}

func (h *ModelHandler) respondModel(c *gin.Context, id string) {
	row, errGet := h.catalog.GetModel(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet, "query failed")
		return
	}
	c.JSON(http.StatusOK, formatModel(row))
}

// formatModel formats a model row into response JSON.
func formatModel(m *models.Model) gin.H {
	ids, statuses := m.Providers.Positional()
	providers := m.Providers
	if providers == nil {
		providers = models.ModelProviders{}
	}
	return gin.H{
		"id":                      m.ID,
		"name":                    m.Name,
		"context_length":          m.ContextLength,
		"supports_vision":         m.SupportsVision,
		"supports_tools":          m.SupportsTools,
		"supports_streaming":      m.SupportsStreaming,
		"pricing_input_per_mtok":  m.PricingInputPerMTok,
		"pricing_output_per_mtok": m.PricingOutputPerMTok,
		"is_default":              m.IsDefault,
		"providers":               providers,
		"provider_ids":            ids,
		"provider_status":         statuses,
		"created_at":              m.CreatedAt,
		"updated_at":              m.UpdatedAt,
	}
}
