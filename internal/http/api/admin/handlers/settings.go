package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	internalsettings "github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
	"gorm.io/gorm"
)

// SettingHandler manages admin CRUD for settings values.
type SettingHandler struct {
	db       *gorm.DB                // Database handle for settings.
	store    *internalsettings.Store // Snapshot refreshed after every write.
	onChange func()                  // Invoked after the snapshot changes.
}

// NewSettingHandler constructs a settings handler. onChange may be nil.
func NewSettingHandler(db *gorm.DB, store *internalsettings.Store, onChange func()) *SettingHandler {
	return &SettingHandler{db: db, store: store, onChange: onChange}
}

// settingValidators holds the value check of every key the router reads.
// Keys outside the table are stored as given.
var settingValidators = map[string]func(json.RawMessage) error{
	internalsettings.RateLimitKey:                 requireNonNegativeInt,
	internalsettings.RateLimitRedisDBKey:          requireNonNegativeInt,
	internalsettings.CredentialCooldownSecondsKey: requireNonNegativeInt,
	internalsettings.RateLimitRedisEnabledKey:     requireBool,
	internalsettings.UsageDebugModeKey:            requireBool,
}

var (
	errNonNegativeIntegerValue = errors.New("value must be a non-negative integer")
	errBoolValue               = errors.New("value must be a boolean")
)

func requireNonNegativeInt(raw json.RawMessage) error {
	if _, ok := internalsettings.ParseNonNegativeInt(raw); !ok {
		return errNonNegativeIntegerValue
	}
	return nil
}

func requireBool(raw json.RawMessage) error {
	if _, ok := internalsettings.ParseBool(raw); !ok {
		return errBoolValue
	}
	return nil
}

// updateSettingRequest captures the payload for writing a setting.
type updateSettingRequest struct {
	Value json.RawMessage `json:"value"` // New JSON value.
}

// List returns all settings sorted by key.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatSetting(&row))
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// Get returns a setting by key.
func (h *SettingHandler) Get(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	var setting models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Where("key = ?", key).First(&setting).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatSetting(&setting))
}

// Put validates and upserts a setting, then refreshes the snapshot.
func (h *SettingHandler) Put(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	var body updateSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errValidate := validateSettingValue(key, body.Value); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}
	if errPut := h.store.Put(c.Request.Context(), h.db, key, body.Value); errPut != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	h.changed()
	c.JSON(http.StatusOK, gin.H{"key": key, "value": displayValue(key, body.Value)})
}

// Delete removes a setting and refreshes the snapshot.
func (h *SettingHandler) Delete(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	deleted, errDelete := h.store.Delete(c.Request.Context(), h.db, key)
	if errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.changed()
	c.Status(http.StatusNoContent)
}

func (h *SettingHandler) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

func validateSettingValue(key string, value json.RawMessage) error {
	if validate, ok := settingValidators[key]; ok {
		return validate(value)
	}
	return nil
}

func isKnownSetting(key string) bool {
	_, ok := settingValidators[key]
	return ok || key == internalsettings.RateLimitRedisAddrKey ||
		key == internalsettings.RateLimitRedisPasswordKey || key == internalsettings.RateLimitRedisPrefixKey
}

// displayValue hides the Redis password in responses.
func displayValue(key string, raw json.RawMessage) json.RawMessage {
	if key == internalsettings.RateLimitRedisPasswordKey {
		return json.RawMessage(`"********"`)
	}
	return raw
}

func (h *SettingHandler) formatSetting(s *models.Setting) gin.H {
	return gin.H{
		"key":        s.Key,
		"value":      displayValue(s.Key, json.RawMessage(s.Value)),
		"known":      isKnownSetting(s.Key),
		"updated_at": s.UpdatedAt,
	}
}
