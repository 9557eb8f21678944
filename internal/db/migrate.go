package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	internalsettings "github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Provider{},
		&models.Credential{},
		&models.Model{},
		&models.UsageLog{},
		&models.ModelReference{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errIdx := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_single_primary
		ON providers (role) WHERE role = 'primary'
	`).Error; errIdx != nil {
		return fmt.Errorf("db: create primary provider index: %w", errIdx)
	}
	if errIdx := conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_models_single_default
		ON models (is_default) WHERE is_default = true
	`).Error; errIdx != nil {
		return fmt.Errorf("db: create default model index: %w", errIdx)
	}

	return seedSettings(conn, []settingSeed{
		{internalsettings.RateLimitKey, internalsettings.DefaultRateLimit},
		{internalsettings.RateLimitRedisEnabledKey, false},
	})
}

// settingSeed is a settings row written on first start.
type settingSeed struct {
	key   string
	value any
}

// seedSettings inserts missing seeds and fills rows whose value is empty or JSON null.
// Values an operator has set are never touched.
func seedSettings(conn *gorm.DB, seeds []settingSeed) error {
	now := time.Now().UTC()
	for _, seed := range seeds {
		payload, errMarshal := json.Marshal(seed.value)
		if errMarshal != nil {
			return fmt.Errorf("db: marshal %s seed: %w", seed.key, errMarshal)
		}

		var existing models.Setting
		errFind := conn.Where("key = ?", seed.key).Take(&existing).Error
		switch {
		case errors.Is(errFind, gorm.ErrRecordNotFound):
			row := models.Setting{Key: seed.key, Value: payload, UpdatedAt: now}
			if errCreate := conn.Create(&row).Error; errCreate != nil {
				return fmt.Errorf("db: seed %s: %w", seed.key, errCreate)
			}
		case errFind != nil:
			return fmt.Errorf("db: load %s setting: %w", seed.key, errFind)
		case isEmptyJSON(existing.Value):
			if errUpdate := conn.Model(&models.Setting{}).Where("key = ?", seed.key).Updates(map[string]any{
				"value":      models.SettingValue(payload),
				"updated_at": now,
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: fill %s setting: %w", seed.key, errUpdate)
			}
		}
	}
	return nil
}

func isEmptyJSON(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
