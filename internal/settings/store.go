package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store keeps an in-memory snapshot of the settings table.
type Store struct {
	values atomic.Pointer[map[string]json.RawMessage]
}

// NewStore returns an empty settings snapshot.
func NewStore() *Store {
	s := &Store{}
	empty := map[string]json.RawMessage{}
	s.values.Store(&empty)
	return s
}

// DBConfigValue returns the raw JSON value stored for key.
func (s *Store) DBConfigValue(key string) (json.RawMessage, bool) {
	if s == nil {
		return nil, false
	}
	current := s.values.Load()
	if current == nil {
		return nil, false
	}
	raw, ok := (*current)[key]
	return raw, ok
}

// All returns a copy of every loaded setting.
func (s *Store) All() map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	if s == nil {
		return out
	}
	if current := s.values.Load(); current != nil {
		for k, v := range *current {
			out[k] = v
		}
	}
	return out
}

// Replace swaps the snapshot for values without touching the database.
func (s *Store) Replace(values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		next[k] = v
	}
	s.values.Store(&next)
}

// Reload replaces the snapshot with the contents of the settings table.
func (s *Store) Reload(ctx context.Context, db *gorm.DB) error {
	if s == nil || db == nil {
		return fmt.Errorf("settings: nil store or db")
	}
	var rows []models.Setting
	if errFind := db.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load: %w", errFind)
	}
	next := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		next[row.Key] = json.RawMessage(row.Value)
	}
	s.values.Store(&next)
	return nil
}

// Put upserts a setting and refreshes the snapshot.
func (s *Store) Put(ctx context.Context, db *gorm.DB, key string, value json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("settings: empty key")
	}
	if !json.Valid(value) {
		return fmt.Errorf("settings: %s: invalid json value", key)
	}
	row := models.Setting{Key: key, Value: models.SettingValue(value), UpdatedAt: time.Now().UTC()}
	if errSave := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; errSave != nil {
		return fmt.Errorf("settings: save %s: %w", key, errSave)
	}
	return s.Reload(ctx, db)
}

// Delete removes a setting and refreshes the snapshot. It reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	res := db.WithContext(ctx).Where("key = ?", strings.TrimSpace(key)).Delete(&models.Setting{})
	if res.Error != nil {
		return false, fmt.Errorf("settings: delete %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, s.Reload(ctx, db)
}

// Int returns the non-negative integer setting or fallback.
func (s *Store) Int(key string, fallback int) int {
	if raw, ok := s.DBConfigValue(key); ok {
		if v, okParse := ParseNonNegativeInt(raw); okParse {
			return v
		}
	}
	return fallback
}

// Bool returns the boolean setting or fallback.
func (s *Store) Bool(key string, fallback bool) bool {
	if raw, ok := s.DBConfigValue(key); ok {
		if v, okParse := ParseBool(raw); okParse {
			return v
		}
	}
	return fallback
}

// String returns the string setting or fallback.
func (s *Store) String(key string, fallback string) string {
	if raw, ok := s.DBConfigValue(key); ok {
		if v, okParse := ParseString(raw); okParse {
			return v
		}
	}
	return fallback
}

// ParseBool accepts JSON booleans, 0/1 numbers and common truthy strings.
func ParseBool(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, false
	}
	var parsedBool bool
	if errUnmarshalBool := json.Unmarshal(raw, &parsedBool); errUnmarshalBool == nil {
		return parsedBool, true
	}
	var parsedString string
	if errUnmarshalString := json.Unmarshal(raw, &parsedString); errUnmarshalString == nil {
		switch strings.ToLower(strings.TrimSpace(parsedString)) {
		case "1", "true", "yes", "y", "on":
			return true, true
		case "0", "false", "no", "n", "off":
			return false, true
		default:
			return false, false
		}
	}
	var parsedFloat float64
	if errUnmarshalFloat := json.Unmarshal(raw, &parsedFloat); errUnmarshalFloat == nil {
		switch parsedFloat {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	}
	return false, false
}

// ParseString accepts a JSON string.
func ParseString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	var parsedString string
	if errUnmarshal := json.Unmarshal(raw, &parsedString); errUnmarshal == nil {
		return strings.TrimSpace(parsedString), true
	}
	return "", false
}

// ParseNonNegativeInt accepts JSON integers, integral floats and numeric strings.
func ParseNonNegativeInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var parsedInt int
	if errUnmarshalInt := json.Unmarshal(raw, &parsedInt); errUnmarshalInt == nil {
		return parsedInt, parsedInt >= 0
	}
	var parsedString string
	if errUnmarshalString := json.Unmarshal(raw, &parsedString); errUnmarshalString == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(parsedString))
		if errParse != nil {
			return 0, false
		}
		return parsed, parsed >= 0
	}
	var parsedFloat float64
	if errUnmarshalFloat := json.Unmarshal(raw, &parsedFloat); errUnmarshalFloat == nil {
		if math.IsNaN(parsedFloat) || math.IsInf(parsedFloat, 0) {
			return 0, false
		}
		if parsedFloat < 0 || parsedFloat != math.Trunc(parsedFloat) {
			return 0, false
		}
		return int(parsedFloat), true
	}
	return 0, false
}
