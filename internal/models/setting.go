package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Setting stores a runtime-tunable value keyed by name.
type Setting struct {
	Key   string       `gorm:"type:varchar(128);primaryKey"` // Setting key.
	Value SettingValue `gorm:"not null"`                     // JSON encoded value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// SettingValue is a raw JSON document. SQLite stores it as text so scalar
// documents such as 0 or false are not coerced to numeric storage classes.
type SettingValue json.RawMessage

// GormDBDataType picks the column type per dialect.
func (SettingValue) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "jsonb"
	case "mysql":
		return "json"
	default:
		return "text"
	}
}

// Value implements driver.Valuer.
func (v SettingValue) Value() (driver.Value, error) {
	if len(v) == 0 {
		return "null", nil
	}
	return string(v), nil
}

// Scan implements sql.Scanner. Numeric and boolean storage classes written
// by older schemas are re-encoded as JSON.
func (v *SettingValue) Scan(value any) error {
	switch typed := value.(type) {
	case nil:
		*v = SettingValue("null")
	case []byte:
		*v = append(SettingValue(nil), typed...)
	case string:
		*v = SettingValue(typed)
	case int64:
		*v = SettingValue(strconv.FormatInt(typed, 10))
	case float64:
		*v = SettingValue(strconv.FormatFloat(typed, 'f', -1, 64))
	case bool:
		*v = SettingValue(strconv.FormatBool(typed))
	default:
		return fmt.Errorf("setting value: unsupported type %T", value)
	}
	return nil
}

// MarshalJSON emits the raw document.
func (v SettingValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

// UnmarshalJSON stores a copy of data.
func (v *SettingValue) UnmarshalJSON(data []byte) error {
	*v = append((*v)[0:0], data...)
	return nil
}
