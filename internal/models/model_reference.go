package models

import (
	"time"

	"gorm.io/datatypes"
)

// ModelReference stores provider model pricing references.
type ModelReference struct {
	ProviderName string `gorm:"type:varchar(255);not null;primaryKey;index"` // Provider display name.
	ModelID      string `gorm:"type:varchar(255);not null;primaryKey;index"` // Upstream model id.
	ModelName    string `gorm:"type:varchar(255);not null"`                  // Model display name.

	ContextLimit int `gorm:"not null;default:0"` // Max context length.
	OutputLimit  int `gorm:"not null;default:0"` // Max output tokens.

	SupportsVision bool `gorm:"not null;default:false"` // Image input modality advertised.
	SupportsTools  bool `gorm:"not null;default:false"` // Tool calling advertised.

	InputPrice      *float64 `gorm:"type:decimal(20,10)"` // Input token price per million.
	OutputPrice     *float64 `gorm:"type:decimal(20,10)"` // Output token price per million.
	CacheReadPrice  *float64 `gorm:"type:decimal(20,10)"` // Cached read price.
	CacheWritePrice *float64 `gorm:"type:decimal(20,10)"` // Cached write price.

	Extra      datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Extra payload fields.
	LastSeenAt time.Time      `gorm:"not null;index"`                   // Last sync timestamp.
	CreatedAt  time.Time      `gorm:"not null;autoCreateTime"`          // Creation timestamp.
	UpdatedAt  time.Time      `gorm:"not null;autoUpdateTime"`          // Update timestamp.
}

// TableName overrides the default table name.
func (ModelReference) TableName() string {
	return "model_references"
}
