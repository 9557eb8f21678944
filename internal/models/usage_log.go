package models

import "time"

// UsageLog records one completed request.
type UsageLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CredentialID uint64      `gorm:"not null;index"`                                       // Credential used.
	Credential   *Credential `gorm:"foreignKey:CredentialID;constraint:OnDelete:CASCADE"` // Credential relation.
	ProviderID   string      `gorm:"type:varchar(64);not null;index"`                      // Provider used.
	ModelID      string      `gorm:"type:varchar(255);not null;index"`                     // Logical model id.

	RequestTokens  int64    `gorm:"not null;default:0"`  // Prompt tokens.
	ResponseTokens int64    `gorm:"not null;default:0"`  // Completion tokens.
	TotalTokens    int64    `gorm:"not null;default:0"`  // Request plus response tokens.
	LatencyMs      int64    `gorm:"not null;default:0"`  // Upstream latency.
	EstimatedCost  *float64 `gorm:"type:decimal(20,10)"` // Nil when pricing is unknown.

	ChatID    string `gorm:"type:varchar(255);index"` // Optional chat context.
	SubChatID string `gorm:"type:varchar(255)"`       // Optional sub-chat context.
	AgentID   string `gorm:"type:varchar(255)"`       // Optional agent context.

	RequestPayload  string `gorm:"type:text"` // Raw request, debug mode only.
	ResponsePayload string `gorm:"type:text"` // Raw response, debug mode only.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
