package models

import "time"

// AuthKind identifies how a provider or credential authenticates upstream.
type AuthKind string

// AuthKind constants.
const (
	// AuthKindOAuth uses delegated OAuth access/refresh tokens.
	AuthKindOAuth AuthKind = "oauth"
	// AuthKindAPIKey uses a static API key.
	AuthKindAPIKey AuthKind = "api_key"
)

// Valid reports whether the auth kind is known.
func (k AuthKind) Valid() bool {
	return k == AuthKindOAuth || k == AuthKindAPIKey
}

// ProviderRole marks a provider as the primary backend or a secondary one.
type ProviderRole string

// ProviderRole constants.
const (
	// ProviderRolePrimary is held by exactly one provider at a time.
	ProviderRolePrimary ProviderRole = "primary"
	// ProviderRoleSecondary is the default role.
	ProviderRoleSecondary ProviderRole = "secondary"
)

// APIFormat is the wire format spoken by a provider.
type APIFormat string

// APIFormat constants.
const (
	// APIFormatOpenAI is the OpenAI-compatible chat completions format.
	APIFormatOpenAI APIFormat = "openai"
	// APIFormatAnthropic is the Anthropic messages format.
	APIFormatAnthropic APIFormat = "anthropic"
)

// Valid reports whether the API format is known.
func (f APIFormat) Valid() bool {
	return f == APIFormatOpenAI || f == APIFormatAnthropic
}

// Provider is a configured AI backend.
type Provider struct {
	ID string `gorm:"type:varchar(64);primaryKey"` // Provider identifier.

	Name      string       `gorm:"type:text;not null"`                            // Display name.
	AuthKind  AuthKind     `gorm:"type:varchar(16);not null"`                     // Authentication kind.
	Role      ProviderRole `gorm:"type:varchar(16);not null;default:'secondary'"` // Primary or secondary.
	Builtin   bool         `gorm:"not null;default:false"`                        // Created by startup migration.
	BaseURL   string       `gorm:"type:text"`                                     // Optional base URL override.
	APIFormat APIFormat    `gorm:"type:varchar(16);not null;default:'openai'"`    // Upstream wire format.

	Credentials []Credential `gorm:"foreignKey:ProviderID;constraint:OnDelete:CASCADE"` // Owned credentials.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsPrimary reports whether the provider holds the primary role.
func (p *Provider) IsPrimary() bool {
	return p != nil && p.Role == ProviderRolePrimary
}
