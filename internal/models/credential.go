package models

import "time"

// UsageLimitType is the unit a credential usage limit is measured in.
type UsageLimitType string

// UsageLimitType constants.
const (
	// UsageLimitNone disables the limit.
	UsageLimitNone UsageLimitType = ""
	// UsageLimitTime counts upstream latency in milliseconds.
	UsageLimitTime UsageLimitType = "time"
	// UsageLimitToken counts total tokens.
	UsageLimitToken UsageLimitType = "token"
	// UsageLimitRequest counts requests.
	UsageLimitRequest UsageLimitType = "request"
)

// UsagePeriod is the window after which a usage counter rolls over.
type UsagePeriod string

// UsagePeriod constants.
const (
	// UsagePeriodNone never rolls over.
	UsagePeriodNone UsagePeriod = "none"
	// UsagePeriodDaily rolls over at UTC midnight.
	UsagePeriodDaily UsagePeriod = "daily"
	// UsagePeriodMonthly rolls over on the first day of the UTC month.
	UsagePeriodMonthly UsagePeriod = "monthly"
)

// Secret encodings recorded on a credential.
const (
	// SecretEncodingKeyring marks secrets sealed with the keychain-held key.
	SecretEncodingKeyring = "keyring"
	// SecretEncodingPlain marks secrets stored with the degraded reversible encoding.
	SecretEncodingPlain = "plain-base64"
)

// Credential is one set of auth material belonging to a provider.
type Credential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key; insertion order breaks priority ties.

	ProviderID string   `gorm:"type:varchar(64);not null;index:idx_credentials_resolve,priority:1"` // Owning provider.
	Label      string   `gorm:"type:text"`                                                           // Human label.
	AuthKind   AuthKind `gorm:"type:varchar(16);not null"`                                           // Authentication kind.

	EncryptedAPIKey            string     `gorm:"type:text"`                                     // Sealed API key.
	EncryptedOAuthAccessToken  string     `gorm:"column:encrypted_oauth_access_token;type:text"`  // Sealed OAuth access token.
	EncryptedOAuthRefreshToken string     `gorm:"column:encrypted_oauth_refresh_token;type:text"` // Sealed OAuth refresh token.
	OAuthExpiresAt             *time.Time `gorm:"column:oauth_expires_at;index"`                 // Access token expiry.
	SecretEncoding             string     `gorm:"type:varchar(32)"`                              // Encoding used to seal secrets.

	IsActive bool `gorm:"not null;index:idx_credentials_resolve,priority:2"`           // Eligible for resolution.
	Priority int  `gorm:"not null;default:0;index:idx_credentials_resolve,priority:3"` // Lower is tried first.

	UsageLimitType   UsageLimitType `gorm:"type:varchar(16)"`                         // Limit unit.
	UsageLimitValue  *int64         `gorm:"type:bigint"`                              // Limit threshold.
	UsageLimitPeriod UsagePeriod    `gorm:"type:varchar(16);not null;default:'none'"` // Rollover window.
	CurrentUsage     int64          `gorm:"not null;default:0"`                       // Running usage counter.
	UsageResetAt     *time.Time     `gorm:"index"`                                    // Last counter reset.

	LastError   string     `gorm:"type:text"` // Last reported upstream error.
	LastErrorAt *time.Time `gorm:"index"`     // When the last error was reported.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasUsageLimit reports whether a usage limit is configured.
func (c *Credential) HasUsageLimit() bool {
	return c != nil && c.UsageLimitType != UsageLimitNone && c.UsageLimitValue != nil
}
