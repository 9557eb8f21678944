package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
	"gorm.io/gorm"
)

// CredentialInput describes a credential to create. Secrets are given in plaintext.
type CredentialInput struct {
	ProviderID        string                `json:"provider_id"`
	Label             string                `json:"label"`
	AuthKind          models.AuthKind       `json:"auth_kind"`
	APIKey            string                `json:"api_key"`
	OAuthAccessToken  string                `json:"oauth_access_token"`
	OAuthRefreshToken string                `json:"oauth_refresh_token"`
	OAuthExpiresAt    *time.Time            `json:"oauth_expires_at"`
	IsActive          *bool                 `json:"is_active"`
	Priority          int                   `json:"priority"`
	UsageLimitType    models.UsageLimitType `json:"usage_limit_type"`
	UsageLimitValue   *int64                `json:"usage_limit_value"`
	UsageLimitPeriod  models.UsagePeriod    `json:"usage_limit_period"`
}

// CredentialPatch updates mutable credential fields. Nil fields are left unchanged.
type CredentialPatch struct {
	Label            *string                `json:"label"`
	IsActive         *bool                  `json:"is_active"`
	Priority         *int                   `json:"priority"`
	UsageLimitType   *models.UsageLimitType `json:"usage_limit_type"`
	UsageLimitValue  *int64                 `json:"usage_limit_value"`
	UsageLimitPeriod *models.UsagePeriod    `json:"usage_limit_period"`
}

func validLimitType(t models.UsageLimitType) bool {
	switch t {
	case models.UsageLimitNone, models.UsageLimitTime, models.UsageLimitToken, models.UsageLimitRequest:
		return true
	default:
		return false
	}
}

func validPeriod(p models.UsagePeriod) bool {
	switch p {
	case models.UsagePeriodNone, models.UsagePeriodDaily, models.UsagePeriodMonthly:
		return true
	default:
		return false
	}
}

// CreateCredential seals the secrets of in and stores the credential.
func (c *Catalog) CreateCredential(ctx context.Context, in CredentialInput) (*models.Credential, error) {
	provider, errProvider := c.GetProvider(ctx, in.ProviderID)
	if errProvider != nil {
		return nil, errProvider
	}
	if in.AuthKind == "" {
		in.AuthKind = provider.AuthKind
	}
	if !in.AuthKind.Valid() {
		return nil, fmt.Errorf("%w: unknown auth kind %q", ErrInvalidInput, in.AuthKind)
	}
	if in.UsageLimitPeriod == "" {
		in.UsageLimitPeriod = models.UsagePeriodNone
	}
	if !validLimitType(in.UsageLimitType) || !validPeriod(in.UsageLimitPeriod) {
		return nil, fmt.Errorf("%w: invalid usage limit %q/%q", ErrInvalidInput, in.UsageLimitType, in.UsageLimitPeriod)
	}
	if in.UsageLimitValue != nil && *in.UsageLimitValue < 0 {
		return nil, fmt.Errorf("%w: usage limit must not be negative", ErrInvalidInput)
	}
	if in.UsageLimitValue != nil && in.UsageLimitType == models.UsageLimitNone {
		in.UsageLimitType = models.UsageLimitToken
	}
	switch in.AuthKind {
	case models.AuthKindAPIKey:
		if strings.TrimSpace(in.APIKey) == "" {
			return nil, fmt.Errorf("%w: api key is required", ErrInvalidInput)
		}
	case models.AuthKindOAuth:
		if strings.TrimSpace(in.OAuthAccessToken) == "" {
			return nil, fmt.Errorf("%w: oauth access token is required", ErrInvalidInput)
		}
	}

	now := c.now()
	row := models.Credential{
		ProviderID:       provider.ID,
		Label:            strings.TrimSpace(in.Label),
		AuthKind:         in.AuthKind,
		IsActive:         in.IsActive == nil || *in.IsActive,
		Priority:         in.Priority,
		UsageLimitType:   in.UsageLimitType,
		UsageLimitValue:  in.UsageLimitValue,
		UsageLimitPeriod: in.UsageLimitPeriod,
		UsageResetAt:     &now,
	}
	if in.OAuthExpiresAt != nil {
		expires := in.OAuthExpiresAt.UTC()
		row.OAuthExpiresAt = &expires
	}
	if errSeal := c.sealInto(&row, strings.TrimSpace(in.APIKey), in.OAuthAccessToken, in.OAuthRefreshToken); errSeal != nil {
		return nil, errSeal
	}
	if errCreate := c.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("catalog: create credential: %w", errCreate)
	}
	return &row, nil
}

func (c *Catalog) sealInto(row *models.Credential, apiKey, accessToken, refreshToken string) error {
	if c.secrets == nil {
		return fmt.Errorf("catalog: no secret store configured")
	}
	fields := []struct {
		plain string
		dst   *string
	}{
		{apiKey, &row.EncryptedAPIKey},
		{accessToken, &row.EncryptedOAuthAccessToken},
		{refreshToken, &row.EncryptedOAuthRefreshToken},
	}
	for _, field := range fields {
		if field.plain == "" {
			continue
		}
		sealed, errEncrypt := c.secrets.Encrypt(field.plain)
		if errEncrypt != nil {
			return fmt.Errorf("catalog: seal secret: %w", errEncrypt)
		}
		*field.dst = sealed
		row.SecretEncoding = secretstore.EncodingOf(sealed)
	}
	return nil
}

// GetCredential loads a credential by id.
func (c *Catalog) GetCredential(ctx context.Context, id uint64) (*models.Credential, error) {
	var row models.Credential
	if errFind := c.db.WithContext(ctx).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, resolution.ErrCredentialNotFound.WithMessage(fmt.Sprintf("credential %d not found", id))
		}
		return nil, fmt.Errorf("catalog: load credential: %w", errFind)
	}
	return &row, nil
}

// ListCredentials returns the credentials of a provider in resolution order.
func (c *Catalog) ListCredentials(ctx context.Context, providerID string) ([]models.Credential, error) {
	var rows []models.Credential
	if errFind := c.db.WithContext(ctx).
		Where("provider_id = ?", strings.TrimSpace(providerID)).
		Order("priority ASC").
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list credentials: %w", errFind)
	}
	return rows, nil
}

// UpdateCredential applies patch. It returns false for unknown credentials.
func (c *Catalog) UpdateCredential(ctx context.Context, id uint64, patch CredentialPatch) (bool, error) {
	updates := map[string]any{}
	if patch.Label != nil {
		updates["label"] = strings.TrimSpace(*patch.Label)
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	if patch.Priority != nil {
		updates["priority"] = *patch.Priority
	}
	if patch.UsageLimitType != nil {
		if !validLimitType(*patch.UsageLimitType) {
			return false, fmt.Errorf("%w: invalid usage limit type %q", ErrInvalidInput, *patch.UsageLimitType)
		}
		updates["usage_limit_type"] = *patch.UsageLimitType
	}
	if patch.UsageLimitValue != nil {
		if *patch.UsageLimitValue < 0 {
			return false, fmt.Errorf("%w: usage limit must not be negative", ErrInvalidInput)
		}
		updates["usage_limit_value"] = *patch.UsageLimitValue
		limitType, errType := c.effectiveLimitType(ctx, id, patch.UsageLimitType)
		if errType != nil {
			return false, errType
		}
		if limitType == models.UsageLimitNone {
			updates["usage_limit_type"] = models.UsageLimitToken
		}
	}
	if patch.UsageLimitPeriod != nil {
		if !validPeriod(*patch.UsageLimitPeriod) {
			return false, fmt.Errorf("%w: invalid usage period %q", ErrInvalidInput, *patch.UsageLimitPeriod)
		}
		updates["usage_limit_period"] = *patch.UsageLimitPeriod
	}
	updates["updated_at"] = c.now()
	res := c.db.WithContext(ctx).Model(&models.Credential{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("catalog: update credential: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// effectiveLimitType is the limit type a patch leaves on the credential.
func (c *Catalog) effectiveLimitType(ctx context.Context, id uint64, patched *models.UsageLimitType) (models.UsageLimitType, error) {
	if patched != nil {
		return *patched, nil
	}
	var row models.Credential
	errFind := c.db.WithContext(ctx).Select("usage_limit_type").Where("id = ?", id).Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.UsageLimitToken, nil
	}
	if errFind != nil {
		return "", fmt.Errorf("catalog: load credential: %w", errFind)
	}
	return row.UsageLimitType, nil
}

// StoreOAuthTokens replaces the OAuth material of a credential, for example after an external refresh.
func (c *Catalog) StoreOAuthTokens(ctx context.Context, id uint64, accessToken, refreshToken string, expiresAt *time.Time) (bool, error) {
	var row models.Credential
	if errSeal := c.sealInto(&row, "", accessToken, refreshToken); errSeal != nil {
		return false, errSeal
	}
	updates := map[string]any{
		"encrypted_oauth_access_token": row.EncryptedOAuthAccessToken,
		"oauth_expires_at":             nil,
		"updated_at":                   c.now(),
	}
	if row.EncryptedOAuthRefreshToken != "" {
		updates["encrypted_oauth_refresh_token"] = row.EncryptedOAuthRefreshToken
	}
	if row.SecretEncoding != "" {
		updates["secret_encoding"] = row.SecretEncoding
	}
	if expiresAt != nil {
		updates["oauth_expires_at"] = expiresAt.UTC()
	}
	res := c.db.WithContext(ctx).Model(&models.Credential{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("catalog: store oauth tokens: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteCredential removes a credential and its usage logs.
func (c *Catalog) DeleteCredential(ctx context.Context, id uint64) (bool, error) {
	var deleted int64
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLogs := tx.Where("credential_id = ?", id).Delete(&models.UsageLog{}).Error; errLogs != nil {
			return fmt.Errorf("catalog: delete usage logs: %w", errLogs)
		}
		res := tx.Delete(&models.Credential{}, id)
		if res.Error != nil {
			return fmt.Errorf("catalog: delete credential: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	if errTx != nil {
		return false, errTx
	}
	return deleted > 0, nil
}
