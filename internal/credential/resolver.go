// Package credential picks the best usable credential of a provider and
// maintains the per-credential usage and error bookkeeping.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultCooldown is how long a credential is skipped after a reported error.
const DefaultCooldown = 60 * time.Second

// Resolver selects credentials. It never writes during resolution and is safe for concurrent use.
type Resolver struct {
	db       *gorm.DB
	secrets  secretstore.Store
	cooldown atomic.Int64
	now      func() time.Time
}

// NewResolver constructs a Resolver. A non-positive cooldown selects DefaultCooldown.
func NewResolver(db *gorm.DB, secrets secretstore.Store, cooldown time.Duration) *Resolver {
	r := &Resolver{
		db:      db,
		secrets: secrets,
		now:     func() time.Time { return time.Now().UTC() },
	}
	r.SetCooldown(cooldown)
	return r
}

// Cooldown returns the circuit breaker window.
func (r *Resolver) Cooldown() time.Duration {
	return time.Duration(r.cooldown.Load())
}

// SetCooldown changes the circuit breaker window for subsequent resolutions.
// A non-positive value selects DefaultCooldown.
func (r *Resolver) SetCooldown(cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	r.cooldown.Store(int64(cooldown))
}

// Resolve returns the first active credential of the provider, by priority then id,
// that is not expired, over quota or cooling down. When every credential fails a
// check the first one is returned with Degraded set.
func (r *Resolver) Resolve(ctx context.Context, providerID string, rctx resolution.RouteContext) (*resolution.ResolvedCredential, error) {
	providerID = strings.TrimSpace(providerID)
	db := r.db.WithContext(ctx)

	var provider models.Provider
	if errFind := db.Where("id = ?", providerID).First(&provider).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, resolution.ErrProviderNotFound.WithMessage(fmt.Sprintf("provider %q not found", providerID))
		}
		return nil, fmt.Errorf("credential: load provider: %w", errFind)
	}

	var creds []models.Credential
	if errFind := db.
		Where("provider_id = ? AND is_active = ?", providerID, true).
		Order("priority ASC").
		Order("id ASC").
		Find(&creds).Error; errFind != nil {
		return nil, fmt.Errorf("credential: load credentials: %w", errFind)
	}
	if len(creds) == 0 {
		return nil, resolution.ErrNoActiveCredential.WithMessage(fmt.Sprintf("no active credential for provider %q", providerID))
	}

	now := r.now()
	cooldown := r.Cooldown()
	chosen := -1
	var firstFailed []resolution.Check
	for i := range creds {
		failed := FailedChecks(&creds[i], now, cooldown)
		if len(failed) == 0 {
			chosen = i
			break
		}
		if i == 0 {
			firstFailed = failed
		}
		log.WithFields(log.Fields{
			"provider":   providerID,
			"credential": creds[i].ID,
			"checks":     failed,
		}).Debug("credential: skipped unavailable credential")
	}

	out := &resolution.ResolvedCredential{Provider: provider}
	if chosen < 0 {
		chosen = 0
		out.Degraded = true
		out.DegradedReasons = firstFailed
		log.WithFields(log.Fields{
			"provider":   providerID,
			"credential": creds[0].ID,
			"checks":     firstFailed,
			"chat_id":    rctx.ChatID,
			"agent_id":   rctx.AgentID,
		}).Warn("credential: no credential passed availability checks, using first by priority")
	}
	out.Credential = creds[chosen]
	r.openSecrets(out)
	return out, nil
}

// openSecrets decrypts each secret independently. A field that fails stays empty.
func (r *Resolver) openSecrets(out *resolution.ResolvedCredential) {
	cred := &out.Credential
	out.APIKey = r.open(cred.ID, "api_key", cred.EncryptedAPIKey)
	out.OAuthToken = r.open(cred.ID, "oauth_access_token", cred.EncryptedOAuthAccessToken)
	out.SecretStoreDegraded = secretstore.IsDegraded(cred.EncryptedAPIKey) ||
		secretstore.IsDegraded(cred.EncryptedOAuthAccessToken)
}

func (r *Resolver) open(credentialID uint64, field, sealed string) string {
	if sealed == "" {
		return ""
	}
	if r.secrets == nil {
		log.WithFields(log.Fields{"credential": credentialID, "field": field}).Warn("credential: no secret store configured")
		return ""
	}
	plain, errDecrypt := r.secrets.Decrypt(sealed)
	if errDecrypt != nil {
		log.WithError(errDecrypt).WithFields(log.Fields{
			"credential": credentialID,
			"field":      field,
		}).Warn("credential: decrypt secret failed")
		return ""
	}
	return plain
}

// RecordError stores the upstream error and opens the circuit breaker window.
// It returns false when the credential does not exist.
func (r *Resolver) RecordError(ctx context.Context, credentialID uint64, message string) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Updates(map[string]any{
			"last_error":    message,
			"last_error_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("credential: record error: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ClearError closes the circuit breaker window early.
func (r *Resolver) ClearError(ctx context.Context, credentialID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Updates(map[string]any{
			"last_error":    "",
			"last_error_at": nil,
			"updated_at":    r.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("credential: clear error: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateUsage atomically adds tokens to the usage counter.
func (r *Resolver) UpdateUsage(ctx context.Context, credentialID uint64, tokens int64) (bool, error) {
	return IncrementUsage(ctx, r.db, credentialID, tokens, r.now())
}

// ResetUsage zeroes the usage counter and starts a new window.
func (r *Resolver) ResetUsage(ctx context.Context, credentialID uint64) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Updates(map[string]any{
			"current_usage":  0,
			"usage_reset_at": now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("credential: reset usage: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
