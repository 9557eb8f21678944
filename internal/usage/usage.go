// Package usage records per-request metrics and answers aggregate usage queries.
package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/credential"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const recordTimeout = 5 * time.Second

// Metrics describes one completed upstream request.
type Metrics struct {
	RequestTokens  int64
	ResponseTokens int64
	LatencyMs      int64
	Context        resolution.RouteContext
}

// DebugPayloads holds raw request/response bodies, persisted only in debug mode.
type DebugPayloads struct {
	Request  string
	Response string
}

// Tracker persists usage logs and feeds the credential usage counter.
type Tracker struct {
	db          *gorm.DB
	now         func() time.Time
	perUnitMode bool
}

// NewTracker constructs a Tracker backed by GORM.
func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SetPerUnitCounting switches the counter to the credential's limit unit:
// one per request for request limits and latency milliseconds for time limits.
// The default counts total tokens for every limit type.
func (t *Tracker) SetPerUnitCounting(enabled bool) {
	if t != nil {
		t.perUnitMode = enabled
	}
}

// EstimateCost returns the request cost, or nil when either price is unknown.
func EstimateCost(model *models.Model, requestTokens, responseTokens int64) *float64 {
	if !model.HasPricing() {
		return nil
	}
	cost := float64(requestTokens)*(*model.PricingInputPerMTok)/1e6 +
		float64(responseTokens)*(*model.PricingOutputPerMTok)/1e6
	return &cost
}

// CounterIncrement returns how much a request adds to the credential's usage counter.
// Unless perUnit is set this is the total token count regardless of limit type.
func CounterIncrement(cred *models.Credential, metrics Metrics, perUnit bool) int64 {
	total := metrics.RequestTokens + metrics.ResponseTokens
	if !perUnit {
		return total
	}
	switch cred.UsageLimitType {
	case models.UsageLimitRequest:
		return 1
	case models.UsageLimitTime:
		return metrics.LatencyMs
	default:
		return total
	}
}

// Record appends a usage log and bumps the credential counter in one transaction.
// Failures are logged and never returned: usage accounting must not fail the request it describes.
func (t *Tracker) Record(ctx context.Context, cred *models.Credential, provider *models.Provider, model *models.Model, metrics Metrics, debugMode bool, payloads *DebugPayloads) {
	if t == nil || t.db == nil || cred == nil || provider == nil || model == nil {
		log.Warn("usage: record skipped, missing tracker or entities")
		return
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	now := t.now()
	row := models.UsageLog{
		CredentialID:   cred.ID,
		ProviderID:     provider.ID,
		ModelID:        model.ID,
		RequestTokens:  metrics.RequestTokens,
		ResponseTokens: metrics.ResponseTokens,
		TotalTokens:    metrics.RequestTokens + metrics.ResponseTokens,
		LatencyMs:      metrics.LatencyMs,
		EstimatedCost:  EstimateCost(model, metrics.RequestTokens, metrics.ResponseTokens),
		ChatID:         strings.TrimSpace(metrics.Context.ChatID),
		SubChatID:      strings.TrimSpace(metrics.Context.SubChatID),
		AgentID:        strings.TrimSpace(metrics.Context.AgentID),
		CreatedAt:      now,
	}
	if debugMode && payloads != nil {
		row.RequestPayload = payloads.Request
		row.ResponsePayload = payloads.Response
	}

	increment := CounterIncrement(cred, metrics, t.perUnitMode)
	if errTx := t.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("insert usage log: %w", errCreate)
		}
		if increment == 0 {
			return nil
		}
		if _, errInc := credential.IncrementUsage(dbCtx, tx, cred.ID, increment, now); errInc != nil {
			return errInc
		}
		return nil
	}); errTx != nil {
		log.WithError(errTx).WithFields(log.Fields{
			"credential": cred.ID,
			"provider":   provider.ID,
			"model":      model.ID,
		}).Warn("usage: failed to persist usage")
	}
}

// Cleanup deletes usage logs created before now minus olderThanDays and returns the count.
func (t *Tracker) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("usage: cleanup: days must be positive, got %d", olderThanDays)
	}
	cutoff := t.now().AddDate(0, 0, -olderThanDays)
	res := t.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.UsageLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("usage: cleanup: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.WithFields(log.Fields{"deleted": res.RowsAffected, "cutoff": cutoff}).Info("usage: cleaned up old usage logs")
	}
	return res.RowsAffected, nil
}
