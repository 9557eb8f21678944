package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"gorm.io/gorm"
)

// Scope narrows usage queries. Empty fields match everything.
type Scope struct {
	CredentialID uint64
	ProviderID   string
	ModelID      string
	Since        *time.Time
}

// Summary aggregates usage logs.
type Summary struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

const defaultListLimit = 100

func (s Scope) apply(q *gorm.DB) *gorm.DB {
	if s.CredentialID != 0 {
		q = q.Where("credential_id = ?", s.CredentialID)
	}
	if providerID := strings.TrimSpace(s.ProviderID); providerID != "" {
		q = q.Where("provider_id = ?", providerID)
	}
	if modelID := strings.TrimSpace(s.ModelID); modelID != "" {
		q = q.Where("model_id = ?", modelID)
	}
	if s.Since != nil {
		q = q.Where("created_at >= ?", s.Since.UTC())
	}
	return q
}

// UsageFor returns matching logs, most recent first.
func (t *Tracker) UsageFor(ctx context.Context, scope Scope, limit int) ([]models.UsageLog, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []models.UsageLog
	if errFind := scope.apply(t.db.WithContext(ctx).Model(&models.UsageLog{})).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("usage: list: %w", errFind)
	}
	return rows, nil
}

// Summary aggregates matching logs. No matching rows yields the zero Summary.
func (t *Tracker) Summary(ctx context.Context, scope Scope) (Summary, error) {
	var out Summary
	if errScan := scope.apply(t.db.WithContext(ctx).Model(&models.UsageLog{})).
		Select(
			"COUNT(*) AS total_requests, " +
				"COALESCE(SUM(total_tokens), 0) AS total_tokens, " +
				"COALESCE(SUM(estimated_cost), 0) AS total_cost, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms",
		).
		Scan(&out).Error; errScan != nil {
		return Summary{}, fmt.Errorf("usage: summary: %w", errScan)
	}
	return out, nil
}
