package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"gorm.io/gorm"
)

// rolledOverCond matches rows whose counter belongs to an earlier window.
// Binds: daily window start, monthly window start.
const rolledOverCond = "(usage_reset_at IS NOT NULL AND ((usage_limit_period = 'daily' AND usage_reset_at < ?) OR (usage_limit_period = 'monthly' AND usage_reset_at < ?)))"

// IncrementUsage adds amount to the credential's usage counter in one statement.
// A counter from an earlier daily or monthly window restarts at amount.
// It returns false when the credential does not exist.
func IncrementUsage(ctx context.Context, db *gorm.DB, credentialID uint64, amount int64, now time.Time) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("credential: increment usage: nil db")
	}
	now = now.UTC()
	dayStart := PeriodStart(models.UsagePeriodDaily, now)
	monthStart := PeriodStart(models.UsagePeriodMonthly, now)

	res := db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Updates(map[string]any{
			"current_usage": gorm.Expr(
				"CASE WHEN "+rolledOverCond+" THEN ? ELSE current_usage + ? END",
				dayStart, monthStart, amount, amount,
			),
			"usage_reset_at": gorm.Expr(
				"CASE WHEN "+rolledOverCond+" THEN ? ELSE usage_reset_at END",
				dayStart, monthStart, now,
			),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("credential: increment usage: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
