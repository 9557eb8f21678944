package credential

import (
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
)

// PeriodStart returns the start of the usage window containing now.
// The zero time is returned for credentials without a rolling window.
func PeriodStart(period models.UsagePeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.UsagePeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case models.UsagePeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// EffectiveUsage returns the usage counted against the limit at now.
// A counter last reset before the current window counts as zero.
func EffectiveUsage(cred *models.Credential, now time.Time) int64 {
	if cred == nil {
		return 0
	}
	start := PeriodStart(cred.UsageLimitPeriod, now)
	if !start.IsZero() && cred.UsageResetAt != nil && cred.UsageResetAt.Before(start) {
		return 0
	}
	return cred.CurrentUsage
}

// IsExpired reports whether an OAuth credential's access token has expired.
func IsExpired(cred *models.Credential, now time.Time) bool {
	return cred != nil &&
		cred.AuthKind == models.AuthKindOAuth &&
		cred.OAuthExpiresAt != nil &&
		cred.OAuthExpiresAt.Before(now)
}

// IsOverQuota reports whether a configured usage limit has been reached.
func IsOverQuota(cred *models.Credential, now time.Time) bool {
	if !cred.HasUsageLimit() {
		return false
	}
	return EffectiveUsage(cred, now) >= *cred.UsageLimitValue
}

// InCooldown reports whether the credential failed less than cooldown ago.
func InCooldown(cred *models.Credential, now time.Time, cooldown time.Duration) bool {
	if cred == nil || cred.LastErrorAt == nil || cooldown <= 0 {
		return false
	}
	return now.Sub(*cred.LastErrorAt) < cooldown
}

// FailedChecks lists every availability check the credential fails at now.
func FailedChecks(cred *models.Credential, now time.Time, cooldown time.Duration) []resolution.Check {
	var failed []resolution.Check
	if IsExpired(cred, now) {
		failed = append(failed, resolution.CheckExpired)
	}
	if IsOverQuota(cred, now) {
		failed = append(failed, resolution.CheckQuota)
	}
	if InCooldown(cred, now, cooldown) {
		failed = append(failed, resolution.CheckCooldown)
	}
	return failed
}
