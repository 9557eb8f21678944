package credential

import (
	"testing"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
)

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 7, 19, 23, 59, 0, 0, time.UTC)
	if got := PeriodStart(models.UsagePeriodDaily, now); !got.Equal(time.Date(2026, 7, 19, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected daily start %v", got)
	}
	if got := PeriodStart(models.UsagePeriodMonthly, now); !got.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected monthly start %v", got)
	}
	if got := PeriodStart(models.UsagePeriodNone, now); !got.IsZero() {
		t.Fatalf("expected zero start for none, got %v", got)
	}
}

func TestFailedChecks(t *testing.T) {
	now := testNow
	cred := &models.Credential{
		AuthKind:        models.AuthKindOAuth,
		OAuthExpiresAt:  timePtr(now.Add(-time.Second)),
		UsageLimitType:  models.UsageLimitTime,
		UsageLimitValue: int64Ptr(1000),
		CurrentUsage:    1000,
		LastErrorAt:     timePtr(now.Add(-59 * time.Second)),
	}
	got := FailedChecks(cred, now, DefaultCooldown)
	want := []resolution.Check{resolution.CheckExpired, resolution.CheckQuota, resolution.CheckCooldown}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	apiKey := &models.Credential{AuthKind: models.AuthKindAPIKey, OAuthExpiresAt: timePtr(now.Add(-time.Hour))}
	if IsExpired(apiKey, now) {
		t.Fatalf("api key credentials never expire")
	}
	noLimitValue := &models.Credential{UsageLimitType: models.UsageLimitToken, CurrentUsage: 1 << 40}
	if IsOverQuota(noLimitValue, now) {
		t.Fatalf("limit without value must not block")
	}
}
