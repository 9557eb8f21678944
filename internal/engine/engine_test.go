package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/usage"
	"gorm.io/gorm"
)

type fixture struct {
	conn    *gorm.DB
	catalog *catalog.Catalog
	small   *models.Credential
	backup  *models.Credential
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "engine.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	ctx := context.Background()
	cat := catalog.New(conn, secretstore.NewDegradedStore())
	if _, errCreate := cat.CreateProvider(ctx, catalog.ProviderInput{ID: "claude", Name: "Claude", AuthKind: models.AuthKindOAuth}); errCreate != nil {
		t.Fatalf("create claude: %v", errCreate)
	}
	if _, errCreate := cat.CreateProvider(ctx, catalog.ProviderInput{ID: "openai", Name: "OpenAI", AuthKind: models.AuthKindAPIKey}); errCreate != nil {
		t.Fatalf("create openai: %v", errCreate)
	}
	limit := int64(100)
	small, errSmall := cat.CreateCredential(ctx, catalog.CredentialInput{
		ProviderID:      "openai",
		Label:           "small",
		AuthKind:        models.AuthKindAPIKey,
		APIKey:          "sk-small",
		UsageLimitType:  models.UsageLimitToken,
		UsageLimitValue: &limit,
	})
	if errSmall != nil {
		t.Fatalf("create small credential: %v", errSmall)
	}
	backup, errBackup := cat.CreateCredential(ctx, catalog.CredentialInput{
		ProviderID: "openai",
		Label:      "backup",
		AuthKind:   models.AuthKindAPIKey,
		APIKey:     "sk-backup",
		Priority:   1,
	})
	if errBackup != nil {
		t.Fatalf("create backup credential: %v", errBackup)
	}
	if _, errModel := cat.ImportModel(ctx, catalog.ModelInput{ID: "gpt-4o", Name: "GPT-4o"}, "claude,openai", "D,A"); errModel != nil {
		t.Fatalf("import model: %v", errModel)
	}
	return &fixture{conn: conn, catalog: cat, small: small, backup: backup}
}

func TestUsageFeedbackSwitchesCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := New(f.conn, secretstore.NewDegradedStore(), Options{})

	first, errResolve := e.ResolveModel(ctx, "gpt-4o", "", resolution.RouteContext{})
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if first.ProviderIndex != 1 || first.Provider.ID != "openai" {
		t.Fatalf("expected openai at index 1, got %s at %d", first.Provider.ID, first.ProviderIndex)
	}
	if first.Credential.Credential.ID != f.small.ID || first.Credential.APIKey != "sk-small" {
		t.Fatalf("expected small credential, got %d", first.Credential.Credential.ID)
	}

	e.RecordResolution(ctx, first, usage.Metrics{RequestTokens: 60, ResponseTokens: 50}, false, nil)

	second, errResolve := e.ResolveModel(ctx, "gpt-4o", "", resolution.RouteContext{})
	if errResolve != nil {
		t.Fatalf("resolve after usage: %v", errResolve)
	}
	if second.Credential.Credential.ID != f.backup.ID {
		t.Fatalf("expected backup credential after quota, got %d", second.Credential.Credential.ID)
	}
	if second.Credential.Degraded {
		t.Fatalf("backup credential should not be degraded")
	}

	if ok, errReset := e.ResetCredentialUsage(ctx, f.small.ID); errReset != nil || !ok {
		t.Fatalf("reset usage: ok=%v err=%v", ok, errReset)
	}
	third, errResolve := e.ResolveModel(ctx, "gpt-4o", "", resolution.RouteContext{})
	if errResolve != nil {
		t.Fatalf("resolve after reset: %v", errResolve)
	}
	if third.Credential.Credential.ID != f.small.ID {
		t.Fatalf("expected small credential after reset, got %d", third.Credential.Credential.ID)
	}
}

func TestErrorsOnEveryCredentialFallBackDegraded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := New(f.conn, secretstore.NewDegradedStore(), Options{Cooldown: time.Hour})

	for _, id := range []uint64{f.small.ID, f.backup.ID} {
		if ok, errRecord := e.RecordCredentialError(ctx, id, "upstream 500"); errRecord != nil || !ok {
			t.Fatalf("record error %d: ok=%v err=%v", id, ok, errRecord)
		}
	}
	got, errResolve := e.ResolveCredential(ctx, "openai", resolution.RouteContext{})
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	if !got.Degraded || got.Credential.ID != f.small.ID {
		t.Fatalf("expected degraded small credential, got degraded=%v id=%d", got.Degraded, got.Credential.ID)
	}
	if len(got.DegradedReasons) != 1 || got.DegradedReasons[0] != resolution.CheckCooldown {
		t.Fatalf("expected cooldown reason, got %v", got.DegradedReasons)
	}
}

func TestMappingMutationsAffectRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := New(f.conn, secretstore.NewDegradedStore(), Options{})

	if ok, errUpdate := e.UpdateModelProviderStatus(ctx, "gpt-4o", "openai", models.ProviderStatusExcluded); errUpdate != nil || !ok {
		t.Fatalf("exclude openai: ok=%v err=%v", ok, errUpdate)
	}
	if _, errResolve := e.ResolveModel(ctx, "gpt-4o", "", resolution.RouteContext{}); !resolution.IsUnavailable(errResolve) {
		t.Fatalf("expected unavailable with no active provider, got %v", errResolve)
	}

	if ok, errAdd := e.AddProviderToModel(ctx, "gpt-4o", "openai", ""); errAdd != nil || !ok {
		t.Fatalf("reactivate openai: ok=%v err=%v", ok, errAdd)
	}
	if _, errResolve := e.ResolveModel(ctx, "gpt-4o", "", resolution.RouteContext{}); errResolve != nil {
		t.Fatalf("resolve after reactivation: %v", errResolve)
	}

	if ok, errRemove := e.RemoveProviderFromModel(ctx, "gpt-4o", "claude"); errRemove != nil || !ok {
		t.Fatalf("remove claude: ok=%v err=%v", ok, errRemove)
	}
	if ok, errRemove := e.RemoveProviderFromModel(ctx, "gpt-4o", "openai"); errRemove != nil || ok {
		t.Fatalf("removing the last provider must be refused: ok=%v err=%v", ok, errRemove)
	}
}

func TestApplySettingsOverridesCooldownAndDebugMode(t *testing.T) {
	f := newFixture(t)
	store := settings.NewStore()
	e := New(f.conn, secretstore.NewDegradedStore(), Options{Cooldown: time.Minute, Settings: store})

	if got := e.Credentials().Cooldown(); got != time.Minute {
		t.Fatalf("expected configured cooldown, got %s", got)
	}
	if e.DebugMode() {
		t.Fatalf("debug mode should default to false")
	}

	store.Replace(map[string]json.RawMessage{
		settings.CredentialCooldownSecondsKey: json.RawMessage(`5`),
		settings.UsageDebugModeKey:            json.RawMessage(`true`),
	})
	e.ApplySettings()
	if got := e.Credentials().Cooldown(); got != 5*time.Second {
		t.Fatalf("expected overridden cooldown, got %s", got)
	}
	if !e.DebugMode() {
		t.Fatalf("expected debug mode override")
	}

	store.Replace(nil)
	e.ApplySettings()
	if got := e.Credentials().Cooldown(); got != time.Minute {
		t.Fatalf("expected cooldown restored, got %s", got)
	}
}

func TestUsageSummarySince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := New(f.conn, secretstore.NewDegradedStore(), Options{})

	res, errResolve := e.ResolveModel(ctx, "gpt-4o", "openai", resolution.RouteContext{ChatID: "chat-1"})
	if errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	e.RecordResolution(ctx, res, usage.Metrics{RequestTokens: 10, ResponseTokens: 5, Context: resolution.RouteContext{ChatID: "chat-1"}}, false, nil)

	summary, errSummary := e.UsageSummary(ctx, usage.Scope{ModelID: "gpt-4o"}, nil)
	if errSummary != nil {
		t.Fatalf("summary: %v", errSummary)
	}
	if summary.TotalRequests != 1 || summary.TotalTokens != 15 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	future := time.Now().Add(time.Hour)
	later, errSummary := e.UsageSummary(ctx, usage.Scope{ModelID: "gpt-4o"}, &future)
	if errSummary != nil {
		t.Fatalf("summary since: %v", errSummary)
	}
	if later.TotalRequests != 0 {
		t.Fatalf("expected no requests after future cutoff, got %d", later.TotalRequests)
	}

	past := time.Now().Add(-time.Hour)
	overridden, errSummary := e.UsageSummary(ctx, usage.Scope{ModelID: "gpt-4o", Since: &future}, &past)
	if errSummary != nil {
		t.Fatalf("summary with both cutoffs: %v", errSummary)
	}
	if overridden.TotalRequests != 1 {
		t.Fatalf("expected argument cutoff to replace scope cutoff, got %d requests", overridden.TotalRequests)
	}
	scoped, errSummary := e.UsageSummary(ctx, usage.Scope{ModelID: "gpt-4o", Since: &future}, nil)
	if errSummary != nil {
		t.Fatalf("summary with scope cutoff: %v", errSummary)
	}
	if scoped.TotalRequests != 0 {
		t.Fatalf("expected scope cutoff kept without argument, got %d requests", scoped.TotalRequests)
	}
}
