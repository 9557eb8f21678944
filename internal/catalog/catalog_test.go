package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "catalog.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return New(conn, secretstore.NewDegradedStore())
}

func mustProvider(t *testing.T, c *Catalog, id string, kind models.AuthKind) *models.Provider {
	t.Helper()
	row, errCreate := c.CreateProvider(context.Background(), ProviderInput{ID: id, Name: id, AuthKind: kind})
	if errCreate != nil {
		t.Fatalf("create provider %s: %v", id, errCreate)
	}
	return row
}

func TestFirstProviderBecomesPrimary(t *testing.T) {
	c := newTestCatalog(t)
	first := mustProvider(t, c, "claude", models.AuthKindOAuth)
	second := mustProvider(t, c, "openai", models.AuthKindAPIKey)
	if !first.IsPrimary() || second.IsPrimary() {
		t.Fatalf("expected only the first provider to be primary: %s/%s", first.Role, second.Role)
	}
	if second.APIFormat != models.APIFormatOpenAI {
		t.Fatalf("expected default api format, got %q", second.APIFormat)
	}

	ctx := context.Background()
	if errSet := c.SetPrimary(ctx, "openai"); errSet != nil {
		t.Fatalf("set primary: %v", errSet)
	}
	list, errList := c.ListProviders(ctx, "")
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(list) != 2 || list[0].ID != "openai" || !list[0].IsPrimary() || list[1].IsPrimary() {
		t.Fatalf("unexpected provider order %+v", list)
	}

	if errSet := c.SetPrimary(ctx, "missing"); !resolution.IsNotFound(errSet) {
		t.Fatalf("expected not found, got %v", errSet)
	}
}

func TestCreateProviderValidation(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, errCreate := c.CreateProvider(ctx, ProviderInput{Name: ""}); !errors.Is(errCreate, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", errCreate)
	}
	if _, errCreate := c.CreateProvider(ctx, ProviderInput{Name: "x", AuthKind: "password"}); !errors.Is(errCreate, ErrInvalidInput) {
		t.Fatalf("expected invalid input for auth kind, got %v", errCreate)
	}
	row, errCreate := c.CreateProvider(ctx, ProviderInput{Name: "Generated", AuthKind: models.AuthKindAPIKey})
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if row.ID == "" {
		t.Fatalf("expected generated provider id")
	}
}

func TestListProvidersSearchIsCaseInsensitive(t *testing.T) {
	c := newTestCatalog(t)
	mustProvider(t, c, "Anthropic", models.AuthKindOAuth)
	mustProvider(t, c, "OpenAI", models.AuthKindAPIKey)

	list, errList := c.ListProviders(context.Background(), "open")
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(list) != 1 || list[0].ID != "OpenAI" {
		t.Fatalf("unexpected search result %+v", list)
	}
}

func TestDeleteProviderProtectsPrimaryAndBuiltin(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	created, errBootstrap := c.Bootstrap(ctx, ProviderInput{ID: "claude", Name: "Claude", AuthKind: models.AuthKindOAuth})
	if errBootstrap != nil || !created {
		t.Fatalf("bootstrap: created=%v err=%v", created, errBootstrap)
	}
	mustProvider(t, c, "openai", models.AuthKindAPIKey)
	if _, errCred := c.CreateCredential(ctx, CredentialInput{ProviderID: "openai", APIKey: "sk-1"}); errCred != nil {
		t.Fatalf("create credential: %v", errCred)
	}

	if errDelete := c.DeleteProvider(ctx, "claude"); !errors.Is(errDelete, resolution.ErrProviderProtected) {
		t.Fatalf("expected protected, got %v", errDelete)
	}
	if errSet := c.SetPrimary(ctx, "openai"); errSet != nil {
		t.Fatalf("set primary: %v", errSet)
	}
	if errDelete := c.DeleteProvider(ctx, "claude"); !errors.Is(errDelete, resolution.ErrProviderProtected) {
		t.Fatalf("builtin provider must stay protected, got %v", errDelete)
	}
	if errSet := c.SetPrimary(ctx, "claude"); errSet != nil {
		t.Fatalf("restore primary: %v", errSet)
	}
	if errDelete := c.DeleteProvider(ctx, "openai"); errDelete != nil {
		t.Fatalf("delete secondary: %v", errDelete)
	}
	creds, errList := c.ListCredentials(ctx, "openai")
	if errList != nil {
		t.Fatalf("list credentials: %v", errList)
	}
	if len(creds) != 0 {
		t.Fatalf("expected credentials removed with provider, got %d", len(creds))
	}

	again, errBootstrap := c.Bootstrap(ctx, ProviderInput{ID: "other", Name: "Other", AuthKind: models.AuthKindOAuth})
	if errBootstrap != nil || again {
		t.Fatalf("bootstrap must be a no-op on a populated catalog: created=%v err=%v", again, errBootstrap)
	}
}

func TestCreateCredentialSealsSecrets(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	mustProvider(t, c, "openai", models.AuthKindAPIKey)

	if _, errCreate := c.CreateCredential(ctx, CredentialInput{ProviderID: "openai"}); !errors.Is(errCreate, ErrInvalidInput) {
		t.Fatalf("expected missing api key to be rejected, got %v", errCreate)
	}
	if _, errCreate := c.CreateCredential(ctx, CredentialInput{ProviderID: "nope", APIKey: "k"}); !resolution.IsNotFound(errCreate) {
		t.Fatalf("expected provider not found, got %v", errCreate)
	}

	row, errCreate := c.CreateCredential(ctx, CredentialInput{ProviderID: "openai", Label: " main ", APIKey: "sk-secret"})
	if errCreate != nil {
		t.Fatalf("create credential: %v", errCreate)
	}
	if row.Label != "main" || !row.IsActive || row.AuthKind != models.AuthKindAPIKey {
		t.Fatalf("unexpected credential %+v", row)
	}
	if row.EncryptedAPIKey == "sk-secret" || !secretstore.IsDegraded(row.EncryptedAPIKey) {
		t.Fatalf("api key stored without sealing: %q", row.EncryptedAPIKey)
	}
	if row.SecretEncoding != models.SecretEncodingPlain {
		t.Fatalf("unexpected secret encoding %q", row.SecretEncoding)
	}
	plain, errDecrypt := secretstore.NewDegradedStore().Decrypt(row.EncryptedAPIKey)
	if errDecrypt != nil || plain != "sk-secret" {
		t.Fatalf("decrypt: %q %v", plain, errDecrypt)
	}

	inactive := false
	patched, errUpdate := c.UpdateCredential(ctx, row.ID, CredentialPatch{IsActive: &inactive})
	if errUpdate != nil || !patched {
		t.Fatalf("update: ok=%v err=%v", patched, errUpdate)
	}
	loaded, errGet := c.GetCredential(ctx, row.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if loaded.IsActive {
		t.Fatalf("expected credential deactivated")
	}

	deleted, errDelete := c.DeleteCredential(ctx, row.ID)
	if errDelete != nil || !deleted {
		t.Fatalf("delete: ok=%v err=%v", deleted, errDelete)
	}
	if _, errGet := c.GetCredential(ctx, row.ID); !resolution.IsNotFound(errGet) {
		t.Fatalf("expected not found after delete, got %v", errGet)
	}
}

func TestUsageLimitValueDefaultsToTokenType(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	mustProvider(t, c, "openai", models.AuthKindAPIKey)

	limit := int64(500)
	row, errCreate := c.CreateCredential(ctx, CredentialInput{ProviderID: "openai", APIKey: "k1", UsageLimitValue: &limit})
	if errCreate != nil {
		t.Fatalf("create credential: %v", errCreate)
	}
	if row.UsageLimitType != models.UsageLimitToken || !row.HasUsageLimit() {
		t.Fatalf("expected token limit, got type %q", row.UsageLimitType)
	}

	bare, errCreate := c.CreateCredential(ctx, CredentialInput{ProviderID: "openai", APIKey: "k2"})
	if errCreate != nil {
		t.Fatalf("create credential: %v", errCreate)
	}
	patched, errUpdate := c.UpdateCredential(ctx, bare.ID, CredentialPatch{UsageLimitValue: &limit})
	if errUpdate != nil || !patched {
		t.Fatalf("update: ok=%v err=%v", patched, errUpdate)
	}
	loaded, errGet := c.GetCredential(ctx, bare.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if loaded.UsageLimitType != models.UsageLimitToken || !loaded.HasUsageLimit() {
		t.Fatalf("expected token limit after patch, got type %q", loaded.UsageLimitType)
	}

	request := models.UsageLimitRequest
	if _, errUpdate := c.UpdateCredential(ctx, bare.ID, CredentialPatch{UsageLimitType: &request}); errUpdate != nil {
		t.Fatalf("set request type: %v", errUpdate)
	}
	higher := int64(900)
	if _, errUpdate := c.UpdateCredential(ctx, bare.ID, CredentialPatch{UsageLimitValue: &higher}); errUpdate != nil {
		t.Fatalf("raise limit: %v", errUpdate)
	}
	loaded, errGet = c.GetCredential(ctx, bare.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if loaded.UsageLimitType != models.UsageLimitRequest || *loaded.UsageLimitValue != 900 {
		t.Fatalf("expected request limit 900 kept, got %q %v", loaded.UsageLimitType, *loaded.UsageLimitValue)
	}
}

func TestModelsRequireKnownProvidersAndSingleDefault(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	mustProvider(t, c, "claude", models.AuthKindOAuth)
	mustProvider(t, c, "openai", models.AuthKindAPIKey)

	if _, errCreate := c.CreateModel(ctx, ModelInput{ID: "empty"}); !errors.Is(errCreate, resolution.ErrLastProvider) {
		t.Fatalf("expected model without providers to be rejected, got %v", errCreate)
	}
	if _, errCreate := c.ImportModel(ctx, ModelInput{ID: "ghost"}, "claude,ghost", "A,A"); !resolution.IsNotFound(errCreate) {
		t.Fatalf("expected unknown provider rejected, got %v", errCreate)
	}
	if _, errCreate := c.ImportModel(ctx, ModelInput{ID: "bad"}, "claude,openai", "A"); !errors.Is(errCreate, ErrInvalidInput) {
		t.Fatalf("expected mismatched positional lists rejected, got %v", errCreate)
	}

	first, errCreate := c.ImportModel(ctx, ModelInput{ID: "sonnet", IsDefault: true}, "claude,openai", "a,d")
	if errCreate != nil {
		t.Fatalf("import sonnet: %v", errCreate)
	}
	if first.Name != "sonnet" || !first.SupportsStreaming {
		t.Fatalf("expected defaults applied, got %+v", first)
	}
	if first.Providers[1].Status != models.ProviderStatusDisabled {
		t.Fatalf("expected normalized status, got %q", first.Providers[1].Status)
	}
	if _, errCreate := c.CreateModel(ctx, ModelInput{
		ID:        "gpt-4o",
		IsDefault: true,
		Providers: models.ModelProviders{{ProviderID: "openai"}},
	}); errCreate != nil {
		t.Fatalf("create gpt-4o: %v", errCreate)
	}

	def, errDefault := c.DefaultModel(ctx)
	if errDefault != nil {
		t.Fatalf("default model: %v", errDefault)
	}
	if def.ID != "gpt-4o" {
		t.Fatalf("expected gpt-4o as the only default, got %s", def.ID)
	}
	if errSet := c.SetDefaultModel(ctx, "sonnet"); errSet != nil {
		t.Fatalf("set default: %v", errSet)
	}
	list, errList := c.ListModels(ctx)
	if errList != nil {
		t.Fatalf("list models: %v", errList)
	}
	defaults := 0
	for _, m := range list {
		if m.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default model, got %d", defaults)
	}
	if errSet := c.SetDefaultModel(ctx, "missing"); !resolution.IsNotFound(errSet) {
		t.Fatalf("expected not found, got %v", errSet)
	}
}

func TestUpdateAndDeleteModel(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	mustProvider(t, c, "openai", models.AuthKindAPIKey)
	if _, errCreate := c.ImportModel(ctx, ModelInput{ID: "gpt-4o"}, "openai", "A"); errCreate != nil {
		t.Fatalf("import: %v", errCreate)
	}

	in, out := 2.5, 10.0
	updated, errUpdate := c.UpdateModel(ctx, "gpt-4o", ModelPatch{PricingInputPerMTok: &in, PricingOutputPerMTok: &out})
	if errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if !updated.HasPricing() || *updated.PricingInputPerMTok != 2.5 {
		t.Fatalf("expected pricing stored, got %+v", updated)
	}

	deleted, errDelete := c.DeleteModel(ctx, "gpt-4o")
	if errDelete != nil || !deleted {
		t.Fatalf("delete: ok=%v err=%v", deleted, errDelete)
	}
	deleted, errDelete = c.DeleteModel(ctx, "gpt-4o")
	if errDelete != nil || deleted {
		t.Fatalf("second delete should report false: ok=%v err=%v", deleted, errDelete)
	}
}
