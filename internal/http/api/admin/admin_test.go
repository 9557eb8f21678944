package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/catalog"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/config"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/engine"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/ratelimit"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/security"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
)

type testServer struct {
	router   *gin.Engine
	settings *settings.Store
	token    string
}

func newTestServer(t *testing.T, jwtSecret string, limit int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, errOpen := db.Open("file:" + filepath.Join(t.TempDir(), "admin.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	store := settings.NewStore()
	if errReload := store.Reload(t.Context(), conn); errReload != nil {
		t.Fatalf("reload settings: %v", errReload)
	}
	secrets := secretstore.NewDegradedStore()
	eng := engine.New(conn, secrets, engine.Options{Settings: store})
	limiter := ratelimit.NewManager(func() ratelimit.SettingsConfig {
		return ratelimit.SettingsConfig{Limit: limit}
	}, nil, nil)

	r := gin.New()
	RegisterAdminRoutes(r, Dependencies{
		DB:       conn,
		Engine:   eng,
		Catalog:  catalog.New(conn, secrets),
		Settings: store,
		Limiter:  limiter,
		JWT:      config.JWTConfig{Secret: jwtSecret, Expiry: time.Hour},
	})

	ts := &testServer{router: r, settings: store}
	if jwtSecret != "" {
		token, errIssue := security.IssueAdminToken(jwtSecret, time.Hour, time.Now())
		if errIssue != nil {
			t.Fatalf("issue token: %v", errIssue)
		}
		ts.token = token
	}
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), errDecode)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func seedRoute(t *testing.T, s *testServer) uint64 {
	t.Helper()
	expectStatus(t, s.do(t, http.MethodPost, "/v0/admin/providers", gin.H{"id": "claude", "name": "Claude", "auth_kind": "oauth"}), http.StatusCreated)
	expectStatus(t, s.do(t, http.MethodPost, "/v0/admin/providers", gin.H{"id": "openai", "name": "OpenAI", "auth_kind": "api_key"}), http.StatusCreated)
	w := s.do(t, http.MethodPost, "/v0/admin/credentials", gin.H{"provider_id": "openai", "label": "main", "api_key": "sk-test"})
	expectStatus(t, w, http.StatusCreated)
	credID := uint64(decode(t, w)["id"].(float64))
	expectStatus(t, s.do(t, http.MethodPost, "/v0/admin/models", gin.H{
		"id":                      "gpt-4o",
		"name":                    "GPT-4o",
		"pricing_input_per_mtok":  2.5,
		"pricing_output_per_mtok": 10,
		"provider_ids":            "claude,openai",
		"provider_status":         "D,A",
	}), http.StatusCreated)
	return credID
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "", 0)
	expectStatus(t, s.do(t, http.MethodGet, "/healthz", nil), http.StatusOK)
}

func TestResolveRoutesToFirstActiveProvider(t *testing.T) {
	s := newTestServer(t, "", 0)
	seedRoute(t, s)

	w := s.do(t, http.MethodPost, "/v0/admin/resolve", gin.H{"model": "gpt-4o"})
	expectStatus(t, w, http.StatusOK)
	body := decode(t, w)
	if idx := body["provider_index"].(float64); idx != 1 {
		t.Fatalf("expected provider index 1, got %v", idx)
	}
	res := body["resolution"].(map[string]any)
	if res["has_api_key"] != true {
		t.Fatalf("expected api key to be resolved, got %v", res)
	}
	if res["degraded"] != false {
		t.Fatalf("expected healthy resolution, got %v", res)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("sk-test")) {
		t.Fatalf("plaintext secret leaked in response")
	}
}

func TestResolveUnknownModel(t *testing.T) {
	s := newTestServer(t, "", 0)
	w := s.do(t, http.MethodPost, "/v0/admin/resolve", gin.H{"model": "missing"})
	expectStatus(t, w, http.StatusNotFound)
	if code := decode(t, w)["code"]; code != "model_not_found" {
		t.Fatalf("expected model_not_found, got %v", code)
	}
}

func TestMappingMutations(t *testing.T) {
	s := newTestServer(t, "", 0)
	seedRoute(t, s)

	w := s.do(t, http.MethodPut, "/v0/admin/models/gpt-4o/providers/claude", gin.H{"status": "a"})
	expectStatus(t, w, http.StatusOK)
	if statuses := decode(t, w)["provider_status"]; statuses != "A,A" {
		t.Fatalf("expected A,A, got %v", statuses)
	}

	expectStatus(t, s.do(t, http.MethodPut, "/v0/admin/models/gpt-4o/providers/claude", gin.H{"status": "Q"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodDelete, "/v0/admin/models/gpt-4o/providers/claude", nil), http.StatusOK)

	w = s.do(t, http.MethodDelete, "/v0/admin/models/gpt-4o/providers/openai", nil)
	expectStatus(t, w, http.StatusConflict)
	if code := decode(t, w)["code"]; code != "last_provider" {
		t.Fatalf("expected last_provider, got %v", code)
	}
}

func TestProtectedProviderDelete(t *testing.T) {
	s := newTestServer(t, "", 0)
	seedRoute(t, s)
	expectStatus(t, s.do(t, http.MethodDelete, "/v0/admin/providers/claude", nil), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodDelete, "/v0/admin/providers/openai", nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodGet, "/v0/admin/providers/openai", nil), http.StatusNotFound)
}

func TestUsageRecordAndSummary(t *testing.T) {
	s := newTestServer(t, "", 0)
	credID := seedRoute(t, s)

	w := s.do(t, http.MethodPost, "/v0/admin/usage", gin.H{
		"credential_id":   credID,
		"model_id":        "gpt-4o",
		"request_tokens":  200,
		"response_tokens": 50,
		"latency_ms":      120,
	})
	expectStatus(t, w, http.StatusAccepted)

	w = s.do(t, http.MethodGet, "/v0/admin/usage/summary?provider_id=openai", nil)
	expectStatus(t, w, http.StatusOK)
	summary := decode(t, w)
	if summary["total_requests"].(float64) != 1 || summary["total_tokens"].(float64) != 250 {
		t.Fatalf("unexpected summary: %v", summary)
	}

	w = s.do(t, http.MethodGet, "/v0/admin/credentials/"+jsonNumber(credID), nil)
	expectStatus(t, w, http.StatusOK)
	if usage := decode(t, w)["current_usage"].(float64); usage != 250 {
		t.Fatalf("expected counter 250, got %v", usage)
	}

	w = s.do(t, http.MethodGet, "/v0/admin/usage/dashboard", nil)
	expectStatus(t, w, http.StatusOK)
	dashboard := decode(t, w)
	day := dashboard["last_24h"].(map[string]any)
	if day["total_requests"].(float64) != 1 {
		t.Fatalf("unexpected dashboard: %v", dashboard)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/v0/admin/usage/cleanup", gin.H{"older_than_days": 0}), http.StatusBadRequest)
	w = s.do(t, http.MethodPost, "/v0/admin/usage/cleanup", gin.H{"older_than_days": 30})
	expectStatus(t, w, http.StatusOK)
	if deleted := decode(t, w)["deleted"].(float64); deleted != 0 {
		t.Fatalf("expected recent rows kept, deleted %v", deleted)
	}
}

func TestSettingsValidationAndCooldownOverride(t *testing.T) {
	s := newTestServer(t, "", 0)
	expectStatus(t, s.do(t, http.MethodPut, "/v0/admin/settings/RATE_LIMIT", gin.H{"value": -1}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPut, "/v0/admin/settings/CREDENTIAL_COOLDOWN_SECONDS", gin.H{"value": 5}), http.StatusOK)
	if got := s.settings.Int(settings.CredentialCooldownSecondsKey, 0); got != 5 {
		t.Fatalf("expected snapshot refreshed, got %d", got)
	}
	expectStatus(t, s.do(t, http.MethodDelete, "/v0/admin/settings/CREDENTIAL_COOLDOWN_SECONDS", nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodGet, "/v0/admin/settings/CREDENTIAL_COOLDOWN_SECONDS", nil), http.StatusNotFound)

	expectStatus(t, s.do(t, http.MethodPut, "/v0/admin/settings/RATE_LIMIT_REDIS_PASSWORD", gin.H{"value": "hunter2"}), http.StatusOK)
	w := s.do(t, http.MethodGet, "/v0/admin/settings/RATE_LIMIT_REDIS_PASSWORD", nil)
	expectStatus(t, w, http.StatusOK)
	body := decode(t, w)
	if body["value"] != "********" || body["known"] != true {
		t.Fatalf("expected masked known setting, got %v", body)
	}
	if got := s.settings.String(settings.RateLimitRedisPasswordKey, ""); got != "hunter2" {
		t.Fatalf("expected stored password, got %q", got)
	}
}

func TestAdminAuthRequiresToken(t *testing.T) {
	s := newTestServer(t, "secret", 0)
	expectStatus(t, s.do(t, http.MethodGet, "/v0/admin/providers", nil), http.StatusOK)

	s.token = "bogus"
	expectStatus(t, s.do(t, http.MethodGet, "/v0/admin/providers", nil), http.StatusUnauthorized)
	s.token = ""
	expectStatus(t, s.do(t, http.MethodGet, "/v0/admin/providers", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/healthz", nil), http.StatusOK)
}

func TestAdminRateLimit(t *testing.T) {
	s := newTestServer(t, "", 1)
	expectStatus(t, s.do(t, http.MethodGet, "/v0/admin/providers", nil), http.StatusOK)
	w := s.do(t, http.MethodGet, "/v0/admin/providers", nil)
	if w.Code != http.StatusTooManyRequests {
		// The second request can land in the next one-second window.
		w = s.do(t, http.MethodGet, "/v0/admin/providers", nil)
	}
	expectStatus(t, w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}
}

func jsonNumber(v uint64) string {
	payload, _ := json.Marshal(v)
	return string(payload)
}
