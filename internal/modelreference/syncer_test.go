package modelreference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
)

func TestSyncOnce_FetchesAndStores(t *testing.T) {
	payload := []byte(`{"provider-x":{"name":"Provider X","models":{"model-a":{"name":"Model A","cost":{"input":0.1},"limit":{"context":123,"output":456}}}}}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	conn := openReferenceDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	syncer := NewSyncer(conn, server.URL, time.Minute)
	syncer.client = server.Client()
	syncer.now = func() time.Time { return now }

	if errSync := syncer.SyncOnce(context.Background()); errSync != nil {
		t.Fatalf("sync once: %v", errSync)
	}

	var row models.ModelReference
	if errFind := conn.Where("provider_name = ? AND model_id = ?", "Provider X", "model-a").First(&row).Error; errFind != nil {
		t.Fatalf("find row: %v", errFind)
	}
	if row.ContextLimit != 123 || row.OutputLimit != 456 {
		t.Fatalf("unexpected limits: context=%d output=%d", row.ContextLimit, row.OutputLimit)
	}
	if !row.LastSeenAt.Equal(now) {
		t.Fatalf("expected last_seen_at %v, got %v", now, row.LastSeenAt)
	}
}

func TestSyncOnce_RejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	syncer := NewSyncer(openReferenceDB(t), server.URL, 0)
	syncer.client = server.Client()
	if errSync := syncer.SyncOnce(context.Background()); errSync == nil {
		t.Fatalf("expected error for bad gateway")
	}
}

func TestSyncHonoursETag(t *testing.T) {
	payload := []byte(`{"provider-x":{"name":"Provider X","models":{"model-a":{"name":"Model A","cost":{"input":1,"output":2}}}}}`)
	var conditional int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	syncer := NewSyncer(openReferenceDB(t), server.URL, time.Minute)
	syncer.client = server.Client()

	first, errSync := syncer.Sync(context.Background())
	if errSync != nil {
		t.Fatalf("first sync: %v", errSync)
	}
	if first.NotModified || first.References != 1 {
		t.Fatalf("unexpected first report %+v", first)
	}
	second, errSync := syncer.Sync(context.Background())
	if errSync != nil {
		t.Fatalf("second sync: %v", errSync)
	}
	if !second.NotModified || conditional != 1 {
		t.Fatalf("expected conditional not-modified pass, got %+v conditional=%d", second, conditional)
	}
}
