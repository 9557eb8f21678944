package modelreference

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"gorm.io/gorm"
)

func openReferenceDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func float64Ptr(v float64) *float64 { return &v }

func TestStoreReferences_UpsertAndPrune(t *testing.T) {
	conn := openReferenceDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	refs := []models.ModelReference{
		{ProviderName: "Provider X", ModelID: "model-a", ModelName: "Model A"},
		{ProviderName: "Provider X", ModelID: "model-b", ModelName: "Model B"},
	}
	if errStore := StoreReferences(context.Background(), conn, refs, now); errStore != nil {
		t.Fatalf("store: %v", errStore)
	}

	later := now.Add(time.Minute)
	renamed := []models.ModelReference{{ProviderName: "Provider X", ModelID: "model-a", ModelName: "Model A v2"}}
	if errStore := StoreReferences(context.Background(), conn, renamed, later); errStore != nil {
		t.Fatalf("store: %v", errStore)
	}

	var rows []models.ModelReference
	if errFind := conn.Find(&rows).Error; errFind != nil {
		t.Fatalf("list: %v", errFind)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after prune, got %d", len(rows))
	}
	if rows[0].ModelName != "Model A v2" || !rows[0].LastSeenAt.Equal(later) {
		t.Fatalf("expected upserted row, got %+v", rows[0])
	}
}

func TestBackfillModels_FillsOnlyMissingValues(t *testing.T) {
	conn := openReferenceDB(t)
	ctx := context.Background()

	if errCreate := conn.Create(&models.Provider{ID: "p1", Name: "p1", AuthKind: models.AuthKindAPIKey}).Error; errCreate != nil {
		t.Fatalf("create provider: %v", errCreate)
	}
	entries := models.ModelProviders{{ProviderID: "p1", Status: models.ProviderStatusActive}}
	bare := models.Model{ID: "Claude-X", Name: "Claude X", Providers: entries}
	priced := models.Model{ID: "gpt-y", Name: "GPT Y", ContextLength: 1000, PricingInputPerMTok: float64Ptr(1), PricingOutputPerMTok: float64Ptr(2), Providers: entries}
	for _, row := range []*models.Model{&bare, &priced} {
		if errCreate := conn.Create(row).Error; errCreate != nil {
			t.Fatalf("create model: %v", errCreate)
		}
	}

	refs := []models.ModelReference{
		{ProviderName: "Anthropic", ModelID: "claude-x", ModelName: "Claude X", ContextLimit: 200000, InputPrice: float64Ptr(3), OutputPrice: float64Ptr(15)},
		{ProviderName: "OpenAI", ModelID: "gpt-y", ModelName: "GPT Y", ContextLimit: 128000, InputPrice: float64Ptr(9), OutputPrice: float64Ptr(9)},
	}
	if errStore := StoreReferences(ctx, conn, refs, time.Now()); errStore != nil {
		t.Fatalf("store: %v", errStore)
	}

	updated, errBackfill := BackfillModels(ctx, conn)
	if errBackfill != nil {
		t.Fatalf("backfill: %v", errBackfill)
	}
	if updated != 1 {
		t.Fatalf("expected 1 backfilled model, got %d", updated)
	}

	var got models.Model
	if errFind := conn.Where("id = ?", "Claude-X").First(&got).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if got.ContextLength != 200000 || got.PricingInputPerMTok == nil || *got.PricingInputPerMTok != 3 || *got.PricingOutputPerMTok != 15 {
		t.Fatalf("unexpected backfilled model %+v", got)
	}
	var kept models.Model
	if errFind := conn.Where("id = ?", "gpt-y").First(&kept).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if *kept.PricingInputPerMTok != 1 || kept.ContextLength != 1000 {
		t.Fatalf("expected existing pricing to be kept, got %+v", kept)
	}
}
