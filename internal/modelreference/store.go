package modelreference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreReferences upserts model references and prunes rows missing from the latest sync.
func StoreReferences(ctx context.Context, db *gorm.DB, refs []models.ModelReference, syncTime time.Time) error {
	if db == nil {
		return fmt.Errorf("store model references: nil db")
	}
	if len(refs) == 0 {
		return nil
	}
	if syncTime.IsZero() {
		syncTime = time.Now()
	}
	syncTime = syncTime.UTC()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range refs {
			refs[i].LastSeenAt = syncTime
			refs[i].UpdatedAt = syncTime
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider_name"}, {Name: "model_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"model_name",
				"context_limit",
				"output_limit",
				"supports_vision",
				"supports_tools",
				"input_price",
				"output_price",
				"cache_read_price",
				"cache_write_price",
				"extra",
				"last_seen_at",
				"updated_at",
			}),
		}).CreateInBatches(&refs, 200).Error; err != nil {
			return fmt.Errorf("store model references: upsert: %w", err)
		}
		if err := tx.Where("last_seen_at < ?", syncTime).Delete(&models.ModelReference{}).Error; err != nil {
			return fmt.Errorf("store model references: prune: %w", err)
		}
		return nil
	})
}

// BackfillModels copies reference pricing and limits onto models that lack them.
// A model matches a reference by case-insensitive model id; the first provider in name order wins.
// Values already set on a model are never overwritten.
func BackfillModels(ctx context.Context, db *gorm.DB) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("backfill models: nil db")
	}
	var rows []models.Model
	if err := db.WithContext(ctx).
		Where("pricing_input_per_mtok IS NULL OR pricing_output_per_mtok IS NULL OR context_length = 0").
		Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("backfill models: load models: %w", err)
	}

	updated := 0
	for _, row := range rows {
		var ref models.ModelReference
		res := db.WithContext(ctx).
			Where("LOWER(model_id) = ?", strings.ToLower(row.ID)).
			Order("provider_name ASC").
			Limit(1).
			Find(&ref)
		if res.Error != nil {
			return updated, fmt.Errorf("backfill models: load reference for %s: %w", row.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}

		updates := map[string]any{}
		if row.PricingInputPerMTok == nil && ref.InputPrice != nil {
			updates["pricing_input_per_mtok"] = *ref.InputPrice
		}
		if row.PricingOutputPerMTok == nil && ref.OutputPrice != nil {
			updates["pricing_output_per_mtok"] = *ref.OutputPrice
		}
		if row.ContextLength == 0 && ref.ContextLimit > 0 {
			updates["context_length"] = ref.ContextLimit
		}
		if len(updates) == 0 {
			continue
		}
		updates["updated_at"] = time.Now().UTC()
		if err := db.WithContext(ctx).Model(&models.Model{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return updated, fmt.Errorf("backfill models: update %s: %w", row.ID, err)
		}
		log.WithFields(log.Fields{"model": row.ID, "reference": ref.ProviderName}).Debug("models syncer: backfilled model from reference")
		updated++
	}
	return updated, nil
}
