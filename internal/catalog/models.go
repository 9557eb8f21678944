package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// ModelInput describes a model to create.
type ModelInput struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	ContextLength        int                   `json:"context_length"`
	SupportsVision       bool                  `json:"supports_vision"`
	SupportsTools        bool                  `json:"supports_tools"`
	SupportsStreaming    *bool                 `json:"supports_streaming"`
	PricingInputPerMTok  *float64              `json:"pricing_input_per_mtok"`
	PricingOutputPerMTok *float64              `json:"pricing_output_per_mtok"`
	IsDefault            bool                  `json:"is_default"`
	Providers            models.ModelProviders `json:"providers"`
}

// ModelPatch updates capability and pricing fields. Nil fields are left unchanged.
type ModelPatch struct {
	Name                 *string  `json:"name"`
	ContextLength        *int     `json:"context_length"`
	SupportsVision       *bool    `json:"supports_vision"`
	SupportsTools        *bool    `json:"supports_tools"`
	SupportsStreaming    *bool    `json:"supports_streaming"`
	PricingInputPerMTok  *float64 `json:"pricing_input_per_mtok"`
	PricingOutputPerMTok *float64 `json:"pricing_output_per_mtok"`
}

// CreateModel stores a model. It needs at least one provider entry and every listed provider must exist.
func (c *Catalog) CreateModel(ctx context.Context, in ModelInput) (*models.Model, error) {
	row := models.Model{
		ID:                   strings.TrimSpace(in.ID),
		Name:                 strings.TrimSpace(in.Name),
		ContextLength:        in.ContextLength,
		SupportsVision:       in.SupportsVision,
		SupportsTools:        in.SupportsTools,
		SupportsStreaming:    in.SupportsStreaming == nil || *in.SupportsStreaming,
		PricingInputPerMTok:  in.PricingInputPerMTok,
		PricingOutputPerMTok: in.PricingOutputPerMTok,
		Providers:            in.Providers.Clone(),
	}
	if row.ID == "" {
		return nil, fmt.Errorf("%w: model id is required", ErrInvalidInput)
	}
	if row.Name == "" {
		row.Name = row.ID
	}
	if len(row.Providers) == 0 {
		return nil, resolution.ErrLastProvider.WithMessage("model needs at least one provider")
	}
	for i := range row.Providers {
		row.Providers[i].ProviderID = strings.TrimSpace(row.Providers[i].ProviderID)
		row.Providers[i].Status = models.ProviderStatus(strings.ToUpper(string(row.Providers[i].Status)))
		if row.Providers[i].Status == "" {
			row.Providers[i].Status = models.ProviderStatusActive
		}
		if !row.Providers[i].Status.Valid() {
			return nil, fmt.Errorf("%w: invalid status %q for provider %q", ErrInvalidInput, row.Providers[i].Status, row.Providers[i].ProviderID)
		}
	}
	ids := lo.Map(row.Providers, func(entry models.ModelProviderEntry, _ int) string { return entry.ProviderID })
	if dupes := lo.FindDuplicates(ids); len(dupes) > 0 {
		return nil, fmt.Errorf("%w: duplicate providers %v", ErrInvalidInput, dupes)
	}

	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var known []string
		if errPluck := tx.Model(&models.Provider{}).Where("id IN ?", ids).Pluck("id", &known).Error; errPluck != nil {
			return fmt.Errorf("catalog: check providers: %w", errPluck)
		}
		if missing, _ := lo.Difference(ids, known); len(missing) > 0 {
			return resolution.ErrProviderNotFound.WithMessage(fmt.Sprintf("unknown providers %v", missing))
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("catalog: create model: %w", errCreate)
		}
		if in.IsDefault {
			return setDefaultModel(tx, row.ID, c.now)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	row.IsDefault = in.IsDefault
	return &row, nil
}

// ImportModel creates a model from the legacy positional provider encoding.
func (c *Catalog) ImportModel(ctx context.Context, in ModelInput, providerIDs, providerStatus string) (*models.Model, error) {
	list, errParse := models.ParseModelProviders(providerIDs, providerStatus)
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, errParse)
	}
	in.Providers = list
	return c.CreateModel(ctx, in)
}

// GetModel loads a model by id.
func (c *Catalog) GetModel(ctx context.Context, id string) (*models.Model, error) {
	var row models.Model
	if errFind := c.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, resolution.ErrModelNotFound.WithMessage(fmt.Sprintf("model %q not found", id))
		}
		return nil, fmt.Errorf("catalog: load model: %w", errFind)
	}
	return &row, nil
}

// ListModels returns all models ordered by id.
func (c *Catalog) ListModels(ctx context.Context) ([]models.Model, error) {
	var rows []models.Model
	if errFind := c.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list models: %w", errFind)
	}
	return rows, nil
}

// DefaultModel returns the default model, if any.
func (c *Catalog) DefaultModel(ctx context.Context) (*models.Model, error) {
	var row models.Model
	if errFind := c.db.WithContext(ctx).Where("is_default = ?", true).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, resolution.ErrModelNotFound.WithMessage("no default model")
		}
		return nil, fmt.Errorf("catalog: load default model: %w", errFind)
	}
	return &row, nil
}

// UpdateModel applies patch to a model.
func (c *Catalog) UpdateModel(ctx context.Context, id string, patch ModelPatch) (*models.Model, error) {
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.ContextLength != nil {
		updates["context_length"] = *patch.ContextLength
	}
	if patch.SupportsVision != nil {
		updates["supports_vision"] = *patch.SupportsVision
	}
	if patch.SupportsTools != nil {
		updates["supports_tools"] = *patch.SupportsTools
	}
	if patch.SupportsStreaming != nil {
		updates["supports_streaming"] = *patch.SupportsStreaming
	}
	if patch.PricingInputPerMTok != nil {
		updates["pricing_input_per_mtok"] = *patch.PricingInputPerMTok
	}
	if patch.PricingOutputPerMTok != nil {
		updates["pricing_output_per_mtok"] = *patch.PricingOutputPerMTok
	}
	if len(updates) > 0 {
		updates["updated_at"] = c.now()
		if errUpdate := c.db.WithContext(ctx).Model(&models.Model{}).Where("id = ?", id).Updates(updates).Error; errUpdate != nil {
			return nil, fmt.Errorf("catalog: update model: %w", errUpdate)
		}
	}
	return c.GetModel(ctx, id)
}

// SetDefaultModel makes id the only default model.
func (c *Catalog) SetDefaultModel(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return setDefaultModel(tx, id, c.now)
	})
}

func setDefaultModel(tx *gorm.DB, id string, now func() time.Time) error {
	ts := now()
	if errClear := tx.Model(&models.Model{}).
		Where("is_default = ? AND id <> ?", true, id).
		Updates(map[string]any{"is_default": false, "updated_at": ts}).Error; errClear != nil {
		return fmt.Errorf("catalog: clear default model: %w", errClear)
	}
	res := tx.Model(&models.Model{}).Where("id = ?", id).Updates(map[string]any{"is_default": true, "updated_at": ts})
	if res.Error != nil {
		return fmt.Errorf("catalog: set default model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return resolution.ErrModelNotFound.WithMessage(fmt.Sprintf("model %q not found", id))
	}
	return nil
}

// DeleteModel removes a model. Usage logs keep their model id.
func (c *Catalog) DeleteModel(ctx context.Context, id string) (bool, error) {
	res := c.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Model{})
	if res.Error != nil {
		return false, fmt.Errorf("catalog: delete model: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
