package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrInvalidInput wraps validation failures.
var ErrInvalidInput = errors.New("catalog: invalid input")

// ProviderInput describes a provider to create.
type ProviderInput struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	AuthKind  models.AuthKind  `json:"auth_kind"`
	BaseURL   string           `json:"base_url"`
	APIFormat models.APIFormat `json:"api_format"`
	Builtin   bool             `json:"-"`
}

// ProviderPatch updates mutable provider fields. Nil fields are left unchanged.
type ProviderPatch struct {
	Name      *string           `json:"name"`
	BaseURL   *string           `json:"base_url"`
	APIFormat *models.APIFormat `json:"api_format"`
}

// CreateProvider stores a new provider. The first provider becomes primary.
func (c *Catalog) CreateProvider(ctx context.Context, in ProviderInput) (*models.Provider, error) {
	row := models.Provider{
		ID:        strings.TrimSpace(in.ID),
		Name:      strings.TrimSpace(in.Name),
		AuthKind:  in.AuthKind,
		Role:      models.ProviderRoleSecondary,
		Builtin:   in.Builtin,
		BaseURL:   strings.TrimSpace(in.BaseURL),
		APIFormat: in.APIFormat,
	}
	if row.Name == "" {
		return nil, fmt.Errorf("%w: provider name is required", ErrInvalidInput)
	}
	if !row.AuthKind.Valid() {
		return nil, fmt.Errorf("%w: unknown auth kind %q", ErrInvalidInput, row.AuthKind)
	}
	if row.APIFormat == "" {
		row.APIFormat = models.APIFormatOpenAI
	}
	if !row.APIFormat.Valid() {
		return nil, fmt.Errorf("%w: unknown api format %q", ErrInvalidInput, row.APIFormat)
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var primaries int64
		if errCount := tx.Model(&models.Provider{}).Where("role = ?", models.ProviderRolePrimary).Count(&primaries).Error; errCount != nil {
			return fmt.Errorf("catalog: count primary providers: %w", errCount)
		}
		if primaries == 0 {
			row.Role = models.ProviderRolePrimary
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("catalog: create provider: %w", errCreate)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// GetProvider loads a provider by id.
func (c *Catalog) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var row models.Provider
	if errFind := c.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, resolution.ErrProviderNotFound.WithMessage(fmt.Sprintf("provider %q not found", id))
		}
		return nil, fmt.Errorf("catalog: load provider: %w", errFind)
	}
	return &row, nil
}

// ListProviders returns providers, primary first, optionally filtered by name.
func (c *Catalog) ListProviders(ctx context.Context, search string) ([]models.Provider, error) {
	q := c.db.WithContext(ctx).Model(&models.Provider{})
	if search = strings.TrimSpace(search); search != "" {
		q = q.Where(db.CaseInsensitiveLikeExpr(c.db, "name"), db.NormalizeLikePattern(c.db, "%"+search+"%"))
	}
	var rows []models.Provider
	if errFind := q.Order(fmt.Sprintf("CASE WHEN role = '%s' THEN 0 ELSE 1 END", models.ProviderRolePrimary)).
		Order("name ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list providers: %w", errFind)
	}
	return rows, nil
}

// UpdateProvider applies patch to a provider.
func (c *Catalog) UpdateProvider(ctx context.Context, id string, patch ProviderPatch) (*models.Provider, error) {
	updates := map[string]any{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: provider name is required", ErrInvalidInput)
		}
		updates["name"] = name
	}
	if patch.BaseURL != nil {
		updates["base_url"] = strings.TrimSpace(*patch.BaseURL)
	}
	if patch.APIFormat != nil {
		if !patch.APIFormat.Valid() {
			return nil, fmt.Errorf("%w: unknown api format %q", ErrInvalidInput, *patch.APIFormat)
		}
		updates["api_format"] = *patch.APIFormat
	}
	if len(updates) > 0 {
		updates["updated_at"] = c.now()
		res := c.db.WithContext(ctx).Model(&models.Provider{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("catalog: update provider: %w", res.Error)
		}
	}
	return c.GetProvider(ctx, id)
}

// SetPrimary moves the primary role to id.
func (c *Catalog) SetPrimary(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.Provider{}).Where("id = ?", id).Count(&count).Error; errCount != nil {
			return fmt.Errorf("catalog: check provider: %w", errCount)
		}
		if count == 0 {
			return resolution.ErrProviderNotFound.WithMessage(fmt.Sprintf("provider %q not found", id))
		}
		now := c.now()
		if errDemote := tx.Model(&models.Provider{}).
			Where("role = ? AND id <> ?", models.ProviderRolePrimary, id).
			Updates(map[string]any{"role": models.ProviderRoleSecondary, "updated_at": now}).Error; errDemote != nil {
			return fmt.Errorf("catalog: demote primary: %w", errDemote)
		}
		if errPromote := tx.Model(&models.Provider{}).
			Where("id = ?", id).
			Updates(map[string]any{"role": models.ProviderRolePrimary, "updated_at": now}).Error; errPromote != nil {
			return fmt.Errorf("catalog: promote primary: %w", errPromote)
		}
		return nil
	})
}

// DeleteProvider removes a provider and its credentials. Builtin and primary providers are protected.
func (c *Catalog) DeleteProvider(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Provider
		if errFind := tx.Where("id = ?", id).First(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return resolution.ErrProviderNotFound.WithMessage(fmt.Sprintf("provider %q not found", id))
			}
			return fmt.Errorf("catalog: load provider: %w", errFind)
		}
		if row.Builtin || row.IsPrimary() {
			return resolution.ErrProviderProtected
		}
		if errDelete := tx.Where("provider_id = ?", id).Delete(&models.Credential{}).Error; errDelete != nil {
			return fmt.Errorf("catalog: delete credentials: %w", errDelete)
		}
		if errDelete := tx.Delete(&row).Error; errDelete != nil {
			return fmt.Errorf("catalog: delete provider: %w", errDelete)
		}
		return nil
	})
}

// Bootstrap creates in as the builtin primary provider when no provider exists yet.
// Only OAuth providers are bootstrapped. It reports whether a provider was created.
func (c *Catalog) Bootstrap(ctx context.Context, in ProviderInput) (bool, error) {
	if in.AuthKind != models.AuthKindOAuth || strings.TrimSpace(in.Name) == "" {
		return false, nil
	}
	var count int64
	if errCount := c.db.WithContext(ctx).Model(&models.Provider{}).Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("catalog: count providers: %w", errCount)
	}
	if count > 0 {
		return false, nil
	}
	in.Builtin = true
	row, errCreate := c.CreateProvider(ctx, in)
	if errCreate != nil {
		return false, errCreate
	}
	log.WithFields(log.Fields{"provider": row.ID, "name": row.Name}).Info("catalog: bootstrapped primary provider")
	return true, nil
}
