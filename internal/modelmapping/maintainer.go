// Package modelmapping maintains the ordered provider list attached to each model.
package modelmapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidStatus is returned for statuses other than A, D and X.
var ErrInvalidStatus = errors.New("modelmapping: invalid provider status")

// Maintainer mutates model provider lists. Every mutation reads and rewrites
// the list inside one transaction, so the list is never partially written.
type Maintainer struct {
	db *gorm.DB
}

// NewMaintainer constructs a Maintainer.
func NewMaintainer(conn *gorm.DB) *Maintainer {
	return &Maintainer{db: conn}
}

// UpdateStatus sets the status of an existing entry.
func (m *Maintainer) UpdateStatus(ctx context.Context, modelID, providerID string, status models.ProviderStatus) (bool, error) {
	return asBool(m.SetStatus(ctx, modelID, providerID, status))
}

// AddProvider appends providerID with status, or updates its status when already listed.
func (m *Maintainer) AddProvider(ctx context.Context, modelID, providerID string, status models.ProviderStatus) (bool, error) {
	return asBool(m.Add(ctx, modelID, providerID, status))
}

// RemoveProvider drops providerID from the list. The last entry is never removed.
func (m *Maintainer) RemoveProvider(ctx context.Context, modelID, providerID string) (bool, error) {
	return asBool(m.Remove(ctx, modelID, providerID))
}

// SetStatus is UpdateStatus with typed failures.
func (m *Maintainer) SetStatus(ctx context.Context, modelID, providerID string, status models.ProviderStatus) error {
	status = models.ProviderStatus(strings.ToUpper(string(status)))
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return m.mutate(ctx, modelID, func(tx *gorm.DB, list models.ModelProviders) (models.ModelProviders, error) {
		idx := list.IndexOf(providerID)
		if idx < 0 {
			return nil, resolution.ErrProviderNotMapped.WithMessage(fmt.Sprintf("provider %q is not mapped to model %q", providerID, modelID))
		}
		list[idx].Status = status
		return list, nil
	})
}

// Add is AddProvider with typed failures.
func (m *Maintainer) Add(ctx context.Context, modelID, providerID string, status models.ProviderStatus) error {
	providerID = strings.TrimSpace(providerID)
	status = models.ProviderStatus(strings.ToUpper(string(status)))
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return m.mutate(ctx, modelID, func(tx *gorm.DB, list models.ModelProviders) (models.ModelProviders, error) {
		if idx := list.IndexOf(providerID); idx >= 0 {
			list[idx].Status = status
			return list, nil
		}
		var count int64
		if errCount := tx.Model(&models.Provider{}).Where("id = ?", providerID).Count(&count).Error; errCount != nil {
			return nil, fmt.Errorf("modelmapping: check provider: %w", errCount)
		}
		if count == 0 {
			return nil, resolution.ErrProviderNotFound.WithMessage(fmt.Sprintf("provider %q not found", providerID))
		}
		return append(list, models.ModelProviderEntry{ProviderID: providerID, Status: status}), nil
	})
}

// Remove is RemoveProvider with typed failures.
func (m *Maintainer) Remove(ctx context.Context, modelID, providerID string) error {
	return m.mutate(ctx, modelID, func(tx *gorm.DB, list models.ModelProviders) (models.ModelProviders, error) {
		idx := list.IndexOf(providerID)
		if idx < 0 {
			return nil, resolution.ErrProviderNotMapped.WithMessage(fmt.Sprintf("provider %q is not mapped to model %q", providerID, modelID))
		}
		if len(list) == 1 {
			return nil, resolution.ErrLastProvider
		}
		return append(list[:idx], list[idx+1:]...), nil
	})
}

func (m *Maintainer) mutate(ctx context.Context, modelID string, apply func(tx *gorm.DB, list models.ModelProviders) (models.ModelProviders, error)) error {
	modelID = strings.TrimSpace(modelID)
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Select("id", "providers").Where("id = ?", modelID)
		if !db.IsSQLite(tx) {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row models.Model
		if errFind := query.First(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return resolution.ErrModelNotFound.WithMessage(fmt.Sprintf("model %q not found", modelID))
			}
			return fmt.Errorf("modelmapping: load model: %w", errFind)
		}
		next, errApply := apply(tx, row.Providers.Clone())
		if errApply != nil {
			return errApply
		}
		if errUpdate := tx.Model(&models.Model{}).Where("id = ?", modelID).Updates(map[string]any{
			"providers":  next,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
			return fmt.Errorf("modelmapping: save providers: %w", errUpdate)
		}
		return nil
	})
}

// asBool maps lookup and invariant failures to false and keeps other errors.
func asBool(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrInvalidStatus) || resolution.KindOf(err) != "" {
		return false, nil
	}
	return false, err
}

// ActiveEntries returns the active entries of list paired with their original index.
func ActiveEntries(list models.ModelProviders) []lo.Tuple2[int, models.ModelProviderEntry] {
	out := make([]lo.Tuple2[int, models.ModelProviderEntry], 0, len(list))
	for i, entry := range list {
		if entry.Status == models.ProviderStatusActive {
			out = append(out, lo.T2(i, entry))
		}
	}
	return out
}

// ActiveProviderIDs returns the ids of active entries in routing order.
func ActiveProviderIDs(list models.ModelProviders) []string {
	return lo.FilterMap(list, func(entry models.ModelProviderEntry, _ int) (string, bool) {
		return entry.ProviderID, entry.Status == models.ProviderStatusActive
	})
}
