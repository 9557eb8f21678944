// Package routing maps a logical model to a provider and one of its credentials.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/db"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/modelmapping"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CredentialResolver resolves a credential for one provider.
type CredentialResolver interface {
	Resolve(ctx context.Context, providerID string, rctx resolution.RouteContext) (*resolution.ResolvedCredential, error)
}

// Options tunes model resolution.
type Options struct {
	// Failover tries the next active provider when the chosen one has no usable credential.
	Failover bool
}

// Resolver resolves models. It only reads and is safe for concurrent use.
type Resolver struct {
	db          *gorm.DB
	credentials CredentialResolver
	opts        Options
}

// NewResolver constructs a Resolver.
func NewResolver(conn *gorm.DB, credentials CredentialResolver, opts Options) *Resolver {
	return &Resolver{db: conn, credentials: credentials, opts: opts}
}

// Resolve picks the preferred provider when it is active for the model, otherwise the
// first active provider in list order, and resolves a credential for it.
func (r *Resolver) Resolve(ctx context.Context, modelID, preferredProviderID string, rctx resolution.RouteContext) (*resolution.ModelResolution, error) {
	model, errLoad := r.loadModel(ctx, modelID)
	if errLoad != nil {
		return nil, errLoad
	}

	candidates := modelmapping.ActiveEntries(model.Providers)
	if len(candidates) == 0 {
		return nil, resolution.ErrNoActiveProvider.WithMessage(fmt.Sprintf("no active provider for model %q", model.ID))
	}

	preferredProviderID = strings.TrimSpace(preferredProviderID)
	if preferredProviderID != "" {
		for i, candidate := range candidates {
			if candidate.B.ProviderID == preferredProviderID {
				// Preferred first, remaining active providers keep list order.
				copy(candidates[1:i+1], candidates[:i])
				candidates[0] = candidate
				break
			}
		}
	}

	attempts := 1
	if r.opts.Failover {
		attempts = len(candidates)
	}
	var lastErr error
	for _, candidate := range candidates[:attempts] {
		index, entry := candidate.Unpack()
		resolved, errResolve := r.credentials.Resolve(ctx, entry.ProviderID, rctx)
		if errResolve != nil {
			lastErr = errResolve
			if r.opts.Failover && (resolution.IsNotFound(errResolve) || resolution.IsUnavailable(errResolve)) {
				log.WithError(errResolve).WithFields(log.Fields{
					"model":    model.ID,
					"provider": entry.ProviderID,
				}).Warn("routing: provider unusable, trying next active provider")
				continue
			}
			return nil, errResolve
		}
		return &resolution.ModelResolution{
			Model:         *model,
			Provider:      resolved.Provider,
			Credential:    resolved,
			ProviderIndex: index,
		}, nil
	}
	return nil, lastErr
}

func (r *Resolver) loadModel(ctx context.Context, modelID string) (*models.Model, error) {
	modelID = strings.TrimSpace(modelID)
	var model models.Model
	if errFind := r.db.WithContext(ctx).Where("id = ?", modelID).First(&model).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, resolution.ErrModelNotFound.WithMessage(fmt.Sprintf("model %q not found", modelID))
		}
		return nil, fmt.Errorf("routing: load model: %w", errFind)
	}
	return &model, nil
}

// ProvidersForModel returns the active providers of a model in routing order.
func (r *Resolver) ProvidersForModel(ctx context.Context, modelID string) ([]models.Provider, error) {
	model, errLoad := r.loadModel(ctx, modelID)
	if errLoad != nil {
		return nil, errLoad
	}
	ids := modelmapping.ActiveProviderIDs(model.Providers)
	if len(ids) == 0 {
		return []models.Provider{}, nil
	}
	var rows []models.Provider
	if errFind := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("routing: load providers: %w", errFind)
	}
	byID := make(map[string]models.Provider, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	out := make([]models.Provider, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// ModelsForProvider returns the models on which providerID is active, ordered by id.
func (r *Resolver) ModelsForProvider(ctx context.Context, providerID string) ([]models.Model, error) {
	providerID = strings.TrimSpace(providerID)
	var rows []models.Model
	if errFind := r.db.WithContext(ctx).
		Where(db.ProviderEntryExpr(r.db, "providers"), db.ProviderEntryArgs(r.db, providerID, string(models.ProviderStatusActive))...).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("routing: load models: %w", errFind)
	}
	return rows, nil
}
