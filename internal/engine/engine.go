// Package engine exposes credential resolution, model routing, usage tracking
// and mapping maintenance behind one object.
package engine

import (
	"context"
	"time"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/credential"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/modelmapping"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/resolution"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/routing"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/secretstore"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/settings"
	"github.com/router-for-me/CLIProxyAPIRouter/internal/usage"
	"gorm.io/gorm"
)

// Options configures an Engine.
type Options struct {
	// Cooldown is the credential circuit breaker window; zero selects the default.
	Cooldown time.Duration
	// Failover lets model resolution try the next active provider.
	Failover bool
	// DebugMode persists request and response payloads on usage rows.
	DebugMode bool
	// PerUnitCounting counts requests or latency instead of tokens for
	// request and time limited credentials.
	PerUnitCounting bool
	// Settings holds runtime overrides for Cooldown and DebugMode. Optional.
	Settings *settings.Store
}

// Engine wires the resolvers, the usage tracker and the mapping maintainer.
type Engine struct {
	opts        Options
	credentials *credential.Resolver
	routes      *routing.Resolver
	tracker     *usage.Tracker
	mappings    *modelmapping.Maintainer
}

// New constructs an Engine over db using secrets to open credential material.
func New(db *gorm.DB, secrets secretstore.Store, opts Options) *Engine {
	credentials := credential.NewResolver(db, secrets, opts.Cooldown)
	e := &Engine{
		opts:        opts,
		credentials: credentials,
		routes:      routing.NewResolver(db, credentials, routing.Options{Failover: opts.Failover}),
		tracker:     usage.NewTracker(db),
		mappings:    modelmapping.NewMaintainer(db),
	}
	e.tracker.SetPerUnitCounting(opts.PerUnitCounting)
	e.ApplySettings()
	return e
}

// ApplySettings re-reads the runtime overrides from the settings store.
func (e *Engine) ApplySettings() {
	cooldown := e.opts.Cooldown
	if secs := e.opts.Settings.Int(settings.CredentialCooldownSecondsKey, 0); secs > 0 {
		cooldown = time.Duration(secs) * time.Second
	}
	e.credentials.SetCooldown(cooldown)
}

// DebugMode reports whether usage rows should carry payloads.
func (e *Engine) DebugMode() bool {
	return e.opts.Settings.Bool(settings.UsageDebugModeKey, e.opts.DebugMode)
}

// Credentials returns the credential resolver.
func (e *Engine) Credentials() *credential.Resolver { return e.credentials }

// Routes returns the model resolver.
func (e *Engine) Routes() *routing.Resolver { return e.routes }

// Tracker returns the usage tracker.
func (e *Engine) Tracker() *usage.Tracker { return e.tracker }

// Mappings returns the mapping maintainer.
func (e *Engine) Mappings() *modelmapping.Maintainer { return e.mappings }

// ResolveModel routes modelID to a provider and credential.
func (e *Engine) ResolveModel(ctx context.Context, modelID, preferredProviderID string, rctx resolution.RouteContext) (*resolution.ModelResolution, error) {
	return e.routes.Resolve(ctx, modelID, preferredProviderID, rctx)
}

// ResolveCredential picks a credential for providerID.
func (e *Engine) ResolveCredential(ctx context.Context, providerID string, rctx resolution.RouteContext) (*resolution.ResolvedCredential, error) {
	return e.credentials.Resolve(ctx, providerID, rctx)
}

// RecordUsage records a completed request. It never fails the caller.
func (e *Engine) RecordUsage(ctx context.Context, cred *models.Credential, provider *models.Provider, model *models.Model, metrics usage.Metrics, debugMode bool, payloads *usage.DebugPayloads) {
	e.tracker.Record(ctx, cred, provider, model, metrics, debugMode, payloads)
}

// RecordResolution records usage for a resolution returned by ResolveModel.
func (e *Engine) RecordResolution(ctx context.Context, res *resolution.ModelResolution, metrics usage.Metrics, debugMode bool, payloads *usage.DebugPayloads) {
	if res == nil || res.Credential == nil {
		return
	}
	e.tracker.Record(ctx, &res.Credential.Credential, &res.Provider, &res.Model, metrics, debugMode, payloads)
}

// RecordCredentialError arms the circuit breaker for a credential.
func (e *Engine) RecordCredentialError(ctx context.Context, credentialID uint64, message string) (bool, error) {
	return e.credentials.RecordError(ctx, credentialID, message)
}

// UpdateCredentialUsage atomically adds tokens to a credential's usage counter.
func (e *Engine) UpdateCredentialUsage(ctx context.Context, credentialID uint64, tokens int64) (bool, error) {
	return e.credentials.UpdateUsage(ctx, credentialID, tokens)
}

// ResetCredentialUsage zeroes a credential's usage counter.
func (e *Engine) ResetCredentialUsage(ctx context.Context, credentialID uint64) (bool, error) {
	return e.credentials.ResetUsage(ctx, credentialID)
}

// UsageSummary aggregates usage for scope. A non-nil since replaces scope.Since;
// pass nil to keep the window already set on scope.
func (e *Engine) UsageSummary(ctx context.Context, scope usage.Scope, since *time.Time) (usage.Summary, error) {
	if since != nil {
		scope.Since = since
	}
	return e.tracker.Summary(ctx, scope)
}

// UpdateModelProviderStatus sets a provider's status on a model.
func (e *Engine) UpdateModelProviderStatus(ctx context.Context, modelID, providerID string, status models.ProviderStatus) (bool, error) {
	return e.mappings.UpdateStatus(ctx, modelID, providerID, status)
}

// AddProviderToModel adds a provider to a model, or updates its status when already present.
// An empty status means active.
func (e *Engine) AddProviderToModel(ctx context.Context, modelID, providerID string, status models.ProviderStatus) (bool, error) {
	if status == "" {
		status = models.ProviderStatusActive
	}
	return e.mappings.AddProvider(ctx, modelID, providerID, status)
}

// RemoveProviderFromModel removes a provider from a model. It returns false for the last provider.
func (e *Engine) RemoveProviderFromModel(ctx context.Context, modelID, providerID string) (bool, error) {
	return e.mappings.RemoveProvider(ctx, modelID, providerID)
}
