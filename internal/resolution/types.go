// Package resolution holds the results and errors shared by the credential and model resolvers.
package resolution

import "github.com/router-for-me/CLIProxyAPIRouter/internal/models"

// RouteContext carries optional caller identifiers recorded alongside resolution and usage.
type RouteContext struct {
	ChatID    string `json:"chat_id,omitempty"`
	SubChatID string `json:"sub_chat_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Check names an availability check a credential can fail.
type Check string

const (
	CheckExpired  Check = "expired"
	CheckQuota    Check = "quota"
	CheckCooldown Check = "cooldown"
)

// ResolvedCredential is a credential ready for an outbound call.
// Degraded is set when no credential passed every check and the first one was returned anyway.
type ResolvedCredential struct {
	Credential      models.Credential `json:"credential"`
	Provider        models.Provider   `json:"provider"`
	APIKey          string            `json:"-"`
	OAuthToken      string            `json:"-"`
	Degraded        bool              `json:"degraded"`
	DegradedReasons []Check           `json:"degraded_reasons,omitempty"`
	// SecretStoreDegraded reports that a secret was read from the plain fallback encoding.
	SecretStoreDegraded bool `json:"secret_store_degraded"`
}

// ModelResolution is the routing decision for a logical model.
type ModelResolution struct {
	Model         models.Model        `json:"model"`
	Provider      models.Provider     `json:"provider"`
	Credential    *ResolvedCredential `json:"credential"`
	ProviderIndex int                 `json:"provider_index"`
}
