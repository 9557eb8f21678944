package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProviderStatus is the routing status of one provider entry on a model.
type ProviderStatus string

// ProviderStatus constants.
const (
	// ProviderStatusActive allows the provider to serve the model.
	ProviderStatusActive ProviderStatus = "A"
	// ProviderStatusDisabled keeps the entry but skips it during routing.
	ProviderStatusDisabled ProviderStatus = "D"
	// ProviderStatusExcluded marks the provider as never serving the model.
	ProviderStatusExcluded ProviderStatus = "X"
)

// Valid reports whether the status is one of A, D or X.
func (s ProviderStatus) Valid() bool {
	switch s {
	case ProviderStatusActive, ProviderStatusDisabled, ProviderStatusExcluded:
		return true
	default:
		return false
	}
}

// ModelProviderEntry associates a provider with a model.
type ModelProviderEntry struct {
	ProviderID string         `json:"provider_id"`
	Status     ProviderStatus `json:"status"`
}

// ModelProviders is the ordered provider list of a model. Order is routing priority.
type ModelProviders []ModelProviderEntry

// Value implements driver.Valuer for database serialization.
func (p ModelProviders) Value() (driver.Value, error) {
	if p == nil {
		p = ModelProviders{}
	}
	data, errMarshal := json.Marshal([]ModelProviderEntry(p))
	if errMarshal != nil {
		return nil, fmt.Errorf("model providers marshal: %w", errMarshal)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database deserialization.
func (p *ModelProviders) Scan(value any) error {
	if p == nil {
		return fmt.Errorf("model providers scan: nil receiver")
	}
	var data []byte
	switch typed := value.(type) {
	case nil:
		*p = ModelProviders{}
		return nil
	case []byte:
		data = typed
	case string:
		data = []byte(typed)
	default:
		return fmt.Errorf("model providers scan: unsupported type %T", value)
	}
	if len(data) == 0 {
		*p = ModelProviders{}
		return nil
	}
	var entries []ModelProviderEntry
	if errUnmarshal := json.Unmarshal(data, &entries); errUnmarshal != nil {
		return fmt.Errorf("model providers scan: %w", errUnmarshal)
	}
	*p = ModelProviders(entries)
	return nil
}

// IndexOf returns the position of providerID, or -1.
func (p ModelProviders) IndexOf(providerID string) int {
	providerID = strings.TrimSpace(providerID)
	for i, entry := range p {
		if entry.ProviderID == providerID {
			return i
		}
	}
	return -1
}

// Clone returns a copy safe to mutate.
func (p ModelProviders) Clone() ModelProviders {
	out := make(ModelProviders, len(p))
	copy(out, p)
	return out
}

// Positional renders the legacy comma-joined id and status lists.
func (p ModelProviders) Positional() (providerIDs string, providerStatus string) {
	ids := make([]string, 0, len(p))
	statuses := make([]string, 0, len(p))
	for _, entry := range p {
		ids = append(ids, entry.ProviderID)
		statuses = append(statuses, string(entry.Status))
	}
	return strings.Join(ids, ","), strings.Join(statuses, ",")
}

// ParseModelProviders builds the ordered list from the legacy parallel encoding.
// Entry i of providerStatus describes entry i of providerIDs; the lists must have equal length.
func ParseModelProviders(providerIDs, providerStatus string) (ModelProviders, error) {
	ids := splitList(providerIDs)
	statuses := splitList(providerStatus)
	if len(ids) != len(statuses) {
		return nil, fmt.Errorf("model providers: %d provider ids but %d statuses", len(ids), len(statuses))
	}
	out := make(ModelProviders, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("model providers: empty provider id at index %d", i)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("model providers: duplicate provider id %q", id)
		}
		seen[id] = struct{}{}
		status := ProviderStatus(strings.ToUpper(statuses[i]))
		if !status.Valid() {
			return nil, fmt.Errorf("model providers: invalid status %q at index %d", statuses[i], i)
		}
		out = append(out, ModelProviderEntry{ProviderID: id, Status: status})
	}
	return out, nil
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Model is a logical, provider-independent model identifier.
type Model struct {
	ID string `gorm:"type:varchar(255);primaryKey"` // Logical model id.

	Name              string `gorm:"type:text"`              // Display name.
	ContextLength     int    `gorm:"not null;default:0"`     // Max context tokens.
	SupportsVision    bool   `gorm:"not null;default:false"` // Accepts image input.
	SupportsTools     bool   `gorm:"not null;default:false"` // Supports tool calls.
	SupportsStreaming bool   `gorm:"not null"`               // Supports streamed responses.

	PricingInputPerMTok  *float64 `gorm:"column:pricing_input_per_mtok;type:decimal(20,10)"`  // Input price per million tokens.
	PricingOutputPerMTok *float64 `gorm:"column:pricing_output_per_mtok;type:decimal(20,10)"` // Output price per million tokens.

	IsDefault bool `gorm:"not null;default:false"` // At most one default model.

	Providers ModelProviders `gorm:"type:jsonb;not null;default:'[]'"` // Ordered provider entries.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasPricing reports whether both input and output prices are known.
func (m *Model) HasPricing() bool {
	return m != nil && m.PricingInputPerMTok != nil && m.PricingOutputPerMTok != nil
}
