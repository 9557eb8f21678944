package modelreference

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/router-for-me/CLIProxyAPIRouter/internal/models"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

type providerPayload struct {
	Name   string                     `json:"name"`
	Models map[string]json.RawMessage `json:"models"`
}

type modelPayload struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	ToolCall   bool             `json:"tool_call"`
	Attachment bool             `json:"attachment"`
	Modalities *modelModalities `json:"modalities"`
	Cost       *modelCost       `json:"cost"`
	Limit      *modelLimit      `json:"limit"`
}

type modelModalities struct {
	Input  []string `json:"input"`
	Output []string `json:"output"`
}

type modelCost struct {
	Input      *float64 `json:"input"`
	Output     *float64 `json:"output"`
	CacheRead  *float64 `json:"cache_read"`
	CacheWrite *float64 `json:"cache_write"`
}

type modelLimit struct {
	Context *int `json:"context"`
	Output  *int `json:"output"`
}

// extraSkipKeys are model fields already mapped to columns.
var extraSkipKeys = []string{"id", "name", "cost", "limit", "tool_call", "modalities"}

// ParseModelsPayload converts the models.dev payload into model references,
// one per provider and model id, sorted by provider name then model id.
func ParseModelsPayload(data []byte) ([]models.ModelReference, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("parse models payload: empty payload")
	}

	var providers map[string]json.RawMessage
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parse models payload: decode providers: %w", err)
	}

	var refs []models.ModelReference
	for _, providerKey := range lo.Keys(providers) {
		var provider providerPayload
		if err := json.Unmarshal(providers[providerKey], &provider); err != nil {
			return nil, fmt.Errorf("parse models payload: decode provider %s: %w", providerKey, err)
		}
		providerName := strings.TrimSpace(provider.Name)
		if providerName == "" {
			providerName = strings.TrimSpace(providerKey)
		}
		if providerName == "" {
			continue
		}

		for modelKey, modelRaw := range provider.Models {
			ref, ok, err := parseModel(providerName, modelKey, modelRaw)
			if err != nil {
				return nil, err
			}
			if ok {
				refs = append(refs, ref)
			}
		}
	}

	refs = lo.UniqBy(sortReferences(refs), func(ref models.ModelReference) string {
		return ref.ProviderName + "\x00" + ref.ModelID
	})
	if len(refs) == 0 {
		return nil, nil
	}
	return refs, nil
}

func parseModel(providerName, modelKey string, raw json.RawMessage) (models.ModelReference, bool, error) {
	var model modelPayload
	if err := json.Unmarshal(raw, &model); err != nil {
		return models.ModelReference{}, false, fmt.Errorf("parse models payload: decode model %s: %w", modelKey, err)
	}
	modelID := strings.TrimSpace(model.ID)
	if modelID == "" {
		modelID = strings.TrimSpace(modelKey)
	}
	if modelID == "" {
		return models.ModelReference{}, false, nil
	}
	name := strings.TrimSpace(model.Name)
	if name == "" {
		name = modelID
	}

	ref := models.ModelReference{
		ProviderName:  providerName,
		ModelID:       modelID,
		ModelName:     name,
		SupportsTools: model.ToolCall,
		Extra:         datatypes.JSON("{}"),
	}
	if model.Modalities != nil {
		ref.SupportsVision = lo.Contains(model.Modalities.Input, "image")
	}
	if model.Limit != nil {
		ref.ContextLimit = lo.FromPtr(model.Limit.Context)
		ref.OutputLimit = lo.FromPtr(model.Limit.Output)
	}
	if model.Cost != nil {
		ref.InputPrice = model.Cost.Input
		ref.OutputPrice = model.Cost.Output
		ref.CacheReadPrice = model.Cost.CacheRead
		ref.CacheWritePrice = model.Cost.CacheWrite
	}

	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		return models.ModelReference{}, false, fmt.Errorf("parse models payload: decode model extra %s: %w", modelKey, err)
	}
	extra = lo.OmitByKeys(extra, extraSkipKeys)
	if len(extra) > 0 {
		encoded, err := json.Marshal(extra)
		if err != nil {
			return models.ModelReference{}, false, fmt.Errorf("parse models payload: encode extra: %w", err)
		}
		ref.Extra = datatypes.JSON(encoded)
	}
	return ref, true, nil
}

func sortReferences(refs []models.ModelReference) []models.ModelReference {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ProviderName == refs[j].ProviderName {
			return refs[i].ModelID < refs[j].ModelID
		}
		return refs[i].ProviderName < refs[j].ProviderName
	})
	return refs
}
