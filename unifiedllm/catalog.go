package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	SupportsTools     bool     `json:"supports_tools"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	Aliases           []string `json:"aliases,omitempty"`
}

// DefaultModel is used when neither the caller nor the config names a model.
const DefaultModel = "kimi-k2.5"

// Models is the built-in model catalog. The first entry per provider is its default.
var Models = []ModelInfo{
	// Kimi (OpenAI-compatible Chat Completions)
	{
		ID: "kimi-k2.5", Provider: "kimi", DisplayName: "Kimi K2.5",
		ContextWindow: 262144, SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"kimi", "k2.5"},
	},
	{
		ID: "kimi-k2-thinking", Provider: "kimi", DisplayName: "Kimi K2 Thinking",
		ContextWindow: 262144, SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"k2-thinking"},
	},
	{
		ID: "kimi-k2-turbo-preview", Provider: "kimi", DisplayName: "Kimi K2 Turbo (Preview)",
		ContextWindow: 262144, SupportsTools: true,
		Aliases: []string{"k2-turbo"},
	},
	{
		ID: "moonshot-v1-128k", Provider: "kimi", DisplayName: "Moonshot v1 128k",
		ContextWindow: 131072, SupportsTools: true,
	},

	// Anthropic (via gollm)
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"sonnet"},
	},

	// OpenAI (via gollm)
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, SupportsTools: true, SupportsReasoning: true,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, SupportsTools: true,
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModel maps an alias to its canonical id. Unknown ids pass through
// unchanged so newly released models work without a catalog update.
func ResolveModel(modelID string) string {
	if modelID == "" {
		return DefaultModel
	}
	if info := GetModelInfo(modelID); info != nil {
		return info.ID
	}
	return modelID
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModelFor returns the first catalog model for a provider.
func DefaultModelFor(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}
