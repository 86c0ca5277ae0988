package llm

// ModelInfo contains model metadata including context length limits.
type ModelInfo struct {
	ID            string `json:"id"`
	ContextLength int    `json:"context_length"`
}

var knownModels = map[string]ModelInfo{
	"google:gemini-2.5-flash-lite": {ID: "google:gemini-2.5-flash-lite", ContextLength: 1_000_000},
	"google:gemini-2.5-flash":      {ID: "google:gemini-2.5-flash", ContextLength: 1_000_000},
	"google:gemini-2.5-pro":        {ID: "google:gemini-2.5-pro", ContextLength: 1_000_000},
	"anthropic:claude-4-sonnet":    {ID: "anthropic:claude-4-sonnet", ContextLength: 200_000},
	"anthropic:claude-4.1-opus":    {ID: "anthropic:claude-4.1-opus", ContextLength: 200_000},
}

// LookupModel returns metadata for a model, falling back to DefaultContextLength.
func LookupModel(id string) ModelInfo {
	if info, ok := knownModels[id]; ok {
		return info
	}
	return ModelInfo{ID: id, ContextLength: DefaultContextLength}
}
