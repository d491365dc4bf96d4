package flowtypes

// ModelConfig selects a provider model and its generation parameters.
// Nil parameters are left to the provider default.
type ModelConfig struct {
	// Provider is the API provider name (e.g., "openai", "anthropic", "gemini", "compatible", "mock")
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseModel is the provider's model identifier (e.g., "gpt-4o", "claude-sonnet-4-20250514")
	BaseModel string `json:"base_model" mapstructure:"model"`

	// Temperature controls randomness in the model's output
	Temperature *float64 `json:"temperature,omitempty" mapstructure:"temperature"`

	// MaxTokens is the maximum number of tokens to generate in the response
	MaxTokens *int `json:"max_tokens,omitempty" mapstructure:"max_tokens"`

	// TopP implements nucleus sampling (0.0-1.0)
	TopP *float64 `json:"top_p,omitempty" mapstructure:"top_p"`
}

// DefaultTemperature and DefaultMaxTokens are used when a config leaves them unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// MaxTokensOr returns the configured max tokens or fallback.
func (m *ModelConfig) MaxTokensOr(fallback int) int {
	if m == nil || m.MaxTokens == nil {
		return fallback
	}
	return *m.MaxTokens
}

// ModelCatalogEntry describes one model of a provider in the embedded catalog.
type ModelCatalogEntry struct {
	// ID is the provider's model identifier
	ID string `yaml:"id" json:"id"`

	// DisplayName is a human-readable name for the model
	DisplayName string `yaml:"display_name" json:"display_name"`

	// Provider is filled from the enclosing catalog section
	Provider string `yaml:"-" json:"provider"`

	// ContextWindow is the maximum number of tokens the model accepts
	ContextWindow int `yaml:"context_window" json:"context_window"`

	// MaxOutputTokens is the maximum number of tokens the model can generate
	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// CatalogProvider groups the catalog models of one provider.
type CatalogProvider struct {
	Name    string              `yaml:"name" json:"name"`
	Default string              `yaml:"default" json:"default"`
	Models  []ModelCatalogEntry `yaml:"models" json:"models"`
}
