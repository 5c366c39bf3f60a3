package config

import "time"

// ToolConfig tunes a single recon tool in the registry. Unset fields fall
// back to registry defaults.
type ToolConfig struct {
	// Enabled removes the tool from the registry when false.
	Enabled *bool `yaml:"enabled,omitempty"`

	// RatePerSecond is the tool's token-bucket refill rate.
	RatePerSecond float64 `yaml:"rate_per_second,omitempty"`

	// Burst is the token-bucket capacity.
	Burst int `yaml:"burst,omitempty"`

	// Timeout overrides the global tool timeout for this tool.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries overrides the retry budget for retryable failures.
	MaxRetries *int `yaml:"max_retries,omitempty"`
}

// IsEnabled reports the effective enabled flag (default true).
func (t ToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// ReasonerConfig points the pipeline at the external reasoning service.
// The reasoner is optional: when disabled the pipeline runs its rule-based
// fallbacks only.
type ReasonerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultReasonerConfig returns the built-in reasoner defaults (disabled).
func DefaultReasonerConfig() *ReasonerConfig {
	return &ReasonerConfig{
		APIKeyEnv: "REASONER_API_KEY",
		Timeout:   60 * time.Second,
	}
}
