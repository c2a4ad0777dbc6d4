package config

import (
	"fmt"
	"os"
	"time"
)

// LLMProvider identifies the LLM backend type.
type LLMProvider string

const (
	LLMProviderOllama LLMProvider = "ollama"
	LLMProviderOpenAI LLMProvider = "openai"
)

// LLMConfig configures the chat backends. The local endpoint is preferred;
// the remote backend is used when selected explicitly.
type LLMConfig struct {
	// Provider selects the backend (ollama, openai).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=ollama,enum=openai,default=ollama"`

	// Model is the model identifier (e.g. "llama3.2", "gpt-4o-mini").
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Host overrides the backend endpoint URL.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// APIKey authenticates against remote backends. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Temperature is the default sampling temperature in [0, 2].
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2,default=0.7"`

	// MaxTokens is the default response token cap.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"minimum=1,default=4096"`

	// Stop lists sequences that terminate generation when emitted.
	Stop []string `yaml:"stop,omitempty" json:"stop,omitempty"`

	// TimeoutSeconds bounds a single backend request.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"default=120"`

	// Resilience configures retry, breaker, rate limit and concurrency.
	Resilience ResilienceConfig `yaml:"resilience,omitempty" json:"resilience,omitempty"`
}

// ResilienceConfig configures the policies shielding the LLM backends.
type ResilienceConfig struct {
	// MaxRetries is the retry count for transient failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"default=3"`

	// RetryBaseMillis is the exponential backoff base delay.
	RetryBaseMillis int `yaml:"retry_base_millis,omitempty" json:"retry_base_millis,omitempty" jsonschema:"default=100"`

	// RetryCapMillis caps a single backoff delay.
	RetryCapMillis int `yaml:"retry_cap_millis,omitempty" json:"retry_cap_millis,omitempty" jsonschema:"default=10000"`

	// BreakerFailures is the consecutive-failure count that opens the breaker.
	BreakerFailures int `yaml:"breaker_failures,omitempty" json:"breaker_failures,omitempty" jsonschema:"default=5"`

	// BreakerCooldownSeconds is how long the breaker stays open.
	BreakerCooldownSeconds float64 `yaml:"breaker_cooldown_seconds,omitempty" json:"breaker_cooldown_seconds,omitempty" jsonschema:"default=30"`

	// RatePerSecond is the token-bucket refill rate (requests/second).
	// Zero disables rate limiting.
	RatePerSecond float64 `yaml:"rate_per_second,omitempty" json:"rate_per_second,omitempty"`

	// RateBurst is the token-bucket burst size.
	RateBurst int `yaml:"rate_burst,omitempty" json:"rate_burst,omitempty"`

	// MaxConcurrent is the global in-flight request cap C.
	MaxConcurrent int `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty" jsonschema:"default=8"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectLLMProviderFromEnv()
	}
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderOpenAI:
			c.Model = "gpt-4o-mini"
		default:
			c.Model = "llama3.2"
		}
	}
	if c.Host == "" && c.Provider == LLMProviderOllama {
		c.Host = "http://localhost:11434"
	}
	if c.APIKey == "" && c.Provider == LLMProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}
	c.Resilience.SetDefaults()
}

// SetDefaults applies resilience defaults.
func (c *ResilienceConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseMillis == 0 {
		c.RetryBaseMillis = 100
	}
	if c.RetryCapMillis == 0 {
		c.RetryCapMillis = 10000
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldownSeconds == 0 {
		c.BreakerCooldownSeconds = 30
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 8
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOllama, LLMProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Provider == LLMProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("openai provider requires an api_key")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2], got %v", *c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	return c.Resilience.Validate()
}

// Validate checks the resilience configuration.
func (c *ResilienceConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second cannot be negative")
	}
	if c.RatePerSecond > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be positive when rate limiting is enabled")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	return nil
}

// Timeout returns the per-request timeout as a duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBase returns the backoff base delay.
func (c *ResilienceConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMillis) * time.Millisecond
}

// RetryCap returns the backoff delay cap.
func (c *ResilienceConfig) RetryCap() time.Duration {
	return time.Duration(c.RetryCapMillis) * time.Millisecond
}

// BreakerCooldown returns the open-state cool-down.
func (c *ResilienceConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds * float64(time.Second))
}

func detectLLMProviderFromEnv() LLMProvider {
	if os.Getenv("HIVEMIND_LLM_PROVIDER") == "openai" {
		return LLMProviderOpenAI
	}
	return LLMProviderOllama
}
