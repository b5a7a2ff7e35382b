package config

import "time"

// ThresholdConfig gates Tier-3 prediction generation for a target.
type ThresholdConfig struct {
	MinPredictors         int     `yaml:"min_predictors"`
	MinCombinedStrength   int     `yaml:"min_combined_strength"`
	MinDirectionConsensus float64 `yaml:"min_direction_consensus"`
	PredictorTTLHours     int     `yaml:"predictor_ttl_hours"`
	TimeDecayRate         float64 `yaml:"time_decay_rate"`
}

// RetryConfig controls the resilience layer's retry/backoff/timeout behavior.
type RetryConfig struct {
	MaxRetries        int     `yaml:"max_retries"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutMs         int     `yaml:"timeout_ms"`
}

// InitialDelay returns the first backoff delay as a duration.
func (c *RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff ceiling as a duration.
func (c *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// Timeout returns the per-attempt deadline as a duration.
func (c *RetryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// IngestConfig gates Tier-1 predictor creation.
type IngestConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinConsensus  float64 `yaml:"min_consensus"`
	// DefaultLimit caps articles fetched per subscription per run.
	DefaultLimit int `yaml:"default_limit"`
}

// EnsembleConfig controls how the analyst ensemble runs and aggregates.
type EnsembleConfig struct {
	AggregationMethod AggregationMethod  `yaml:"aggregation_method"`
	TierPreference    TierPreference     `yaml:"tier_preference,omitempty"`
	AnalystWeights    map[string]float64 `yaml:"analyst_weights,omitempty"` // slug → weight override
	EnableDualFork    bool               `yaml:"enable_dual_fork"`
	ForkTypes         []string           `yaml:"fork_types,omitempty"`
	// MaxConcurrent bounds the per-ensemble worker fan-out.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// LLMProviderConfig describes one upstream LLM provider endpoint.
type LLMProviderConfig struct {
	Type       string `yaml:"type"` // "openai-compatible", "local"
	BaseURL    string `yaml:"base_url,omitempty"`
	APIKeyEnv  string `yaml:"api_key_env,omitempty"`
	Model      string `yaml:"model,omitempty"` // default model for the provider
	IsLocal    bool   `yaml:"is_local,omitempty"`
	MaxTokens  int    `yaml:"max_tokens,omitempty"`
	TimeoutSec int    `yaml:"timeout_sec,omitempty"`
}

// TierModelConfig maps a tier to a (provider, model) pair.
type TierModelConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// UsageLimitConfig throttles LLM spend per universe.
type UsageLimitConfig struct {
	// DailyTokenBudget is the per-universe token budget per UTC day.
	// Zero means unlimited.
	DailyTokenBudget int64 `yaml:"daily_token_budget"`
	// LocalFallbackModel is used when the limiter denies a non-local
	// provider; overridable via DEFAULT_LLM_MODEL.
	LocalFallbackModel string `yaml:"local_fallback_model"`
}

// QueueConfig controls the background worker pool.
type QueueConfig struct {
	WorkerCount   int           `yaml:"worker_count"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ServerConfig controls the HTTP API surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CrawlerConfig controls the crawler bridge.
type CrawlerConfig struct {
	BaseURL string `yaml:"base_url"`
	// AllowPrivateNetworks disables the production private-address guard
	// (used by the local test path only).
	AllowPrivateNetworks bool `yaml:"allow_private_networks"`
	TimeoutSec           int  `yaml:"timeout_sec"`
}
