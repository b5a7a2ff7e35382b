package config

import "time"

// DefaultLLMModelEnv is the environment variable overriding the local
// fallback model identifier.
const DefaultLLMModelEnv = "DEFAULT_LLM_MODEL"

// Built-in threshold strategies. The balanced strategy is the default.
var thresholdStrategies = map[ThresholdStrategy]ThresholdConfig{
	StrategyConservative: {
		MinPredictors:         5,
		MinCombinedStrength:   25,
		MinDirectionConsensus: 0.75,
		PredictorTTLHours:     24,
		TimeDecayRate:         0.08,
	},
	StrategyBalanced: {
		MinPredictors:         3,
		MinCombinedStrength:   15,
		MinDirectionConsensus: 0.6,
		PredictorTTLHours:     48,
		TimeDecayRate:         0.05,
	},
	StrategyAggressive: {
		MinPredictors:         2,
		MinCombinedStrength:   10,
		MinDirectionConsensus: 0.5,
		PredictorTTLHours:     48,
		TimeDecayRate:         0.03,
	},
}

// ThresholdForStrategy returns the bundled threshold config for a strategy,
// falling back to balanced for unknown names.
func ThresholdForStrategy(s ThresholdStrategy) ThresholdConfig {
	if cfg, ok := thresholdStrategies[s]; ok {
		return cfg
	}
	return thresholdStrategies[StrategyBalanced]
}

// DefaultThresholdConfig returns the balanced strategy thresholds.
func DefaultThresholdConfig() *ThresholdConfig {
	cfg := thresholdStrategies[StrategyBalanced]
	return &cfg
}

// DefaultRetryConfig returns the resilience layer defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialDelayMs:    1000,
		MaxDelayMs:        30000,
		BackoffMultiplier: 2,
		TimeoutMs:         30000,
	}
}

// DefaultIngestConfig returns the Tier-1 gate defaults.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		MinConfidence: 0.5,
		MinConsensus:  0.5,
		DefaultLimit:  20,
	}
}

// DefaultEnsembleConfig returns the ensemble defaults.
func DefaultEnsembleConfig() *EnsembleConfig {
	return &EnsembleConfig{
		AggregationMethod: AggregationWeightedEnsemble,
		EnableDualFork:    true,
		MaxConcurrent:     4,
	}
}

// DefaultQueueConfig returns worker pool defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:   2,
		PollInterval:  30 * time.Second,
		SweepInterval: 5 * time.Minute,
	}
}

// DefaultUsageLimitConfig returns usage limiter defaults.
func DefaultUsageLimitConfig() *UsageLimitConfig {
	return &UsageLimitConfig{
		DailyTokenBudget:   0, // unlimited unless configured
		LocalFallbackModel: "llama3.1:8b",
	}
}

// builtinTierModels are the built-in per-tier defaults, the last stop of the
// resolution precedence target → universe → agent → built-in.
var builtinTierModels = map[Tier]TierModelConfig{
	TierBronze:   {Provider: "local", Model: "llama3.1:8b"},
	TierSilver:   {Provider: "openai", Model: "gpt-4o-mini"},
	TierGold:     {Provider: "openai", Model: "gpt-4o"},
	TierPlatinum: {Provider: "anthropic", Model: "claude-sonnet-4-5"},
}

// BuiltinTierModel returns the built-in (provider, model) pair for a tier.
func BuiltinTierModel(t Tier) TierModelConfig {
	if m, ok := builtinTierModels[t]; ok {
		return m
	}
	return builtinTierModels[TierSilver]
}

// builtinProviders are available without any llm-providers.yaml.
func builtinProviders() map[string]*LLMProviderConfig {
	return map[string]*LLMProviderConfig{
		"openai": {
			Type:      "openai-compatible",
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: "OPENAI_API_KEY",
			Model:     "gpt-4o-mini",
		},
		"anthropic": {
			Type:      "openai-compatible",
			BaseURL:   "https://api.anthropic.com/v1",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Model:     "claude-sonnet-4-5",
		},
		"local": {
			Type:    "openai-compatible",
			BaseURL: "http://localhost:11434/v1",
			Model:   "llama3.1:8b",
			IsLocal: true,
		},
	}
}

// BuiltinAnalysts returns the default analyst bench used when the store has
// no analyst rows for a target's universe.
func BuiltinAnalysts() []AnalystConfig {
	return []AnalystConfig{
		{Slug: "technical-analyst", Name: "Technical Analyst", Tier: string(TierSilver), Weight: 1.0,
			Perspective: "You analyze price action, momentum, and chart structure. Weigh recent moves over narrative."},
		{Slug: "fundamental-analyst", Name: "Fundamental Analyst", Tier: string(TierGold), Weight: 1.2,
			Perspective: "You analyze earnings, balance sheets, and business fundamentals. Discount hype."},
		{Slug: "sentiment-analyst", Name: "Sentiment Analyst", Tier: string(TierSilver), Weight: 0.8,
			Perspective: "You gauge crowd psychology and news tone. Identify fear and euphoria extremes."},
		{Slug: "macro-analyst", Name: "Macro Analyst", Tier: string(TierGold), Weight: 1.0,
			Perspective: "You analyze rates, liquidity, and cross-asset flows. Tie single names to the macro regime."},
		{Slug: "contrarian-analyst", Name: "Contrarian Analyst", Tier: string(TierSilver), Weight: 0.7,
			Perspective: "You look for crowded trades and stretched positioning. Lean against consensus when it is extreme."},
	}
}

// AnalystConfig is the YAML shape of a built-in or user-defined analyst.
type AnalystConfig struct {
	Slug        string  `yaml:"slug"`
	Name        string  `yaml:"name"`
	Perspective string  `yaml:"perspective"`
	Weight      float64 `yaml:"weight"`
	Tier        string  `yaml:"tier"`
}
