package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ForesightYAMLConfig represents the complete foresight.yaml file structure.
type ForesightYAMLConfig struct {
	Strategy  ThresholdStrategy        `yaml:"strategy,omitempty"`
	Threshold *ThresholdConfig         `yaml:"threshold,omitempty"`
	Retry     *RetryConfig             `yaml:"retry,omitempty"`
	Ingest    *IngestConfig            `yaml:"ingest,omitempty"`
	Ensemble  *EnsembleConfig          `yaml:"ensemble,omitempty"`
	Usage     *UsageLimitConfig        `yaml:"usage,omitempty"`
	Queue     *QueueConfig             `yaml:"queue,omitempty"`
	Server    *ServerConfig            `yaml:"server,omitempty"`
	Crawler   *CrawlerConfig           `yaml:"crawler,omitempty"`
	Tiers     map[Tier]TierModelConfig `yaml:"tiers,omitempty"`
	Analysts  []AnalystConfig          `yaml:"analysts,omitempty"`
}

// LLMProvidersYAMLConfig represents the llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	configDir string

	Threshold *ThresholdConfig
	Retry     *RetryConfig
	Ingest    *IngestConfig
	Ensemble  *EnsembleConfig
	Usage     *UsageLimitConfig
	Queue     *QueueConfig
	Server    *ServerConfig
	Crawler   *CrawlerConfig

	// TierModels is the universe-independent tier → (provider, model) map,
	// user YAML merged over built-ins.
	TierModels map[Tier]TierModelConfig

	// Providers is the LLM provider registry, user YAML merged over built-ins.
	Providers map[string]*LLMProviderConfig

	// Analysts is the built-in analyst bench (used when the store has none).
	Analysts []AnalystConfig
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"strategy_thresholds", fmt.Sprintf("%d/%d/%.2f", cfg.Threshold.MinPredictors,
			cfg.Threshold.MinCombinedStrength, cfg.Threshold.MinDirectionConsensus),
		"providers", len(cfg.Providers),
		"analysts", len(cfg.Analysts))

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var fileCfg ForesightYAMLConfig
	if err := readYAML(filepath.Join(configDir, "foresight.yaml"), &fileCfg); err != nil {
		return nil, NewLoadError("foresight.yaml", err)
	}

	var providersCfg LLMProvidersYAMLConfig
	if err := readYAML(filepath.Join(configDir, "llm-providers.yaml"), &providersCfg); err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// Strategy picks the threshold baseline; explicit threshold overrides it.
	threshold := ThresholdForStrategy(fileCfg.Strategy)
	if fileCfg.Threshold != nil {
		if err := mergo.Merge(&threshold, fileCfg.Threshold, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge threshold config: %w", err)
		}
	}

	retry := DefaultRetryConfig()
	if fileCfg.Retry != nil {
		if err := mergo.Merge(retry, fileCfg.Retry, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retry config: %w", err)
		}
	}

	ingest := DefaultIngestConfig()
	if fileCfg.Ingest != nil {
		if err := mergo.Merge(ingest, fileCfg.Ingest, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge ingest config: %w", err)
		}
	}

	ensemble := DefaultEnsembleConfig()
	if fileCfg.Ensemble != nil {
		if err := mergo.Merge(ensemble, fileCfg.Ensemble, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge ensemble config: %w", err)
		}
	}

	usage := DefaultUsageLimitConfig()
	if fileCfg.Usage != nil {
		if err := mergo.Merge(usage, fileCfg.Usage, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge usage config: %w", err)
		}
	}
	// Environment-level override of the local fallback model.
	if m := os.Getenv(DefaultLLMModelEnv); m != "" {
		usage.LocalFallbackModel = m
	}

	queue := DefaultQueueConfig()
	if fileCfg.Queue != nil {
		if err := mergo.Merge(queue, fileCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	server := &ServerConfig{Addr: ":8080"}
	if fileCfg.Server != nil && fileCfg.Server.Addr != "" {
		server = fileCfg.Server
	}

	crawler := &CrawlerConfig{TimeoutSec: 30}
	if fileCfg.Crawler != nil {
		if err := mergo.Merge(crawler, fileCfg.Crawler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge crawler config: %w", err)
		}
	}

	// Tier models: user YAML overrides built-in per tier.
	tierModels := make(map[Tier]TierModelConfig, len(AllTiers))
	for _, t := range AllTiers {
		tierModels[t] = BuiltinTierModel(t)
	}
	for t, m := range fileCfg.Tiers {
		tierModels[t] = m
	}

	// Providers: user YAML overrides built-in per name.
	providers := builtinProviders()
	for name, p := range providersCfg.LLMProviders {
		providers[name] = p
	}

	analysts := fileCfg.Analysts
	if len(analysts) == 0 {
		analysts = BuiltinAnalysts()
	}

	return &Config{
		configDir:  configDir,
		Threshold:  &threshold,
		Retry:      retry,
		Ingest:     ingest,
		Ensemble:   ensemble,
		Usage:      usage,
		Queue:      queue,
		Server:     server,
		Crawler:    crawler,
		TierModels: tierModels,
		Providers:  providers,
		Analysts:   analysts,
	}, nil
}

// readYAML reads a YAML file with env expansion. A missing file is not an
// error; built-in defaults cover everything.
func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Threshold.MinPredictors < 1 {
		return NewValidationError("threshold", "default", "min_predictors", ErrInvalidValue)
	}
	if c.Threshold.MinDirectionConsensus < 0 || c.Threshold.MinDirectionConsensus > 1 {
		return NewValidationError("threshold", "default", "min_direction_consensus", ErrInvalidValue)
	}
	if c.Threshold.TimeDecayRate < 0 {
		return NewValidationError("threshold", "default", "time_decay_rate", ErrInvalidValue)
	}
	if !c.Ensemble.AggregationMethod.IsValid() {
		return NewValidationError("ensemble", "default", "aggregation_method", ErrInvalidValue)
	}
	if c.Ensemble.TierPreference != "" && !c.Ensemble.TierPreference.IsValid() {
		return NewValidationError("ensemble", "default", "tier_preference", ErrInvalidValue)
	}
	for _, fork := range c.Ensemble.ForkTypes {
		switch fork {
		case "user", "ai", "arbitrator":
		default:
			return NewValidationError("ensemble", "default", "fork_types", ErrInvalidValue)
		}
	}
	if c.Retry.MaxRetries < 0 || c.Retry.BackoffMultiplier < 1 {
		return NewValidationError("retry", "default", "", ErrInvalidValue)
	}
	for name, p := range c.Providers {
		if p.Type == "" {
			return NewValidationError("llm_provider", name, "type", ErrInvalidValue)
		}
	}
	for t := range c.TierModels {
		if _, ok := c.Providers[c.TierModels[t].Provider]; !ok {
			return NewValidationError("tier", string(t), "provider", ErrProviderNotFound)
		}
	}
	return nil
}
