package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigDir(t *testing.T, foresightYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	if foresightYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "foresight.yaml"), []byte(foresightYAML), 0o644))
	}
	if providersYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	}
	return dir
}

func TestInitialize_DefaultsWithoutFiles(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	// Balanced strategy is the baseline.
	assert.Equal(t, 3, cfg.Threshold.MinPredictors)
	assert.Equal(t, 48, cfg.Threshold.PredictorTTLHours)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, AggregationWeightedEnsemble, cfg.Ensemble.AggregationMethod)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Len(t, cfg.Analysts, 5)
	assert.Contains(t, cfg.Providers, "openai")
	assert.Contains(t, cfg.Providers, "local")
	assert.True(t, cfg.Providers["local"].IsLocal)
	assert.Len(t, cfg.TierModels, len(AllTiers))
}

func TestInitialize_StrategySetsThresholdBaseline(t *testing.T) {
	dir := writeConfigDir(t, "strategy: conservative\n", "")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Threshold.MinPredictors)
	assert.Equal(t, 0.75, cfg.Threshold.MinDirectionConsensus)
	assert.Equal(t, 24, cfg.Threshold.PredictorTTLHours)
}

func TestInitialize_ExplicitThresholdOverridesStrategy(t *testing.T) {
	dir := writeConfigDir(t, `
strategy: aggressive
threshold:
  min_predictors: 7
`, "")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Threshold.MinPredictors, "explicit value wins")
	assert.Equal(t, 0.5, cfg.Threshold.MinDirectionConsensus, "unset fields keep the strategy baseline")
}

func TestInitialize_UnknownStrategyFallsBackToBalanced(t *testing.T) {
	dir := writeConfigDir(t, "strategy: yolo\n", "")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Threshold.MinPredictors)
}

func TestInitialize_ProvidersMergeAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_LLM_KEY_ENV", "GROQ_API_KEY")

	dir := writeConfigDir(t, "", `
llm_providers:
  groq:
    type: openai-compatible
    base_url: https://api.groq.com/openai/v1
    api_key_env: "{{.TEST_LLM_KEY_ENV}}"
    model: llama-3.3-70b
  openai:
    type: openai-compatible
    base_url: https://example.test/v1
    api_key_env: OPENAI_API_KEY
    model: gpt-4o
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	require.Contains(t, cfg.Providers, "groq")
	assert.Equal(t, "GROQ_API_KEY", cfg.Providers["groq"].APIKeyEnv, "template expanded from the environment")
	assert.Equal(t, "https://example.test/v1", cfg.Providers["openai"].BaseURL, "user entry replaces the built-in")
	assert.Contains(t, cfg.Providers, "anthropic", "untouched built-ins survive")
}

func TestInitialize_TierOverride(t *testing.T) {
	dir := writeConfigDir(t, `
tiers:
  gold:
    provider: anthropic
    model: claude-sonnet-4-5
`, "")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.TierModels[TierGold].Provider)
	assert.Equal(t, "openai", cfg.TierModels[TierSilver].Provider, "other tiers keep built-ins")
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfigDir(t, "threshold: [not: a: map\n", "")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "foresight.yaml", loadErr.File)
}

func TestInitialize_ValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative predictors", "threshold:\n  min_predictors: -1\n"},
		{"consensus out of range", "threshold:\n  min_direction_consensus: 1.5\n"},
		{"bad aggregation method", "ensemble:\n  aggregation_method: mob-rule\n"},
		{"bad fork type", "ensemble:\n  fork_types: [\"user\", \"committee\"]\n"},
		{"tier points at unknown provider", "tiers:\n  gold:\n    provider: nonexistent\n    model: m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfigDir(t, tt.yaml, "")
			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestInitialize_LocalModelEnvOverride(t *testing.T) {
	t.Setenv(DefaultLLMModelEnv, "qwen2.5:14b")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:14b", cfg.Usage.LocalFallbackModel)
}
