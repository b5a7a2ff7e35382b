package llm

import (
	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/models"
)

// TierResolver resolves a tier to a concrete (provider, model) pair.
// Precedence: target override → universe override → agent override →
// built-in default per tier. First non-nil wins.
type TierResolver struct {
	tierModels        map[config.Tier]config.TierModelConfig
	universeOverrides map[string]models.LLMConfig
}

// NewTierResolver creates a resolver over the configured tier map.
// universeOverrides maps universe IDs to their LLM config, and may be nil.
func NewTierResolver(tierModels map[config.Tier]config.TierModelConfig, universeOverrides map[string]models.LLMConfig) *TierResolver {
	if tierModels == nil {
		panic("NewTierResolver: tierModels must not be nil")
	}
	return &TierResolver{
		tierModels:        tierModels,
		universeOverrides: universeOverrides,
	}
}

// Resolve returns the (provider, model) pair for a tier in the context of a
// target and analyst. target and analyst may be nil.
func (r *TierResolver) Resolve(tier config.Tier, target *models.Target, analyst *models.Analyst) config.TierModelConfig {
	if target != nil && target.LLMConfig != nil {
		return config.TierModelConfig{Provider: target.LLMConfig.Provider, Model: target.LLMConfig.Model}
	}
	if target != nil {
		if cfg, ok := r.universeOverrides[target.UniverseID]; ok {
			return config.TierModelConfig{Provider: cfg.Provider, Model: cfg.Model}
		}
	}
	if analyst != nil && analyst.LLMConfig != nil {
		return config.TierModelConfig{Provider: analyst.LLMConfig.Provider, Model: analyst.LLMConfig.Model}
	}
	if m, ok := r.tierModels[tier]; ok {
		return m
	}
	return config.BuiltinTierModel(tier)
}

// TierForAnalyst maps an analyst's configured tier string onto the tier
// enum, honoring a non-ensemble tier preference override.
func TierForAnalyst(analyst *models.Analyst, pref config.TierPreference) config.Tier {
	if pref != "" && pref != config.TierPreferenceEnsemble {
		return config.Tier(pref)
	}
	t := config.Tier(analyst.Tier)
	if !t.IsValid() {
		return config.TierSilver
	}
	return t
}
