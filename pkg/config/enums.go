package config

// Tier is a quality/cost class mapping to a (provider, model) pair.
type Tier string

const (
	// TierBronze is the cheapest tier, used for bulk relevance scoring
	TierBronze Tier = "bronze"
	// TierSilver is the default tier for Tier-1 ensemble runs
	TierSilver Tier = "silver"
	// TierGold is the default tier for Tier-3 generation
	TierGold Tier = "gold"
	// TierPlatinum is reserved for arbitrator synthesis on high-value targets
	TierPlatinum Tier = "platinum"
)

// IsValid checks if the tier is valid
func (t Tier) IsValid() bool {
	return t == TierBronze || t == TierSilver || t == TierGold || t == TierPlatinum
}

// AllTiers lists the tiers in ascending cost order.
var AllTiers = []Tier{TierBronze, TierSilver, TierGold, TierPlatinum}

// TierPreference is a tier gate override; "ensemble" runs every tier and
// blends the results.
type TierPreference string

const (
	TierPreferenceBronze   TierPreference = "bronze"
	TierPreferenceSilver   TierPreference = "silver"
	TierPreferenceGold     TierPreference = "gold"
	TierPreferencePlatinum TierPreference = "platinum"
	TierPreferenceEnsemble TierPreference = "ensemble"
)

// IsValid checks if the tier preference is valid
func (p TierPreference) IsValid() bool {
	switch p {
	case TierPreferenceBronze, TierPreferenceSilver, TierPreferenceGold,
		TierPreferencePlatinum, TierPreferenceEnsemble:
		return true
	default:
		return false
	}
}

// AggregationMethod selects how per-analyst assessments combine into one
// ensemble direction.
type AggregationMethod string

const (
	// AggregationWeightedMajority takes the direction with the largest weighted vote share
	AggregationWeightedMajority AggregationMethod = "weighted_majority"
	// AggregationWeightedAverage maps directions to [-1,1] and buckets the weighted mean
	AggregationWeightedAverage AggregationMethod = "weighted_average"
	// AggregationWeightedEnsemble blends majority and average (default)
	AggregationWeightedEnsemble AggregationMethod = "weighted_ensemble"
)

// IsValid checks if the aggregation method is valid
func (m AggregationMethod) IsValid() bool {
	switch m {
	case AggregationWeightedMajority, AggregationWeightedAverage, AggregationWeightedEnsemble:
		return true
	default:
		return false
	}
}

// ThresholdStrategy names a bundled threshold configuration.
type ThresholdStrategy string

const (
	StrategyConservative ThresholdStrategy = "conservative"
	StrategyBalanced     ThresholdStrategy = "balanced"
	StrategyAggressive   ThresholdStrategy = "aggressive"
)

// IsValid checks if the threshold strategy is valid
func (s ThresholdStrategy) IsValid() bool {
	return s == StrategyConservative || s == StrategyBalanced || s == StrategyAggressive
}
