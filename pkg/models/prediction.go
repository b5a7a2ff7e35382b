package models

import "time"

// PredictionStatus is the lifecycle state of a prediction.
type PredictionStatus string

const (
	PredictionActive    PredictionStatus = "active"
	PredictionResolved  PredictionStatus = "resolved"
	PredictionExpired   PredictionStatus = "expired"
	PredictionCancelled PredictionStatus = "cancelled"
)

// IsValid checks if the prediction status is valid
func (s PredictionStatus) IsValid() bool {
	switch s {
	case PredictionActive, PredictionResolved, PredictionExpired, PredictionCancelled:
		return true
	default:
		return false
	}
}

// ArbitratorSlug is the analyst_slug of the synthesized arbitrator row.
const ArbitratorSlug = "arbitrator"

// PredictionVersion is one entry in the refresh history kept inside
// AnalystEnsemble.Versions.
type PredictionVersion struct {
	Timestamp      time.Time           `json:"timestamp"` // prior updated_at
	Direction      PredictionDirection `json:"direction"`
	Confidence     float64             `json:"confidence"`
	Magnitude      Magnitude           `json:"magnitude"`
	PredictorCount int                 `json:"predictor_count"`
}

// ForkPosition is the per-fork breakdown embedded for the UI.
type ForkPosition struct {
	Direction  SignalDirection `json:"direction"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// AnalystEnsemble is the semi-structured record a prediction carries about
// the predictor set and ensemble run that produced it. Unknown keys from
// older rows live in Extra and round-trip opaquely.
type AnalystEnsemble struct {
	PredictorCount     int                                `json:"predictor_count"`
	CombinedStrength   int                                `json:"combined_strength"`
	DirectionConsensus float64                            `json:"direction_consensus"`
	Versions           []PredictionVersion                `json:"versions,omitempty"`
	Forks              map[string]map[string]ForkPosition `json:"forks,omitempty"` // analyst_slug → fork_type → position
	LastRefresh        *time.Time                         `json:"last_refresh,omitempty"`
	Extra              map[string]any                     `json:"extra,omitempty"`
}

// LLMTierResult records what one tier produced during generation.
type LLMTierResult struct {
	Direction  SignalDirection `json:"direction"`
	Confidence float64         `json:"confidence"`
	Model      string          `json:"model"`
	Provider   string          `json:"provider"`
}

// LLMEnsemble summarizes LLM usage across tiers for a prediction.
type LLMEnsemble struct {
	TiersUsed      []string                 `json:"tiers_used"`
	TierResults    map[string]LLMTierResult `json:"tier_results,omitempty"`
	AgreementLevel float64                  `json:"agreement_level"`
}

// ContextVersionRefs ties a prediction to the context versions in effect
// when it was generated, for traceability.
type ContextVersionRefs struct {
	RunnerVersionID   string            `json:"runner_version_id,omitempty"`
	UniverseVersionID string            `json:"universe_version_id,omitempty"`
	TargetVersionID   string            `json:"target_version_id,omitempty"`
	AnalystVersionIDs map[string]string `json:"analyst_version_ids,omitempty"` // slug → version id
}

// PredictionOutcome records how a resolved prediction fared against the
// observed price move.
type PredictionOutcome struct {
	ActualDirection PredictionDirection `json:"actual_direction"`
	ActualMovePct   float64             `json:"actual_move_pct"`
	Correct         bool                `json:"correct"`
	PriceAtEntry    float64             `json:"price_at_entry"`
	PriceAtExit     float64             `json:"price_at_exit"`
	ResolvedAt      time.Time           `json:"resolved_at"`
}

// Prediction is the Tier 3 artifact: direction, magnitude, confidence and
// horizon for a target, backed by an immutable snapshot. At most one active
// prediction exists per (target, analyst_slug); the arbitrator row, when
// present, is the canonical one.
type Prediction struct {
	ID              string              `json:"id"`
	TargetID        string              `json:"target_id"`
	Direction       PredictionDirection `json:"direction"`
	Magnitude       Magnitude           `json:"magnitude"`
	Confidence      float64             `json:"confidence"`
	TimeframeHours  int                 `json:"timeframe_hours"`
	ExpiresAt       time.Time           `json:"expires_at"`
	PredictedAt     time.Time           `json:"predicted_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Reasoning       string              `json:"reasoning"`
	AnalystEnsemble *AnalystEnsemble    `json:"analyst_ensemble,omitempty"`
	LLMEnsemble     *LLMEnsemble        `json:"llm_ensemble,omitempty"`
	Status          PredictionStatus    `json:"status"`
	AnalystSlug     string              `json:"analyst_slug"` // analyst owner, or "arbitrator"
	IsArbitrator    bool                `json:"is_arbitrator"`
	ContextVersions *ContextVersionRefs `json:"context_versions,omitempty"`
	Outcome         *PredictionOutcome  `json:"outcome,omitempty"`
	IsTest          bool                `json:"is_test"`
	TestScenarioID  string              `json:"test_scenario_id,omitempty"`
}
