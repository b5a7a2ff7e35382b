package models

import "time"

// SnapshotPredictor is the denormalized copy of a predictor captured in the
// audit snapshot at generation time.
type SnapshotPredictor struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	Direction   SignalDirection `json:"direction"`
	Strength    int             `json:"strength"`
	Confidence  float64         `json:"confidence"`
	AnalystSlug string          `json:"analyst_slug"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TimelineEvent is one entry in the snapshot's generation timeline.
type TimelineEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
}

// ThresholdEvaluationRecord captures the config and actuals of the threshold
// decision that gated a prediction.
type ThresholdEvaluationRecord struct {
	MinPredictors         int             `json:"min_predictors"`
	MinCombinedStrength   int             `json:"min_combined_strength"`
	MinDirectionConsensus float64         `json:"min_direction_consensus"`
	TimeDecayRate         float64         `json:"time_decay_rate"`
	ActiveCount           int             `json:"active_count"`
	CombinedStrength      int             `json:"combined_strength"`
	DominantDirection     SignalDirection `json:"dominant_direction"`
	DirectionConsensus    float64         `json:"direction_consensus"`
	AvgConfidence         float64         `json:"avg_confidence"`
	Passed                bool            `json:"passed"`
}

// PredictionSnapshot is the immutable audit record written once per
// prediction. No mutations after creation.
type PredictionSnapshot struct {
	ID                  string                    `json:"id"`
	PredictionID        string                    `json:"prediction_id"`
	Predictors          []SnapshotPredictor       `json:"predictors"`
	RejectedSignals     []SnapshotPredictor       `json:"rejected_signals,omitempty"`
	AnalystAssessments  []map[string]any          `json:"analyst_assessments"`
	LLMEnsemble         *LLMEnsemble              `json:"llm_ensemble,omitempty"`
	LearningsApplied    []string                  `json:"learnings_applied,omitempty"`
	ThresholdEvaluation ThresholdEvaluationRecord `json:"threshold_evaluation"`
	Timeline            []TimelineEvent           `json:"timeline"`
	CreatedAt           time.Time                 `json:"created_at"`
}
