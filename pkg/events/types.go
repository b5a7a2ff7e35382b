// Package events provides best-effort typed lifecycle event delivery for the
// prediction pipeline. Emission never fails the originating operation: sink
// errors are logged and dropped.
package events

import "time"

// Lifecycle event types the core emits.
const (
	// EventPredictorReady fires when a target's active predictor set first
	// meets its generation threshold.
	EventPredictorReady = "predictor.ready"

	// EventPredictionCreated fires after fresh Tier-3 generation commits.
	EventPredictionCreated = "prediction.created"

	// EventPredictionRefreshed fires after an in-place refresh.
	EventPredictionRefreshed = "prediction.refreshed"

	// EventPositionsCreated fires after position requests are issued for a
	// prediction's non-flat fork assessments.
	EventPositionsCreated = "positions.created"
)

// SourceApp identifies this process in the shared event stream.
const SourceApp = "foresight-core"

// Event is the stable wire schema pushed to observability sinks.
type Event struct {
	Context       string         `json:"context"` // target ID or pipeline scope
	SourceApp     string         `json:"source_app"`
	HookEventType string         `json:"hook_event_type"`
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	Step          string         `json:"step,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// PredictorReadyPayload accompanies predictor.ready.
type PredictorReadyPayload struct {
	TargetID           string  `json:"target_id"`
	ActiveCount        int     `json:"active_count"`
	CombinedStrength   int     `json:"combined_strength"`
	DominantDirection  string  `json:"dominant_direction"`
	DirectionConsensus float64 `json:"direction_consensus"`
}

// PredictionCreatedPayload accompanies prediction.created.
type PredictionCreatedPayload struct {
	TargetID     string  `json:"target_id"`
	PredictionID string  `json:"prediction_id"`
	Direction    string  `json:"direction"`
	Magnitude    string  `json:"magnitude"`
	Confidence   float64 `json:"confidence"`
	AnalystCount int     `json:"analyst_count"`
}

// PredictionRefreshedPayload accompanies prediction.refreshed.
type PredictionRefreshedPayload struct {
	TargetID       string  `json:"target_id"`
	PredictionID   string  `json:"prediction_id"`
	Direction      string  `json:"direction"`
	Confidence     float64 `json:"confidence"`
	VersionCount   int     `json:"version_count"`
	PriorDirection string  `json:"prior_direction"`
}

// PositionsCreatedPayload accompanies positions.created.
type PositionsCreatedPayload struct {
	TargetID     string `json:"target_id"`
	PredictionID string `json:"prediction_id"`
	Requested    int    `json:"requested"`
	Skipped      int    `json:"skipped"`
}
