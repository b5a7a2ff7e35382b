package models

import "time"

// PredictorStatus is the lifecycle state of a predictor.
type PredictorStatus string

const (
	PredictorActive   PredictorStatus = "active"
	PredictorConsumed PredictorStatus = "consumed" // terminal
	PredictorExpired  PredictorStatus = "expired"
)

// IsValid checks if the predictor status is valid
func (s PredictorStatus) IsValid() bool {
	return s == PredictorActive || s == PredictorConsumed || s == PredictorExpired
}

// Predictor is a weighted, direction-bearing opinion derived from exactly one
// article × analyst ensemble run. Only active predictors influence threshold
// evaluation; once consumed the status is terminal.
type Predictor struct {
	ID                     string          `json:"id"`
	TargetID               string          `json:"target_id"`
	ArticleID              string          `json:"article_id"`
	AnalystSlug            string          `json:"analyst_slug"`
	Direction              SignalDirection `json:"direction"`
	Strength               int             `json:"strength"`   // 1..10
	Confidence             float64         `json:"confidence"` // 0..1
	Reasoning              string          `json:"reasoning"`
	Status                 PredictorStatus `json:"status"`
	ConsumedByPredictionID string          `json:"consumed_by_prediction_id,omitempty"`
	ExpiresAt              time.Time       `json:"expires_at"`
	CreatedAt              time.Time       `json:"created_at"`
	IsTest                 bool            `json:"is_test"`
}

// AgeHours returns the predictor's age in hours at the given instant.
func (p *Predictor) AgeHours(now time.Time) float64 {
	return now.Sub(p.CreatedAt).Hours()
}
