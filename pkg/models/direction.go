package models

import "strings"

// SignalDirection is the direction of a signal or predictor.
type SignalDirection string

const (
	SignalBullish SignalDirection = "bullish"
	SignalBearish SignalDirection = "bearish"
	SignalNeutral SignalDirection = "neutral"
)

// IsValid checks if the signal direction is valid
func (d SignalDirection) IsValid() bool {
	return d == SignalBullish || d == SignalBearish || d == SignalNeutral
}

// PredictionDirection is the direction of a prediction (Tier 3 artifact).
type PredictionDirection string

const (
	PredictionUp   PredictionDirection = "up"
	PredictionDown PredictionDirection = "down"
	PredictionFlat PredictionDirection = "flat"
)

// IsValid checks if the prediction direction is valid
func (d PredictionDirection) IsValid() bool {
	return d == PredictionUp || d == PredictionDown || d == PredictionFlat
}

// NormalizeDirection maps free-form direction strings coming back from LLM
// output (or older stored rows) onto the closed signal enum. Synonyms map at
// ingress only; everything downstream works with the three canonical values.
func NormalizeDirection(raw string) SignalDirection {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bullish", "up", "buy", "long":
		return SignalBullish
	case "bearish", "down", "sell", "short":
		return SignalBearish
	default:
		return SignalNeutral
	}
}

// ToPredictionDirection maps a signal direction onto the prediction enum.
func (d SignalDirection) ToPredictionDirection() PredictionDirection {
	switch d {
	case SignalBullish:
		return PredictionUp
	case SignalBearish:
		return PredictionDown
	default:
		return PredictionFlat
	}
}

// Magnitude buckets the expected move size of a prediction.
type Magnitude string

const (
	MagnitudeSmall  Magnitude = "small"
	MagnitudeMedium Magnitude = "medium"
	MagnitudeLarge  Magnitude = "large"
)

// MagnitudeFromPercent buckets an expected move (in percent) onto the enum.
func MagnitudeFromPercent(pct float64) Magnitude {
	switch {
	case pct < 2.5:
		return MagnitudeSmall
	case pct < 6:
		return MagnitudeMedium
	default:
		return MagnitudeLarge
	}
}
