package predict

import (
	"math"

	"github.com/foresight-labs/foresight/pkg/models"
)

// riskFraction scales position risk with prediction confidence.
func riskFraction(confidence float64) float64 {
	switch {
	case confidence >= 0.8:
		return 0.02
	case confidence >= 0.7:
		return 0.015
	case confidence >= 0.6:
		return 0.01
	default:
		return 0.005
	}
}

// stopDistanceFraction scales the stop with the expected move size.
func stopDistanceFraction(magnitudePct float64) float64 {
	switch {
	case magnitudePct >= 6:
		return 0.05
	case magnitudePct >= 2.5:
		return 0.03
	default:
		return 0.02
	}
}

// recommendedQuantity sizes a position:
//
//	floor((balance × risk%) / (entry_price × stop%))
//
// Stocks round down to whole shares; crypto keeps 1e-8 precision.
func recommendedQuantity(target *models.Target, balance, entryPrice, confidence, magnitudePct float64) float64 {
	if balance <= 0 || entryPrice <= 0 {
		return 0
	}
	raw := (balance * riskFraction(confidence)) / (entryPrice * stopDistanceFraction(magnitudePct))
	if target.IsCrypto() {
		return math.Floor(raw*1e8) / 1e8
	}
	return math.Floor(raw)
}
