package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foresight-labs/foresight/pkg/models"
)

func TestRiskFraction(t *testing.T) {
	assert.Equal(t, 0.02, riskFraction(0.9))
	assert.Equal(t, 0.02, riskFraction(0.8))
	assert.Equal(t, 0.015, riskFraction(0.75))
	assert.Equal(t, 0.01, riskFraction(0.6))
	assert.Equal(t, 0.005, riskFraction(0.59))
}

func TestStopDistanceFraction(t *testing.T) {
	assert.Equal(t, 0.05, stopDistanceFraction(6))
	assert.Equal(t, 0.03, stopDistanceFraction(4))
	assert.Equal(t, 0.03, stopDistanceFraction(2.5))
	assert.Equal(t, 0.02, stopDistanceFraction(1))
}

func TestRecommendedQuantity(t *testing.T) {
	stock := &models.Target{Symbol: "AAPL", TargetType: "stock"}
	crypto := &models.Target{Symbol: "BTC-USD", TargetType: "crypto"}

	// (100000 × 0.02) / (150 × 0.03) = 444.44, floored to whole shares.
	assert.InDelta(t, 444, recommendedQuantity(stock, 100_000, 150, 0.8, 4), 1e-9)

	// Crypto keeps satoshi precision: (10000 × 0.01) / (50000 × 0.02)
	// = 0.1 exactly.
	assert.InDelta(t, 0.1, recommendedQuantity(crypto, 10_000, 50_000, 0.65, 2), 1e-9)

	// Fractional crypto results floor at 1e-8, never round up.
	qty := recommendedQuantity(crypto, 10_000, 30_000, 0.65, 2)
	assert.InDelta(t, 0.16666666, qty, 1e-8)
	assert.LessOrEqual(t, qty, 1.0/6.0)

	assert.Zero(t, recommendedQuantity(stock, 0, 150, 0.8, 4))
	assert.Zero(t, recommendedQuantity(stock, 100_000, 0, 0.8, 4))
}
