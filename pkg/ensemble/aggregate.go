package ensemble

import (
	"fmt"
	"math"
	"strings"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/models"
)

// directionValue maps directions onto a signed axis for averaging.
func directionValue(d models.SignalDirection) float64 {
	switch d {
	case models.SignalBullish:
		return 1
	case models.SignalBearish:
		return -1
	default:
		return 0
	}
}

// Aggregate combines non-paper assessments with the configured method.
// Returns an error when nothing is aggregatable.
func Aggregate(method config.AggregationMethod, assessments []Assessment) (Aggregated, error) {
	voting := make([]Assessment, 0, len(assessments))
	for _, a := range assessments {
		if !a.IsPaperOnly {
			voting = append(voting, a)
		}
	}
	if len(voting) == 0 {
		return Aggregated{}, fmt.Errorf("no assessments to aggregate")
	}

	switch method {
	case config.AggregationWeightedMajority:
		return aggregateMajority(voting), nil
	case config.AggregationWeightedAverage:
		return aggregateAverage(voting), nil
	default:
		majority := aggregateMajority(voting)
		average := aggregateAverage(voting)
		direction := average.Direction
		if majority.ConsensusStrength > 0.6 {
			direction = majority.Direction
		}
		return Aggregated{
			Direction:         direction,
			Confidence:        (majority.Confidence + average.Confidence) / 2,
			ConsensusStrength: (majority.ConsensusStrength + average.ConsensusStrength) / 2,
			Reasoning:         summarizeReasoning(voting, direction),
		}, nil
	}
}

// aggregateMajority takes the direction with the largest weight share.
// Consensus is the winning share; confidence averages the winners.
func aggregateMajority(assessments []Assessment) Aggregated {
	weightByDirection := make(map[models.SignalDirection]float64)
	total := 0.0
	for _, a := range assessments {
		weightByDirection[a.Direction] += a.EffectiveWeight
		total += a.EffectiveWeight
	}

	winner := models.SignalNeutral
	winnerWeight := -1.0
	for _, d := range []models.SignalDirection{models.SignalBullish, models.SignalBearish, models.SignalNeutral} {
		if w, ok := weightByDirection[d]; ok && w > winnerWeight {
			winner = d
			winnerWeight = w
		}
	}

	confSum, confN := 0.0, 0
	for _, a := range assessments {
		if a.Direction == winner {
			confSum += a.Confidence
			confN++
		}
	}
	confidence := 0.0
	if confN > 0 {
		confidence = confSum / float64(confN)
	}
	consensus := 0.0
	if total > 0 {
		consensus = winnerWeight / total
	}
	return Aggregated{
		Direction:         winner,
		Confidence:        confidence,
		ConsensusStrength: consensus,
		Reasoning:         summarizeReasoning(assessments, winner),
	}
}

// aggregateAverage maps directions to ±1/0, averages weight×confidence
// contributions, and buckets the result at ±0.15. Consensus reflects the
// spread of individual contributions around the mean.
func aggregateAverage(assessments []Assessment) Aggregated {
	totalWeight := 0.0
	weightedSum := 0.0
	confSum := 0.0
	for _, a := range assessments {
		totalWeight += a.EffectiveWeight
		weightedSum += directionValue(a.Direction) * a.EffectiveWeight * a.Confidence
		confSum += a.Confidence * a.EffectiveWeight
	}
	if totalWeight == 0 {
		return Aggregated{Direction: models.SignalNeutral, Confidence: 0.5}
	}

	value := weightedSum / totalWeight
	direction := models.SignalNeutral
	switch {
	case value > 0.15:
		direction = models.SignalBullish
	case value < -0.15:
		direction = models.SignalBearish
	}

	variance := 0.0
	for _, a := range assessments {
		contribution := directionValue(a.Direction) * a.Confidence
		variance += a.EffectiveWeight * (contribution - value) * (contribution - value)
	}
	variance /= totalWeight

	return Aggregated{
		Direction:         direction,
		Confidence:        confSum / totalWeight,
		ConsensusStrength: math.Max(0, 1-math.Sqrt(variance)),
		Reasoning:         summarizeReasoning(assessments, direction),
	}
}

// summarizeReasoning concatenates the reasoning of analysts agreeing with the
// aggregate direction, one line per analyst.
func summarizeReasoning(assessments []Assessment, direction models.SignalDirection) string {
	var lines []string
	for _, a := range assessments {
		if a.Direction == direction && a.Reasoning != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", a.Analyst, a.Reasoning))
		}
	}
	if len(lines) == 0 {
		return fmt.Sprintf("ensemble settled on %s without a supporting majority narrative", direction)
	}
	return strings.Join(lines, "\n")
}

// computeAgreement returns the fraction of analysts present in both results
// whose normalized directions match.
func computeAgreement(a, b *Result) float64 {
	if a == nil || b == nil {
		return 0
	}
	byAnalyst := make(map[string]models.SignalDirection, len(a.Assessments))
	for _, as := range a.Assessments {
		byAnalyst[as.Analyst] = models.NormalizeDirection(string(as.Direction))
	}
	shared, matched := 0, 0
	for _, bs := range b.Assessments {
		dir, ok := byAnalyst[bs.Analyst]
		if !ok {
			continue
		}
		shared++
		if dir == models.NormalizeDirection(string(bs.Direction)) {
			matched++
		}
	}
	if shared == 0 {
		return 0
	}
	return float64(matched) / float64(shared)
}
