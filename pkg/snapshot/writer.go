// Package snapshot assembles and persists the write-once audit record that
// accompanies every prediction.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/ensemble"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/pool"
	"github.com/foresight-labs/foresight/pkg/store"
)

// Writer builds PredictionSnapshot rows. The repository enforces write-once
// per prediction.
type Writer struct {
	snapshots store.SnapshotRepository
	now       func() time.Time
}

// NewWriter creates the snapshot writer.
func NewWriter(snapshots store.SnapshotRepository) *Writer {
	if snapshots == nil {
		panic("NewWriter: snapshots must not be nil")
	}
	return &Writer{snapshots: snapshots, now: time.Now}
}

// Capture assembles and persists the audit record for a freshly generated
// prediction. forkResult may be nil when generation skipped the ensemble.
func (w *Writer) Capture(
	ctx context.Context,
	prediction *models.Prediction,
	predictors []*models.Predictor,
	forkResult *ensemble.ThreeWayResult,
	eval *pool.Evaluation,
	timeline []models.TimelineEvent,
) (*models.PredictionSnapshot, error) {
	snap := &models.PredictionSnapshot{
		ID:           uuid.New().String(),
		PredictionID: prediction.ID,
		Predictors:   capturePredictors(predictors),
		Timeline:     timeline,
		CreatedAt:    w.now().UTC(),
	}

	if eval != nil {
		snap.ThresholdEvaluation = models.ThresholdEvaluationRecord{
			MinPredictors:         eval.Config.MinPredictors,
			MinCombinedStrength:   eval.Config.MinCombinedStrength,
			MinDirectionConsensus: eval.Config.MinDirectionConsensus,
			TimeDecayRate:         eval.Config.TimeDecayRate,
			ActiveCount:           eval.ActiveCount,
			CombinedStrength:      eval.CombinedStrength,
			DominantDirection:     eval.DominantDirection,
			DirectionConsensus:    eval.DirectionConsensus,
			AvgConfidence:         eval.AvgConfidence,
			Passed:                eval.Met,
		}
	}

	if forkResult != nil {
		assessments, learnings := flattenForkResult(forkResult)
		snap.AnalystAssessments = assessments
		snap.LearningsApplied = learnings
		snap.LLMEnsemble = buildLLMEnsemble(forkResult)
	}
	if snap.LLMEnsemble == nil {
		snap.LLMEnsemble = prediction.LLMEnsemble
	}

	if err := w.snapshots.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to write prediction snapshot: %w", err)
	}
	return snap, nil
}

func capturePredictors(predictors []*models.Predictor) []models.SnapshotPredictor {
	out := make([]models.SnapshotPredictor, 0, len(predictors))
	for _, p := range predictors {
		out = append(out, models.SnapshotPredictor{
			ID:          p.ID,
			Content:     p.Reasoning,
			Direction:   p.Direction,
			Strength:    p.Strength,
			Confidence:  p.Confidence,
			AnalystSlug: p.AnalystSlug,
			CreatedAt:   p.CreatedAt,
		})
	}
	return out
}

// flattenForkResult turns every fork's assessments into generic snapshot rows
// and collects the distinct learning IDs applied across them.
func flattenForkResult(result *ensemble.ThreeWayResult) ([]map[string]any, []string) {
	var assessments []map[string]any
	learningSet := make(map[string]bool)

	for _, fork := range models.AllForkTypes {
		forkResult := result.ForkResult(fork)
		if forkResult == nil {
			continue
		}
		for _, a := range forkResult.Assessments {
			row, err := toMap(a)
			if err != nil {
				continue
			}
			assessments = append(assessments, row)
			for _, id := range a.LearningsApplied {
				learningSet[id] = true
			}
		}
	}

	learnings := make([]string, 0, len(learningSet))
	for id := range learningSet {
		learnings = append(learnings, id)
	}
	return assessments, learnings
}

// buildLLMEnsemble summarizes tier usage across the fork runs. The agreement
// level is the mean of the cross-fork agreement fractions.
func buildLLMEnsemble(result *ensemble.ThreeWayResult) *models.LLMEnsemble {
	le := &models.LLMEnsemble{TierResults: make(map[string]models.LLMTierResult)}
	seen := make(map[string]bool)

	for _, fork := range models.AllForkTypes {
		forkResult := result.ForkResult(fork)
		if forkResult == nil {
			continue
		}
		for _, a := range forkResult.Assessments {
			if !seen[a.Tier] {
				seen[a.Tier] = true
				le.TiersUsed = append(le.TiersUsed, a.Tier)
			}
			// Keep the first result per tier as representative.
			if _, ok := le.TierResults[a.Tier]; !ok {
				le.TierResults[a.Tier] = models.LLMTierResult{
					Direction:  a.Direction,
					Confidence: a.Confidence,
					Model:      a.Model,
					Provider:   a.Provider,
				}
			}
		}
	}

	agreement := result.Agreement
	le.AgreementLevel = (agreement.UserVsAI + agreement.ArbitratorAgreesUser + agreement.ArbitratorAgreesAI) / 3
	return le
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
