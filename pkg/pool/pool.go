// Package pool manages the Tier-2 predictor pool: the per-target active set,
// threshold evaluation with time-decay weighting, and consumption when a
// prediction is generated.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/events"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// Evaluation is the result of one threshold pass over a target's active set.
type Evaluation struct {
	TargetID           string                 `json:"target_id"`
	Met                bool                   `json:"met"`
	ActiveCount        int                    `json:"active_count"`
	CombinedStrength   int                    `json:"combined_strength"`
	DominantDirection  models.SignalDirection `json:"dominant_direction"`
	DirectionConsensus float64                `json:"direction_consensus"`
	AvgConfidence      float64                `json:"avg_confidence"`
	Config             config.ThresholdConfig `json:"config"`
	EvaluatedAt        time.Time              `json:"evaluated_at"`
	Predictors         []*models.Predictor    `json:"-"`
}

// Stats summarizes a target's pool without the threshold verdict.
type Stats struct {
	TargetID          string                         `json:"target_id"`
	ActiveCount       int                            `json:"active_count"`
	CombinedStrength  int                            `json:"combined_strength"`
	ByDirection       map[models.SignalDirection]int `json:"by_direction"`
	AvgConfidence     float64                        `json:"avg_confidence"`
	OldestCreatedAt   time.Time                      `json:"oldest_created_at,omitempty"`
	NearestExpiry     time.Time                      `json:"nearest_expiry,omitempty"`
	ExpiredOnThisScan int                            `json:"expired_on_this_scan"`
}

// Pool is the predictor pool service. All reads sweep expired rows first so
// callers never see a stale active set.
type Pool struct {
	predictors store.PredictorRepository
	publisher  *events.Publisher
	defaults   config.ThresholdConfig
	now        func() time.Time

	// locks serializes evaluate→consume→create sequences per target.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPool creates the pool service. publisher may be nil when event emission
// is not wanted (tests).
func NewPool(predictors store.PredictorRepository, publisher *events.Publisher, defaults *config.ThresholdConfig) *Pool {
	if predictors == nil {
		panic("NewPool: predictors must not be nil")
	}
	if defaults == nil {
		defaults = config.DefaultThresholdConfig()
	}
	return &Pool{
		predictors: predictors,
		publisher:  publisher,
		defaults:   *defaults,
		now:        time.Now,
	}
}

// LockTarget acquires the per-target mutex, serializing threshold evaluation
// against concurrent generation for the same target. The returned func
// releases it.
func (p *Pool) LockTarget(targetID string) func() {
	p.mu.Lock()
	l, ok := p.locks[targetID]
	if !ok {
		if p.locks == nil {
			p.locks = make(map[string]*sync.Mutex)
		}
		l = &sync.Mutex{}
		p.locks[targetID] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// GetActivePredictors sweeps expired rows and returns the remaining active
// set for a target.
func (p *Pool) GetActivePredictors(ctx context.Context, targetID string) ([]*models.Predictor, error) {
	if _, err := p.sweep(ctx, targetID); err != nil {
		return nil, err
	}
	return p.predictors.FindActiveByTarget(ctx, targetID)
}

// EvaluateThreshold sweeps, scores the active set with time-decay weighting,
// and emits predictor.ready when the threshold is met. cfg may be nil to use
// the pool defaults.
func (p *Pool) EvaluateThreshold(ctx context.Context, targetID string, cfg *config.ThresholdConfig) (*Evaluation, error) {
	active, err := p.GetActivePredictors(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active predictors: %w", err)
	}

	eval := p.score(targetID, active, cfg)
	if eval.Met && p.publisher != nil {
		p.publisher.PublishPredictorReady(ctx, events.PredictorReadyPayload{
			TargetID:           targetID,
			ActiveCount:        eval.ActiveCount,
			CombinedStrength:   eval.CombinedStrength,
			DominantDirection:  string(eval.DominantDirection),
			DirectionConsensus: eval.DirectionConsensus,
		})
	}
	return eval, nil
}

// WouldMeetThreshold evaluates the hypothetical pool with one extra predictor
// of the given strength and direction, without persisting anything.
func (p *Pool) WouldMeetThreshold(ctx context.Context, targetID string, newStrength int, newDirection models.SignalDirection, cfg *config.ThresholdConfig) (bool, error) {
	active, err := p.GetActivePredictors(ctx, targetID)
	if err != nil {
		return false, err
	}
	hypothetical := append(append([]*models.Predictor{}, active...), &models.Predictor{
		TargetID:  targetID,
		Direction: newDirection,
		Strength:  newStrength,
		Status:    models.PredictorActive,
		CreatedAt: p.now(),
	})
	eval := p.score(targetID, hypothetical, cfg)
	return eval.Met, nil
}

// ConsumePredictors marks the given predictors consumed by a prediction.
// Idempotent per predictor; rows already consumed elsewhere are skipped by
// the repository.
func (p *Pool) ConsumePredictors(ctx context.Context, predictors []*models.Predictor, predictionID string) error {
	for _, predictor := range predictors {
		if err := p.predictors.ConsumePredictor(ctx, predictor.ID, predictionID); err != nil {
			return fmt.Errorf("failed to consume predictor %s: %w", predictor.ID, err)
		}
	}
	return nil
}

// GetPredictorStats returns a summary of the target's active pool.
func (p *Pool) GetPredictorStats(ctx context.Context, targetID string) (*Stats, error) {
	expired, err := p.sweep(ctx, targetID)
	if err != nil {
		return nil, err
	}
	active, err := p.predictors.FindActiveByTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TargetID:          targetID,
		ActiveCount:       len(active),
		ByDirection:       make(map[models.SignalDirection]int),
		ExpiredOnThisScan: expired,
	}
	confSum := 0.0
	for _, pr := range active {
		stats.CombinedStrength += pr.Strength
		stats.ByDirection[pr.Direction]++
		confSum += pr.Confidence
		if stats.OldestCreatedAt.IsZero() || pr.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = pr.CreatedAt
		}
		if stats.NearestExpiry.IsZero() || pr.ExpiresAt.Before(stats.NearestExpiry) {
			stats.NearestExpiry = pr.ExpiresAt
		}
	}
	if len(active) > 0 {
		stats.AvgConfidence = confSum / float64(len(active))
	}
	return stats, nil
}

func (p *Pool) sweep(ctx context.Context, targetID string) (int, error) {
	expired, err := p.predictors.ExpireOldPredictors(ctx, targetID, p.now())
	if err != nil {
		return 0, fmt.Errorf("expiration sweep failed: %w", err)
	}
	if expired > 0 {
		slog.Debug("Expired predictors", "target_id", targetID, "count", expired)
	}
	return expired, nil
}

// score computes the threshold verdict for an active set. Pure given now().
func (p *Pool) score(targetID string, active []*models.Predictor, cfg *config.ThresholdConfig) *Evaluation {
	effective := p.defaults
	if cfg != nil {
		effective = *cfg
	}
	now := p.now()

	eval := &Evaluation{
		TargetID:          targetID,
		ActiveCount:       len(active),
		DominantDirection: models.SignalNeutral,
		Config:            effective,
		EvaluatedAt:       now.UTC(),
		Predictors:        active,
	}
	if len(active) == 0 {
		return eval
	}

	// decay_rate 0 degenerates to uniform weighting.
	weightByDirection := make(map[models.SignalDirection]float64)
	totalWeight := 0.0
	confSum := 0.0
	for _, pr := range active {
		w := math.Exp(-effective.TimeDecayRate * pr.AgeHours(now))
		weightByDirection[pr.Direction] += w
		totalWeight += w
		eval.CombinedStrength += pr.Strength
		confSum += pr.Confidence
	}
	eval.AvgConfidence = confSum / float64(len(active))

	dominantWeight := -1.0
	for _, d := range []models.SignalDirection{models.SignalBullish, models.SignalBearish, models.SignalNeutral} {
		if w, ok := weightByDirection[d]; ok && w > dominantWeight {
			eval.DominantDirection = d
			dominantWeight = w
		}
	}
	if totalWeight > 0 {
		eval.DirectionConsensus = dominantWeight / totalWeight
	}

	eval.Met = eval.ActiveCount >= effective.MinPredictors &&
		eval.CombinedStrength >= effective.MinCombinedStrength &&
		eval.DirectionConsensus >= effective.MinDirectionConsensus
	return eval
}
