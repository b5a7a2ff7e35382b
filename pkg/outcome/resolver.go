// Package outcome owns the prediction lifecycle transitions the generator
// does not: resolving active predictions against observed price moves and
// expiring predictions whose horizon passed. It also feeds the analyst
// feedback loop, writing learnings for misses and moving analysts between
// performance statuses based on their resolution streaks.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// flatBandPct is the absolute move (in percent) below which an observation
// counts as flat.
const flatBandPct = 0.5

// Consecutive-miss thresholds for performance demotion.
const (
	probationMisses  = 3
	suspensionMisses = 5
)

// ErrNotResolvable is returned when outcome capture targets a prediction
// that is not active.
var ErrNotResolvable = errors.New("prediction is not active")

// ErrInvalidObservation is returned for observations without usable prices.
var ErrInvalidObservation = errors.New("observation prices must be positive")

// Observation is a price pair bracketing a prediction's window.
type Observation struct {
	PriceAtEntry float64
	PriceAtExit  float64
	// ObservedAt defaults to the current time when zero.
	ObservedAt time.Time
}

// Resolver captures outcomes and sweeps expired predictions.
type Resolver struct {
	db  *store.Store
	now func() time.Time

	mu sync.Mutex
	// misses tracks consecutive incorrect resolutions per analyst slug since
	// process start. Status transitions derived from it survive restarts via
	// the analyst row; the streak itself does not.
	misses map[string]int
}

// NewResolver wires the outcome resolver.
func NewResolver(db *store.Store) *Resolver {
	if db == nil {
		panic("NewResolver: store must not be nil")
	}
	return &Resolver{
		db:     db,
		now:    time.Now,
		misses: make(map[string]int),
	}
}

// CaptureOutcome resolves an active prediction against an observed price
// pair: records the actual move, transitions the row to resolved, writes a
// learning on a miss, and updates the owning analyst's performance status.
func (r *Resolver) CaptureOutcome(ctx context.Context, predictionID string, obs Observation) (*models.Prediction, error) {
	if obs.PriceAtEntry <= 0 || obs.PriceAtExit <= 0 {
		return nil, ErrInvalidObservation
	}

	prediction, err := r.db.Predictions.FindByID(ctx, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prediction %s: %w", predictionID, err)
	}
	if prediction.Status != models.PredictionActive {
		return nil, fmt.Errorf("%w: status is %s", ErrNotResolvable, prediction.Status)
	}

	resolvedAt := obs.ObservedAt
	if resolvedAt.IsZero() {
		resolvedAt = r.now()
	}
	resolvedAt = resolvedAt.UTC()

	movePct := (obs.PriceAtExit - obs.PriceAtEntry) / obs.PriceAtEntry * 100
	actual := directionFromMove(movePct)
	correct := actual == prediction.Direction

	prediction.Outcome = &models.PredictionOutcome{
		ActualDirection: actual,
		ActualMovePct:   movePct,
		Correct:         correct,
		PriceAtEntry:    obs.PriceAtEntry,
		PriceAtExit:     obs.PriceAtExit,
		ResolvedAt:      resolvedAt,
	}
	prediction.Status = models.PredictionResolved
	prediction.UpdatedAt = resolvedAt

	if err := r.db.Predictions.Update(ctx, prediction); err != nil {
		return nil, fmt.Errorf("failed to resolve prediction %s: %w", predictionID, err)
	}

	slog.Info("Prediction resolved",
		"prediction_id", prediction.ID,
		"target_id", prediction.TargetID,
		"predicted", prediction.Direction,
		"actual", actual,
		"move_pct", movePct,
		"correct", correct)

	if prediction.AnalystSlug != models.ArbitratorSlug {
		if !correct {
			r.writeMissLearning(ctx, prediction, movePct, resolvedAt)
		}
		r.adjustPerformance(ctx, prediction.AnalystSlug, correct)
	}
	return prediction, nil
}

// directionFromMove buckets an observed percent move onto the prediction
// enum, treating moves inside the flat band as flat.
func directionFromMove(movePct float64) models.PredictionDirection {
	switch {
	case movePct >= flatBandPct:
		return models.PredictionUp
	case movePct <= -flatBandPct:
		return models.PredictionDown
	default:
		return models.PredictionFlat
	}
}

// writeMissLearning stores a target-scoped learning for the analyst so the
// next user/arbitrator fork prompt carries the correction.
func (r *Resolver) writeMissLearning(ctx context.Context, prediction *models.Prediction, movePct float64, resolvedAt time.Time) {
	learning := &models.Learning{
		ID:          uuid.New().String(),
		AnalystSlug: prediction.AnalystSlug,
		TargetID:    prediction.TargetID,
		Content: fmt.Sprintf("Predicted %s with confidence %.2f over %dh, but the price moved %.2f%%. Revisit the signals that drove this call.",
			prediction.Direction, prediction.Confidence, prediction.TimeframeHours, movePct),
		CreatedAt: resolvedAt,
	}
	if err := r.db.Learnings.Create(ctx, learning); err != nil {
		slog.Error("Failed to write learning",
			"analyst", prediction.AnalystSlug, "prediction_id", prediction.ID, "error", err)
	}
}

// adjustPerformance moves the analyst between active, probation and
// suspended based on consecutive misses. A correct resolution promotes one
// step and resets the streak.
func (r *Resolver) adjustPerformance(ctx context.Context, slug string, correct bool) {
	r.mu.Lock()
	if correct {
		r.misses[slug] = 0
	} else {
		r.misses[slug]++
	}
	streak := r.misses[slug]
	r.mu.Unlock()

	analyst, err := r.db.Analysts.FindBySlug(ctx, slug)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to load analyst for performance update", "analyst", slug, "error", err)
		}
		return
	}

	next := analyst.PerformanceStatus
	if correct {
		switch analyst.PerformanceStatus {
		case models.PerformanceSuspended:
			next = models.PerformanceProbation
		case models.PerformanceProbation:
			next = models.PerformanceActive
		}
	} else {
		switch {
		case streak >= suspensionMisses:
			next = models.PerformanceSuspended
		case streak >= probationMisses:
			next = models.PerformanceProbation
		}
	}
	if next == analyst.PerformanceStatus {
		return
	}

	prior := analyst.PerformanceStatus
	analyst.PerformanceStatus = next
	if err := r.db.Analysts.Update(ctx, analyst); err != nil {
		slog.Error("Failed to update analyst performance status", "analyst", slug, "error", err)
		return
	}
	slog.Info("Analyst performance status changed",
		"analyst", slug, "from", prior, "to", next, "miss_streak", streak)
}

// ExpireDuePredictions transitions active predictions past their horizon to
// expired. Idempotent; returns the number of rows transitioned.
func (r *Resolver) ExpireDuePredictions(ctx context.Context) (int, error) {
	due, err := r.db.Predictions.FindActiveExpiring(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring predictions: %w", err)
	}

	expired := 0
	var errs []error
	for _, p := range due {
		if err := r.db.Predictions.UpdateStatus(ctx, p.ID, models.PredictionExpired); err != nil {
			errs = append(errs, fmt.Errorf("prediction %s: %w", p.ID, err))
			continue
		}
		expired++
	}
	if expired > 0 {
		slog.Info("Expired predictions past horizon", "count", expired)
	}
	return expired, errors.Join(errs...)
}
