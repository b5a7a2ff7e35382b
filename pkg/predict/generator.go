// Package predict is the Tier-3 prediction generator: threshold-gated
// three-way fork ensemble runs, per-analyst and arbitrator prediction rows,
// predictor consumption, audit snapshots, position requests, and in-place
// refresh of live predictions.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/analyst"
	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/ensemble"
	"github.com/foresight-labs/foresight/pkg/events"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/pool"
	"github.com/foresight-labs/foresight/pkg/snapshot"
	"github.com/foresight-labs/foresight/pkg/store"
)

const defaultTimeframeHours = 24

// refreshConfidenceShift is the confidence delta that alone justifies an
// in-place refresh.
const refreshConfidenceShift = 0.15

// Deps bundles the generator's collaborators. Positions, Portfolio and
// Prices are optional; Prices defaults to the snapshot-backed source.
type Deps struct {
	Store     *store.Store
	Engine    *ensemble.Engine
	Pool      *pool.Pool
	Registry  *analyst.Registry
	Snapshots *snapshot.Writer
	Publisher *events.Publisher
	Positions PositionSink
	Portfolio PortfolioProvider
	Prices    PriceSource
}

// Generator drives Tier-3 prediction generation for targets.
type Generator struct {
	deps        Deps
	ensembleCfg config.EnsembleConfig
	// userContext identifies who the run acts for; SystemUser gets
	// zero-quantity positions.
	userContext string
	now         func() time.Time
}

// NewGenerator wires the generator.
func NewGenerator(deps Deps, ensembleCfg config.EnsembleConfig, userContext string) *Generator {
	if deps.Store == nil {
		panic("NewGenerator: store must not be nil")
	}
	if deps.Engine == nil {
		panic("NewGenerator: engine must not be nil")
	}
	if deps.Pool == nil {
		panic("NewGenerator: pool must not be nil")
	}
	if deps.Registry == nil {
		panic("NewGenerator: registry must not be nil")
	}
	if deps.Snapshots == nil {
		panic("NewGenerator: snapshots must not be nil")
	}
	if deps.Prices == nil {
		deps.Prices = NewSnapshotPriceSource(deps.Store.TargetSnapshots)
	}
	if userContext == "" {
		userContext = SystemUser
	}
	return &Generator{
		deps:        deps,
		ensembleCfg: ensembleCfg,
		userContext: userContext,
		now:         time.Now,
	}
}

// AttemptPredictionGeneration evaluates the target's predictor pool and
// either refreshes the existing live prediction, generates a fresh set, or
// does nothing. Returns nil without error when the threshold is unmet. The
// evaluate→consume→create sequence is single-flight per target.
func (g *Generator) AttemptPredictionGeneration(ctx context.Context, targetID string, cfg *config.ThresholdConfig) (*models.Prediction, error) {
	unlock := g.deps.Pool.LockTarget(targetID)
	defer unlock()

	target, err := g.deps.Store.Targets.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target %s: %w", targetID, err)
	}

	existing, err := g.findCanonicalActive(ctx, target)
	if err != nil {
		return nil, err
	}

	eval, err := g.deps.Pool.EvaluateThreshold(ctx, targetID, cfg)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if !eval.Met {
			return existing, nil
		}
		if !shouldRefresh(existing, eval) {
			return existing, nil
		}
		return g.refresh(ctx, target, existing, eval)
	}

	if !eval.Met {
		return nil, nil
	}
	return g.generate(ctx, target, eval)
}

// findCanonicalActive returns the live prediction the generator keys on: the
// arbitrator row when the arbitrator feature is on, any active row otherwise.
func (g *Generator) findCanonicalActive(ctx context.Context, target *models.Target) (*models.Prediction, error) {
	active, err := g.deps.Store.Predictions.FindByTarget(ctx, target.ID, models.PredictionActive, store.PredictionFindOptions{
		TestDataOnly: target.IsTest(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load active predictions: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	if !g.arbitratorEnabled() {
		return active[0], nil
	}
	for _, p := range active {
		if p.IsArbitrator {
			return p, nil
		}
	}
	return nil, nil
}

func (g *Generator) arbitratorEnabled() bool {
	if !g.ensembleCfg.EnableDualFork {
		return false
	}
	if len(g.ensembleCfg.ForkTypes) == 0 {
		return true
	}
	for _, f := range g.ensembleCfg.ForkTypes {
		if models.ForkType(f) == models.ForkArbitrator {
			return true
		}
	}
	return false
}

// shouldRefresh decides whether a live prediction must be updated in place:
// the pool's dominant direction flipped, or the confidence estimate moved
// more than the shift threshold.
func shouldRefresh(existing *models.Prediction, eval *pool.Evaluation) bool {
	if eval.DominantDirection.ToPredictionDirection() != existing.Direction {
		return true
	}
	estimated := 0.6*eval.DirectionConsensus + 0.4*eval.AvgConfidence
	return math.Abs(existing.Confidence-estimated) > refreshConfidenceShift
}

// --- fresh generation ---

func (g *Generator) generate(ctx context.Context, target *models.Target, eval *pool.Evaluation) (*models.Prediction, error) {
	now := g.now().UTC()
	input := ensemble.Input{
		TargetID:  target.ID,
		Content:   g.buildEnsembleContext(ctx, target, eval),
		Direction: eval.DominantDirection,
	}

	forkResult, err := g.deps.Engine.RunThreeWayFork(ctx, target, input, "tier3_prediction")
	if err != nil {
		return nil, fmt.Errorf("tier3 ensemble failed: %w", err)
	}

	remaining := flatOnlyFilter(forkResult)
	if len(remaining) == 0 {
		slog.Info("Every analyst is flat on both user and ai forks, skipping generation",
			"target_id", target.ID)
		return nil, nil
	}

	timeframe := timeframeFromPredictors(eval.Predictors, now)
	expiresAt := now.Add(time.Duration(timeframe) * time.Hour)
	refs := g.contextRefs(ctx, target, remaining)

	var created []*models.Prediction

	if g.arbitratorEnabled() {
		arb := g.buildArbitratorPrediction(target, eval, forkResult, remaining, timeframe, expiresAt, now, refs)
		if err := g.deps.Store.Predictions.Create(ctx, arb); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// A concurrent run won the race; defer to its row.
				return g.findCanonicalActive(ctx, target)
			}
			return nil, fmt.Errorf("failed to create arbitrator prediction: %w", err)
		}
		created = append(created, arb)
	}

	for _, slug := range remaining {
		row := g.buildAnalystPrediction(target, slug, eval, forkResult, timeframe, expiresAt, now, refs)
		if row == nil {
			continue
		}
		if err := g.deps.Store.Predictions.Create(ctx, row); err != nil {
			if errors.Is(err, store.ErrConflict) {
				slog.Debug("Active prediction already exists for analyst, skipping",
					"target_id", target.ID, "analyst", slug)
				continue
			}
			return nil, fmt.Errorf("failed to create prediction for %s: %w", slug, err)
		}
		created = append(created, row)
	}

	if len(created) == 0 {
		return nil, nil
	}
	primary := created[0]

	if err := g.deps.Pool.ConsumePredictors(ctx, eval.Predictors, primary.ID); err != nil {
		return nil, err
	}

	timeline := []models.TimelineEvent{
		{Timestamp: eval.EvaluatedAt, EventType: "threshold_met", Details: map[string]any{
			"combined_strength":   eval.CombinedStrength,
			"direction_consensus": eval.DirectionConsensus,
		}},
		{Timestamp: now, EventType: "ensemble_completed", Details: map[string]any{
			"analysts": len(remaining),
		}},
		{Timestamp: g.now().UTC(), EventType: "prediction_created", Details: map[string]any{
			"prediction_id": primary.ID,
			"rows":          len(created),
		}},
	}
	if _, err := g.deps.Snapshots.Capture(ctx, primary, eval.Predictors, forkResult, eval, timeline); err != nil {
		// The prediction rows are committed; a failed audit write must not
		// unwind them.
		slog.Error("Failed to write prediction snapshot",
			"prediction_id", primary.ID, "error", err)
	}

	g.createPositions(ctx, target, primary, forkResult, remaining)

	if g.deps.Publisher != nil {
		g.deps.Publisher.PublishPredictionCreated(ctx, events.PredictionCreatedPayload{
			TargetID:     target.ID,
			PredictionID: primary.ID,
			Direction:    string(primary.Direction),
			Magnitude:    string(primary.Magnitude),
			Confidence:   primary.Confidence,
			AnalystCount: len(remaining),
		})
	}
	return primary, nil
}

// flatOnlyFilter drops analysts whose user AND ai fork views are both
// neutral. Returns the surviving slugs sorted.
func flatOnlyFilter(result *ensemble.ThreeWayResult) []string {
	slugs := make(map[string]bool)
	for _, fork := range models.AllForkTypes {
		if fr := result.ForkResult(fork); fr != nil {
			for _, a := range fr.Assessments {
				if !a.IsPaperOnly {
					slugs[a.Analyst] = true
				}
			}
		}
	}

	flatOn := func(fork models.ForkType, slug string) bool {
		fr := result.ForkResult(fork)
		if fr == nil {
			return true
		}
		a := fr.AssessmentFor(slug)
		if a == nil {
			return true
		}
		return models.NormalizeDirection(string(a.Direction)) == models.SignalNeutral
	}

	var out []string
	for slug := range slugs {
		if flatOn(models.ForkUser, slug) && flatOn(models.ForkAI, slug) {
			continue
		}
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// timeframeFromPredictors derives the prediction horizon from the soonest
// predictor expiry, with a floor of one hour and a default of 24.
func timeframeFromPredictors(predictors []*models.Predictor, now time.Time) int {
	var minRemaining time.Duration
	found := false
	for _, p := range predictors {
		remaining := p.ExpiresAt.Sub(now)
		if !found || remaining < minRemaining {
			minRemaining = remaining
			found = true
		}
	}
	if !found {
		return defaultTimeframeHours
	}
	hours := int(math.Round(minRemaining.Hours()))
	if hours < 1 {
		return 1
	}
	return hours
}

// primaryAssessment picks an analyst's leading view: arbitrator fork first,
// then user, then ai.
func primaryAssessment(result *ensemble.ThreeWayResult, slug string) *ensemble.Assessment {
	for _, fork := range []models.ForkType{models.ForkArbitrator, models.ForkUser, models.ForkAI} {
		if a := result.ForkResult(fork).AssessmentFor(slug); a != nil {
			return a
		}
	}
	return nil
}

func (g *Generator) buildAnalystPrediction(target *models.Target, slug string, eval *pool.Evaluation, result *ensemble.ThreeWayResult, timeframe int, expiresAt, now time.Time, refs *models.ContextVersionRefs) *models.Prediction {
	assessment := primaryAssessment(result, slug)
	if assessment == nil {
		return nil
	}

	magnitudePct := assessment.Confidence * 5
	return &models.Prediction{
		ID:              uuid.New().String(),
		TargetID:        target.ID,
		Direction:       assessment.Direction.ToPredictionDirection(),
		Magnitude:       models.MagnitudeFromPercent(magnitudePct),
		Confidence:      assessment.Confidence,
		TimeframeHours:  timeframe,
		ExpiresAt:       expiresAt,
		PredictedAt:     now,
		UpdatedAt:       now,
		Reasoning:       assessment.Reasoning,
		AnalystEnsemble: g.buildAnalystEnsemble(eval, result, slug),
		Status:          models.PredictionActive,
		AnalystSlug:     slug,
		ContextVersions: refs,
		IsTest:          target.IsTest(),
	}
}

// buildArbitratorPrediction synthesizes the canonical row: dominant pool
// direction, confidence from the strongest agreeing analyst, reasoning
// composed from the per-analyst summary.
func (g *Generator) buildArbitratorPrediction(target *models.Target, eval *pool.Evaluation, result *ensemble.ThreeWayResult, remaining []string, timeframe int, expiresAt, now time.Time, refs *models.ContextVersionRefs) *models.Prediction {
	direction := eval.DominantDirection.ToPredictionDirection()

	confidence := 0.0
	var lines []string
	for _, slug := range remaining {
		a := primaryAssessment(result, slug)
		if a == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%.2f)", slug, a.Direction, a.Confidence))
		if a.Direction == eval.DominantDirection && a.Confidence > confidence {
			confidence = a.Confidence
		}
	}
	if confidence == 0 {
		if fr := result.ForkResult(models.ForkArbitrator); fr != nil {
			confidence = fr.Aggregated.Confidence
		} else if fr := result.ForkResult(models.ForkUser); fr != nil {
			confidence = fr.Aggregated.Confidence
		}
	}

	magnitudePct := confidence * 5
	return &models.Prediction{
		ID:              uuid.New().String(),
		TargetID:        target.ID,
		Direction:       direction,
		Magnitude:       models.MagnitudeFromPercent(magnitudePct),
		Confidence:      confidence,
		TimeframeHours:  timeframe,
		ExpiresAt:       expiresAt,
		PredictedAt:     now,
		UpdatedAt:       now,
		Reasoning:       "Consensus across analysts:\n" + strings.Join(lines, "\n"),
		AnalystEnsemble: g.buildAnalystEnsemble(eval, result, ""),
		Status:          models.PredictionActive,
		AnalystSlug:     models.ArbitratorSlug,
		IsArbitrator:    true,
		ContextVersions: refs,
		IsTest:          target.IsTest(),
	}
}

// buildAnalystEnsemble embeds the pool stats plus the per-fork breakdown.
// slug narrows the fork map to one analyst; empty keeps every analyst.
func (g *Generator) buildAnalystEnsemble(eval *pool.Evaluation, result *ensemble.ThreeWayResult, slug string) *models.AnalystEnsemble {
	ae := &models.AnalystEnsemble{
		PredictorCount:     eval.ActiveCount,
		CombinedStrength:   eval.CombinedStrength,
		DirectionConsensus: eval.DirectionConsensus,
		Forks:              make(map[string]map[string]models.ForkPosition),
	}
	for _, fork := range models.AllForkTypes {
		fr := result.ForkResult(fork)
		if fr == nil {
			continue
		}
		for _, a := range fr.Assessments {
			if slug != "" && a.Analyst != slug {
				continue
			}
			if ae.Forks[a.Analyst] == nil {
				ae.Forks[a.Analyst] = make(map[string]models.ForkPosition)
			}
			ae.Forks[a.Analyst][string(fork)] = models.ForkPosition{
				Direction:  a.Direction,
				Confidence: a.Confidence,
				Reasoning:  a.Reasoning,
			}
		}
	}
	return ae
}

// contextRefs captures the current user-fork context version per surviving
// analyst for traceability.
func (g *Generator) contextRefs(ctx context.Context, target *models.Target, slugs []string) *models.ContextVersionRefs {
	analysts, err := g.deps.Registry.GetActiveAnalysts(ctx, target.ID)
	if err != nil {
		slog.Warn("Failed to load analysts for context refs", "target_id", target.ID, "error", err)
		return nil
	}
	bySlug := make(map[string]*models.Analyst, len(analysts))
	for _, a := range analysts {
		bySlug[a.Slug] = a
	}

	refs := &models.ContextVersionRefs{AnalystVersionIDs: make(map[string]string)}
	for _, slug := range slugs {
		a, ok := bySlug[slug]
		if !ok {
			continue
		}
		version, err := g.deps.Registry.GetCurrentContextVersion(ctx, a.ID, models.ForkUser)
		if err != nil {
			continue
		}
		refs.AnalystVersionIDs[slug] = version.ID
	}
	if len(refs.AnalystVersionIDs) == 0 {
		return nil
	}
	return refs
}

// buildEnsembleContext assembles the Tier-3 prompt material: the active
// predictors, the threshold summary, and the latest market snapshot when one
// exists.
func (g *Generator) buildEnsembleContext(ctx context.Context, target *models.Target, eval *pool.Evaluation) string {
	var b strings.Builder

	b.WriteString("Active predictors:\n")
	for _, p := range eval.Predictors {
		fmt.Fprintf(&b, "- [%s] strength %d, confidence %.2f: %s\n",
			p.Direction, p.Strength, p.Confidence, p.Reasoning)
	}
	fmt.Fprintf(&b, "\nThreshold summary: %d active, combined strength %d, dominant %s, consensus %.3f, avg confidence %.3f\n",
		eval.ActiveCount, eval.CombinedStrength, eval.DominantDirection, eval.DirectionConsensus, eval.AvgConfidence)

	if snap, err := g.deps.Store.TargetSnapshots.Latest(ctx, target.ID); err == nil {
		fmt.Fprintf(&b, "\nMarket snapshot: open %.2f high %.2f low %.2f close %.2f volume %.0f change24h %.2f%% at %s\n",
			snap.Open, snap.High, snap.Low, snap.Close, snap.Volume, snap.Change24hPct, snap.PricedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// --- positions ---

// createPositions requests one position per non-flat (analyst × fork) view.
// Missing entry prices skip silently; sizing failures degrade to quantity 0.
func (g *Generator) createPositions(ctx context.Context, target *models.Target, primary *models.Prediction, result *ensemble.ThreeWayResult, remaining []string) {
	if g.deps.Positions == nil {
		return
	}

	requested, skipped := 0, 0
	for _, slug := range remaining {
		for _, fork := range models.AllForkTypes {
			a := result.ForkResult(fork).AssessmentFor(slug)
			if a == nil {
				continue
			}
			direction := a.Direction.ToPredictionDirection()
			if direction == models.PredictionFlat {
				continue
			}

			price, err := g.deps.Prices.LatestPrice(ctx, target)
			if err != nil {
				if !errors.Is(err, ErrPriceUnavailable) {
					slog.Warn("Price lookup failed", "target_id", target.ID, "error", err)
				}
				skipped++
				continue
			}

			quantity, reason := g.sizePosition(ctx, target, price, a.Confidence)
			req := PositionRequest{
				PredictionID:   primary.ID,
				TargetID:       target.ID,
				AnalystSlug:    slug,
				ForkType:       fork,
				Direction:      direction,
				Quantity:       quantity,
				EntryPrice:     price,
				QuantityReason: reason,
			}
			if err := g.deps.Positions.CreatePosition(ctx, req); err != nil {
				slog.Warn("Position request failed",
					"prediction_id", primary.ID, "analyst", slug, "fork", fork, "error", err)
				skipped++
				continue
			}
			requested++
		}
	}

	if g.deps.Publisher != nil {
		g.deps.Publisher.PublishPositionsCreated(ctx, events.PositionsCreatedPayload{
			TargetID:     target.ID,
			PredictionID: primary.ID,
			Requested:    requested,
			Skipped:      skipped,
		})
	}
}

func (g *Generator) sizePosition(ctx context.Context, target *models.Target, price, confidence float64) (float64, string) {
	if g.userContext == SystemUser {
		return 0, "system user runs do not take positions"
	}
	if g.deps.Portfolio == nil {
		return 0, "no portfolio configured"
	}
	portfolio, err := g.deps.Portfolio.Portfolio(ctx, target.UniverseID)
	if err != nil || portfolio == nil {
		return 0, "portfolio unavailable"
	}
	return recommendedQuantity(target, portfolio.Balance, price, confidence, confidence*5), ""
}

// --- refresh ---

// refresh updates a live prediction in place from a fresh ensemble run.
// Predictors are never consumed on refresh.
func (g *Generator) refresh(ctx context.Context, target *models.Target, existing *models.Prediction, eval *pool.Evaluation) (*models.Prediction, error) {
	now := g.now().UTC()
	input := ensemble.Input{
		TargetID:  target.ID,
		Content:   g.buildEnsembleContext(ctx, target, eval),
		Direction: eval.DominantDirection,
	}
	forkResult, err := g.deps.Engine.RunThreeWayFork(ctx, target, input, "tier3_refresh")
	if err != nil {
		return nil, fmt.Errorf("refresh ensemble failed: %w", err)
	}

	aggregated := refreshAggregate(forkResult)
	priorDirection := existing.Direction

	if existing.AnalystEnsemble == nil {
		existing.AnalystEnsemble = &models.AnalystEnsemble{}
	}
	existing.AnalystEnsemble.Versions = append(existing.AnalystEnsemble.Versions, models.PredictionVersion{
		Timestamp:      existing.UpdatedAt,
		Direction:      existing.Direction,
		Confidence:     existing.Confidence,
		Magnitude:      existing.Magnitude,
		PredictorCount: existing.AnalystEnsemble.PredictorCount,
	})

	existing.Direction = eval.DominantDirection.ToPredictionDirection()
	existing.Confidence = aggregated.Confidence
	existing.Magnitude = models.MagnitudeFromPercent(aggregated.Confidence * 5)
	existing.Reasoning = aggregated.Reasoning
	existing.UpdatedAt = now
	existing.AnalystEnsemble.PredictorCount = eval.ActiveCount
	existing.AnalystEnsemble.CombinedStrength = eval.CombinedStrength
	existing.AnalystEnsemble.DirectionConsensus = eval.DirectionConsensus
	existing.AnalystEnsemble.LastRefresh = &now

	if err := g.deps.Store.Predictions.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update prediction: %w", err)
	}

	if g.deps.Publisher != nil {
		g.deps.Publisher.PublishPredictionRefreshed(ctx, events.PredictionRefreshedPayload{
			TargetID:       target.ID,
			PredictionID:   existing.ID,
			Direction:      string(existing.Direction),
			Confidence:     existing.Confidence,
			VersionCount:   len(existing.AnalystEnsemble.Versions),
			PriorDirection: string(priorDirection),
		})
	}
	return existing, nil
}

// refreshAggregate picks the view driving a refresh: arbitrator fork first.
func refreshAggregate(result *ensemble.ThreeWayResult) ensemble.Aggregated {
	for _, fork := range []models.ForkType{models.ForkArbitrator, models.ForkUser, models.ForkAI} {
		if fr := result.ForkResult(fork); fr != nil {
			return fr.Aggregated
		}
	}
	return ensemble.Aggregated{Direction: models.SignalNeutral, Confidence: 0.5}
}
