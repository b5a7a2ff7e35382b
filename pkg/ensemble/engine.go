package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foresight-labs/foresight/pkg/analyst"
	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/llm"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

const (
	defaultMaxConcurrent = 5
	learningsPerPrompt   = 5
)

// Engine fans analyst × fork jobs out through the LLM gateway and aggregates
// the results.
type Engine struct {
	registry  *analyst.Registry
	gateway   *llm.Gateway
	learnings store.LearningRepository
	cfg       config.EnsembleConfig
}

// NewEngine wires the ensemble engine.
func NewEngine(registry *analyst.Registry, gateway *llm.Gateway, learnings store.LearningRepository, cfg config.EnsembleConfig) *Engine {
	if registry == nil {
		panic("NewEngine: registry must not be nil")
	}
	if gateway == nil {
		panic("NewEngine: gateway must not be nil")
	}
	if learnings == nil {
		panic("NewEngine: learnings must not be nil")
	}
	return &Engine{
		registry:  registry,
		gateway:   gateway,
		learnings: learnings,
		cfg:       cfg,
	}
}

// Run executes one fork's ensemble. Individual analyst failures are logged
// and skipped; the run fails only when every analyst fails.
func (e *Engine) Run(ctx context.Context, target *models.Target, input Input, fork models.ForkType, operation string) (*Result, error) {
	analysts, err := e.registry.GetActiveAnalysts(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	if len(analysts) == 0 {
		return nil, fmt.Errorf("no active analysts for target %s", target.ID)
	}

	type outcome struct {
		assessment *Assessment
		err        error
	}
	results := make([]outcome, len(analysts))

	maxConcurrent := e.cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	for i, a := range analysts {
		wg.Add(1)
		go func(i int, a *models.Analyst) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			assessment, err := e.runAnalyst(ctx, target, input, a, fork, operation)
			results[i] = outcome{assessment: assessment, err: err}
		}(i, a)
	}
	wg.Wait()

	var assessments []Assessment
	var failures []error
	for i, r := range results {
		if r.err != nil {
			slog.Warn("Analyst assessment failed, skipping",
				"analyst", analysts[i].Slug,
				"fork", fork,
				"target_id", target.ID,
				"error", r.err)
			failures = append(failures, fmt.Errorf("%s: %w", analysts[i].Slug, r.err))
			continue
		}
		assessments = append(assessments, *r.assessment)
	}
	if len(assessments) == 0 {
		return nil, fmt.Errorf("all analysts failed for target %s: %w", target.ID, errors.Join(failures...))
	}

	aggregated, err := Aggregate(e.cfg.AggregationMethod, assessments)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed for target %s: %w", target.ID, err)
	}
	return &Result{Assessments: assessments, Aggregated: aggregated}, nil
}

// RunThreeWayFork runs the configured forks (user, ai, arbitrator by
// default) and computes cross-fork agreement. A fork whose run fails entirely
// is omitted; the call fails only when no fork produced a result.
func (e *Engine) RunThreeWayFork(ctx context.Context, target *models.Target, input Input, operation string) (*ThreeWayResult, error) {
	forks := e.selectedForks()
	out := &ThreeWayResult{Forks: make(map[models.ForkType]*Result, len(forks))}

	var failures []error
	for _, fork := range forks {
		result, err := e.Run(ctx, target, input, fork, operation)
		if err != nil {
			slog.Warn("Ensemble fork failed",
				"fork", fork,
				"target_id", target.ID,
				"error", err)
			failures = append(failures, fmt.Errorf("fork %s: %w", fork, err))
			continue
		}
		out.Forks[fork] = result
	}
	if len(out.Forks) == 0 {
		return nil, fmt.Errorf("all ensemble forks failed for target %s: %w", target.ID, errors.Join(failures...))
	}

	out.Agreement = ForkAgreement{
		UserVsAI:             computeAgreement(out.Forks[models.ForkUser], out.Forks[models.ForkAI]),
		ArbitratorAgreesUser: computeAgreement(out.Forks[models.ForkArbitrator], out.Forks[models.ForkUser]),
		ArbitratorAgreesAI:   computeAgreement(out.Forks[models.ForkArbitrator], out.Forks[models.ForkAI]),
	}
	return out, nil
}

// selectedForks honors the configured fork list; dual-fork off means the
// user fork alone.
func (e *Engine) selectedForks() []models.ForkType {
	if !e.cfg.EnableDualFork {
		return []models.ForkType{models.ForkUser}
	}
	if len(e.cfg.ForkTypes) == 0 {
		return models.AllForkTypes
	}
	var forks []models.ForkType
	for _, raw := range e.cfg.ForkTypes {
		f := models.ForkType(raw)
		if f.IsValid() {
			forks = append(forks, f)
		}
	}
	if len(forks) == 0 {
		return models.AllForkTypes
	}
	return forks
}

func (e *Engine) runAnalyst(ctx context.Context, target *models.Target, input Input, a *models.Analyst, fork models.ForkType, operation string) (*Assessment, error) {
	version, err := e.registry.GetCurrentContextVersion(ctx, a.ID, fork)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Learnings feed the user and arbitrator forks only; the ai fork scores
	// from its own maintained context.
	var learnings []*models.Learning
	if fork != models.ForkAI {
		learnings, err = e.learnings.FindForPrompt(ctx, a.Slug, target.ID, learningsPerPrompt)
		if err != nil {
			slog.Warn("Failed to load learnings, continuing without",
				"analyst", a.Slug,
				"target_id", target.ID,
				"error", err)
			learnings = nil
		}
	}

	tier := llm.TierForAnalyst(a, e.cfg.TierPreference)
	systemPrompt := BuildSystemPrompt(a, version, tier, learnings)
	userPrompt := BuildUserPrompt(target, input)

	resp, err := e.gateway.Generate(ctx, llm.GenerateRequest{
		Tier:         tier,
		Target:       target,
		Analyst:      a,
		UniverseID:   target.UniverseID,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Operation:    operation,
		AnalystSlug:  a.Slug,
		ForkType:     fork,
	})
	if err != nil {
		return nil, err
	}

	direction, confidence, reasoning, keyFactors, risks := ParseAssessment(resp.Content)

	assessment := &Assessment{
		Analyst:         a.Slug,
		Tier:            string(tier),
		Direction:       direction,
		Confidence:      confidence,
		Reasoning:       reasoning,
		KeyFactors:      keyFactors,
		Risks:           risks,
		ForkType:        fork,
		EffectiveWeight: a.EffectiveWeight(fork),
		Provider:        resp.Provider,
		Model:           resp.Model,
	}
	if version != nil {
		assessment.ContextVersionID = version.ID
	}
	for _, l := range learnings {
		assessment.LearningsApplied = append(assessment.LearningsApplied, l.ID)
	}
	// Suspended analysts still run on ai/arbitrator forks so their track
	// record keeps accruing, but their votes are excluded from aggregation.
	if a.PerformanceStatus == models.PerformanceSuspended && fork != models.ForkUser {
		assessment.IsPaperOnly = true
	}
	return assessment, nil
}
