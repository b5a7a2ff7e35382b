// Package ingest is the Tier-1 signal ingestor: it pulls new articles per
// source subscription, filters and routes them to targets, scores them with a
// single-fork analyst ensemble, and deposits predictors into the Tier-2 pool.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/ensemble"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// EnsembleSlug marks rows produced by the aggregated ensemble rather than a
// single named analyst.
const EnsembleSlug = "ensemble"

// ProcessSummary reports one ingestion run.
type ProcessSummary struct {
	SubscriptionID    string   `json:"subscription_id"` // "all" for target-centric runs
	TargetID          string   `json:"target_id,omitempty"`
	ArticlesProcessed int      `json:"articles_processed"`
	PredictorsCreated int      `json:"predictors_created"`
	Errors            []string `json:"errors"`
	// TouchedTargets lists targets that received at least one predictor, for
	// downstream threshold evaluation.
	TouchedTargets []string `json:"touched_targets,omitempty"`
}

// Ingestor drives Tier-1 processing.
type Ingestor struct {
	db     *store.Store
	engine *ensemble.Engine
	cfg    config.IngestConfig
	// ttl is the predictor lifetime from the threshold config.
	ttl time.Duration
	now func() time.Time
}

// NewIngestor wires the ingestor. cfg may be nil for defaults; ttlHours of
// zero falls back to the balanced strategy's 48h.
func NewIngestor(db *store.Store, engine *ensemble.Engine, cfg *config.IngestConfig, ttlHours int) *Ingestor {
	if db == nil {
		panic("NewIngestor: db must not be nil")
	}
	if engine == nil {
		panic("NewIngestor: engine must not be nil")
	}
	if cfg == nil {
		cfg = config.DefaultIngestConfig()
	}
	if ttlHours <= 0 {
		ttlHours = config.DefaultThresholdConfig().PredictorTTLHours
	}
	return &Ingestor{
		db:     db,
		engine: engine,
		cfg:    *cfg,
		ttl:    time.Duration(ttlHours) * time.Hour,
		now:    time.Now,
	}
}

// ProcessSubscription pulls and scores new articles for one subscription.
// Per-article errors land in the summary; only subscription-level failures
// return an error.
func (in *Ingestor) ProcessSubscription(ctx context.Context, subscriptionID string, limit int) (*ProcessSummary, error) {
	sub, err := in.db.Subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %s: %w", subscriptionID, err)
	}
	summary := &ProcessSummary{SubscriptionID: sub.ID, Errors: []string{}}
	if err := in.processSubscription(ctx, sub, "", limit, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// ProcessTarget runs every subscription feeding a target, restricted to that
// target. Watermarks advance per subscription, each to its own max.
func (in *Ingestor) ProcessTarget(ctx context.Context, targetID string, limit int) (*ProcessSummary, error) {
	subs, err := in.db.Subscriptions.FindByTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions for target %s: %w", targetID, err)
	}
	summary := &ProcessSummary{SubscriptionID: "all", TargetID: targetID, Errors: []string{}}
	for _, sub := range subs {
		if !sub.IsActive {
			continue
		}
		if err := in.processSubscription(ctx, sub, targetID, limit, summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("subscription %s: %v", sub.ID, err))
		}
	}
	return summary, nil
}

func (in *Ingestor) processSubscription(ctx context.Context, sub *models.SourceSubscription, targetFilter string, limit int, summary *ProcessSummary) error {
	if limit <= 0 {
		limit = in.cfg.DefaultLimit
	}
	articles, err := in.db.Subscriptions.GetNewArticles(ctx, sub, limit)
	if err != nil {
		return fmt.Errorf("failed to fetch new articles: %w", err)
	}
	if len(articles) == 0 {
		return nil
	}

	var maxSeen time.Time
	for _, article := range articles {
		summary.ArticlesProcessed++
		if article.FirstSeenAt.After(maxSeen) {
			maxSeen = article.FirstSeenAt
		}
		if !passesKeywordFilter(sub, article) {
			continue
		}
		for _, targetID := range sub.TargetIDs {
			if targetFilter != "" && targetID != targetFilter {
				continue
			}
			if err := in.processArticleForTarget(ctx, article, targetID, summary); err != nil {
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("article %s target %s: %v", article.ID, targetID, err))
			}
		}
	}

	// Watermark only moves when articles were processed, and never backwards.
	if err := in.db.Subscriptions.UpdateWatermark(ctx, sub.ID, maxSeen); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

func (in *Ingestor) processArticleForTarget(ctx context.Context, article *models.Article, targetID string, summary *ProcessSummary) error {
	target, err := in.db.Targets.FindByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target: %w", err)
	}

	// Test articles route only to test targets and vice versa.
	if target.IsTest() != article.IsTest {
		return nil
	}
	if !isRelevant(target, article) {
		return nil
	}

	// Boundary-inclusive watermark reads can replay the newest article; a
	// signal already extracted for this (target, content hash) means the whole
	// pair was handled.
	seen, err := in.db.Signals.ExistsForArticle(ctx, target.ID, article.ContentHash)
	if err != nil {
		return fmt.Errorf("failed signal dedup check: %w", err)
	}
	if seen {
		return nil
	}

	direction := models.SignalNeutral
	var confidence, consensus float64
	var reasoning string

	result, err := in.engine.Run(ctx, target, ensemble.Input{
		TargetID: target.ID,
		Content:  article.Title + "\n\n" + article.Body(),
		Metadata: map[string]any{
			"headline":  article.Title,
			"url":       article.URL,
			"source_id": article.SourceID,
		},
	}, models.ForkUser, "tier1_scoring")
	if err != nil {
		// Scoring failure downgrades to a neutral signal, never a predictor.
		slog.Warn("Ensemble scoring failed, recording neutral signal",
			"article_id", article.ID,
			"target_id", target.ID,
			"error", err)
	} else {
		direction = result.Aggregated.Direction
		confidence = result.Aggregated.Confidence
		consensus = result.Aggregated.ConsensusStrength
		reasoning = result.Aggregated.Reasoning
	}

	now := in.now()
	signal := &models.Signal{
		ID:         uuid.New().String(),
		TargetID:   target.ID,
		SourceID:   article.SourceID,
		URL:        article.URL,
		Content:    article.Body(),
		Direction:  direction,
		DetectedAt: now.UTC(),
		Metadata: map[string]any{
			"headline":     article.Title,
			"key_phrases":  article.KeyPhrases,
			"content_hash": article.ContentHash,
		},
		IsTest: article.IsTest,
	}
	if err := in.db.Signals.Create(ctx, signal); err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}

	if confidence < in.cfg.MinConfidence || consensus < in.cfg.MinConsensus {
		return nil
	}

	predictor := &models.Predictor{
		ID:          uuid.New().String(),
		TargetID:    target.ID,
		ArticleID:   article.ID,
		AnalystSlug: EnsembleSlug,
		Direction:   direction,
		Strength:    strengthFromConfidence(confidence),
		Confidence:  confidence,
		Reasoning:   reasoning,
		Status:      models.PredictorActive,
		CreatedAt:   now.UTC(),
		ExpiresAt:   now.UTC().Add(in.ttl),
		IsTest:      article.IsTest,
	}
	if err := in.db.Predictors.Create(ctx, predictor); err != nil {
		return fmt.Errorf("failed to create predictor: %w", err)
	}
	summary.PredictorsCreated++
	if !contains(summary.TouchedTargets, target.ID) {
		summary.TouchedTargets = append(summary.TouchedTargets, target.ID)
	}
	return nil
}

// passesKeywordFilter applies the subscription's include/exclude lists to
// title+content, case-insensitively. Exclude wins over include.
func passesKeywordFilter(sub *models.SourceSubscription, article *models.Article) bool {
	haystack := strings.ToLower(article.Title + " " + article.Body())
	for _, kw := range sub.KeywordsExclude {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return false
		}
	}
	if len(sub.KeywordsInclude) == 0 {
		return true
	}
	for _, kw := range sub.KeywordsInclude {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// isRelevant requires the target's symbol or name to appear in the article.
func isRelevant(target *models.Target, article *models.Article) bool {
	text := article.Title + " " + article.Body()
	if target.Symbol != "" && strings.Contains(text, target.Symbol) {
		return true
	}
	if target.Name != "" && strings.Contains(strings.ToLower(text), strings.ToLower(target.Name)) {
		return true
	}
	return false
}

// strengthFromConfidence maps ensemble confidence onto the 1..10 predictor
// strength scale.
func strengthFromConfidence(confidence float64) int {
	s := int(math.Round(confidence * 10))
	if s < 1 {
		s = 1
	}
	if s > 10 {
		s = 10
	}
	return s
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
