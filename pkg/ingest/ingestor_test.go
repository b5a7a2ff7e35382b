package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresight-labs/foresight/pkg/analyst"
	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/ensemble"
	"github.com/foresight-labs/foresight/pkg/llm"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/resilience"
	"github.com/foresight-labs/foresight/pkg/store"
	"github.com/foresight-labs/foresight/pkg/store/memory"
)

const bullishResponse = `{"direction":"bullish","confidence":0.8,"reasoning":"beat on revenue"}`

type ingestFixture struct {
	ingestor *Ingestor
	db       *store.Store
	provider *llm.StaticProvider
	target   *models.Target
	sub      *models.SourceSubscription
}

func newIngestFixture(t *testing.T, provider *llm.StaticProvider) *ingestFixture {
	t.Helper()
	ctx := context.Background()
	db := memory.NewStore()

	target := &models.Target{
		ID:         uuid.New().String(),
		UniverseID: "universe-1",
		Symbol:     "AAPL",
		Name:       "Apple Inc.",
		IsActive:   true,
	}
	require.NoError(t, db.Targets.Create(ctx, target))

	sub := &models.SourceSubscription{
		ID:        uuid.New().String(),
		SourceID:  "reuters",
		TargetIDs: []string{target.ID},
		IsActive:  true,
	}
	require.NoError(t, db.Subscriptions.Create(ctx, sub))

	registry := analyst.NewRegistry(db.Analysts, db.ContextVersions, nil)
	require.NoError(t, registry.SeedBuiltinAnalysts(ctx, config.BuiltinAnalysts()))

	tierModels := map[config.Tier]config.TierModelConfig{}
	for _, tier := range config.AllTiers {
		tierModels[tier] = config.TierModelConfig{Provider: provider.ProviderName, Model: "test-model"}
	}
	gateway := llm.NewGateway(
		map[string]llm.Provider{provider.ProviderName: provider},
		llm.NewTierResolver(tierModels, nil),
		llm.NewUsageLimiter(nil, db.Usage),
		db.Usage,
		resilience.NewExecutor(&config.RetryConfig{MaxRetries: 0, InitialDelayMs: 1, MaxDelayMs: 1, BackoffMultiplier: 1, TimeoutMs: 5000}, resilience.NewHealthTracker()),
	)
	engine := ensemble.NewEngine(registry, gateway, db.Learnings, config.EnsembleConfig{
		AggregationMethod: config.AggregationWeightedMajority,
	})

	return &ingestFixture{
		ingestor: NewIngestor(db, engine, nil, 48),
		db:       db,
		provider: provider,
		target:   target,
		sub:      sub,
	}
}

func (f *ingestFixture) seedArticle(t *testing.T, title, content string, seenAt time.Time) *models.Article {
	t.Helper()
	article := &models.Article{
		ID:          uuid.New().String(),
		SourceID:    f.sub.SourceID,
		URL:         "https://news.example.com/" + uuid.New().String(),
		Title:       title,
		Content:     content,
		FirstSeenAt: seenAt,
		ContentHash: uuid.New().String(),
	}
	require.NoError(t, f.db.Articles.Create(context.Background(), article))
	return article
}

func TestProcessSubscription_CreatesSignalAndPredictor(t *testing.T) {
	fix := newIngestFixture(t, llm.NewStaticProvider("static", bullishResponse))
	fix.seedArticle(t, "AAPL beats earnings", "Apple Inc. reported record revenue.", time.Now())

	summary, err := fix.ingestor.ProcessSubscription(context.Background(), fix.sub.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ArticlesProcessed)
	assert.Equal(t, 1, summary.PredictorsCreated)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, []string{fix.target.ID}, summary.TouchedTargets)

	signals, err := fix.db.Signals.FindByTarget(context.Background(), fix.target.ID, 0)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalBullish, signals[0].Direction)

	predictors, err := fix.db.Predictors.FindActiveByTarget(context.Background(), fix.target.ID)
	require.NoError(t, err)
	require.Len(t, predictors, 1)
	assert.Equal(t, 8, predictors[0].Strength) // round(0.8 × 10)
	assert.Equal(t, EnsembleSlug, predictors[0].AnalystSlug)
}

func TestProcessSubscription_RerunIsIdempotent(t *testing.T) {
	fix := newIngestFixture(t, llm.NewStaticProvider("static", bullishResponse))
	fix.seedArticle(t, "AAPL beats earnings", "Apple Inc. reported record revenue.", time.Now())
	ctx := context.Background()

	first, err := fix.ingestor.ProcessSubscription(ctx, fix.sub.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, first.PredictorsCreated)

	sub, err := fix.db.Subscriptions.FindByID(ctx, fix.sub.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.LastProcessedAt)
	watermark := *sub.LastProcessedAt

	second, err := fix.ingestor.ProcessSubscription(ctx, fix.sub.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, second.ArticlesProcessed)
	assert.Equal(t, 0, second.PredictorsCreated)
	assert.Empty(t, second.Errors)

	sub, err = fix.db.Subscriptions.FindByID(ctx, fix.sub.ID)
	require.NoError(t, err)
	assert.True(t, sub.LastProcessedAt.Equal(watermark), "watermark must not move on rerun")

	signals, err := fix.db.Signals.FindByTarget(ctx, fix.target.ID, 0)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestProcessSubscription_KeywordFilter(t *testing.T) {
	fix := newIngestFixture(t, llm.NewStaticProvider("static", bullishResponse))
	fix.sub.KeywordsInclude = []string{"earnings"}
	fix.sub.KeywordsExclude = []string{"rumor"}

	assert.True(t, passesKeywordFilter(fix.sub, &models.Article{Title: "AAPL Earnings preview", Content: "..."}))
	assert.False(t, passesKeywordFilter(fix.sub, &models.Article{Title: "AAPL dividend", Content: "no match"}))
	// Exclude wins even when include matches.
	assert.False(t, passesKeywordFilter(fix.sub, &models.Article{Title: "Earnings RUMOR", Content: "..."}))
}

func TestProcessSubscription_TestArticleSkippedForProductionTarget(t *testing.T) {
	fix := newIngestFixture(t, llm.NewStaticProvider("static", bullishResponse))
	fix.seedArticle(t, "AAPL production story", "Apple Inc. real article.", time.Now())
	testArticle := &models.Article{
		ID:          uuid.New().String(),
		SourceID:    fix.sub.SourceID,
		URL:         "https://news.example.com/test",
		Title:       "AAPL test fixture",
		Content:     "Apple Inc. synthetic article.",
		FirstSeenAt: time.Now(),
		ContentHash: uuid.New().String(),
		IsTest:      true,
	}
	require.NoError(t, fix.db.Articles.Create(context.Background(), testArticle))

	summary, err := fix.ingestor.ProcessSubscription(context.Background(), fix.sub.ID, 0)
	require.NoError(t, err)

	// Both fetched, but the test-flagged one never reaches the production
	// target: exactly one signal exists.
	assert.Equal(t, 2, summary.ArticlesProcessed)
	signals, err := fix.db.Signals.FindByTarget(context.Background(), fix.target.ID, 0)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestProcessSubscription_IrrelevantArticleSkipped(t *testing.T) {
	fix := newIngestFixture(t, llm.NewStaticProvider("static", bullishResponse))
	fix.seedArticle(t, "Fed raises rates", "Macro news with no company mention.", time.Now())

	summary, err := fix.ingestor.ProcessSubscription(context.Background(), fix.sub.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ArticlesProcessed)
	assert.Equal(t, 0, summary.PredictorsCreated)
	signals, err := fix.db.Signals.FindByTarget(context.Background(), fix.target.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestProcessSubscription_LowConfidenceCreatesSignalOnly(t *testing.T) {
	weak := `{"direction":"bullish","confidence":0.3,"reasoning":"thin sourcing"}`
	fix := newIngestFixture(t, llm.NewStaticProvider("static", weak))
	fix.seedArticle(t, "AAPL roundup", "Apple Inc. mentioned in passing.", time.Now())

	summary, err := fix.ingestor.ProcessSubscription(context.Background(), fix.sub.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.PredictorsCreated)
	signals, err := fix.db.Signals.FindByTarget(context.Background(), fix.target.ID, 0)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestProcessSubscription_EnsembleFailureDowngradesToNeutral(t *testing.T) {
	provider := llm.NewStaticProvider("static")
	provider.Err = errors.New("provider down")
	fix := newIngestFixture(t, provider)
	fix.seedArticle(t, "AAPL outage story", "Apple Inc. services disrupted.", time.Now())

	summary, err := fix.ingestor.ProcessSubscription(context.Background(), fix.sub.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ArticlesProcessed)
	assert.Equal(t, 0, summary.PredictorsCreated)
	assert.Empty(t, summary.Errors)

	signals, err := fix.db.Signals.FindByTarget(context.Background(), fix.target.ID, 0)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalNeutral, signals[0].Direction)
}

func TestProcessTarget_AdvancesEachWatermarkIndependently(t *testing.T) {
	fix := newIngestFixture(t, llm.NewStaticProvider("static", bullishResponse))
	ctx := context.Background()

	second := &models.SourceSubscription{
		ID:        uuid.New().String(),
		SourceID:  "bloomberg",
		TargetIDs: []string{fix.target.ID},
		IsActive:  true,
	}
	require.NoError(t, fix.db.Subscriptions.Create(ctx, second))

	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-1 * time.Hour)
	fix.seedArticle(t, "AAPL supply chain", "Apple Inc. supplier update.", t1)
	require.NoError(t, fix.db.Articles.Create(ctx, &models.Article{
		ID:          uuid.New().String(),
		SourceID:    "bloomberg",
		Title:       "AAPL guidance",
		Content:     "Apple Inc. raises outlook.",
		FirstSeenAt: t2,
		ContentHash: uuid.New().String(),
	}))

	summary, err := fix.ingestor.ProcessTarget(ctx, fix.target.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "all", summary.SubscriptionID)
	assert.Equal(t, fix.target.ID, summary.TargetID)
	assert.Equal(t, 2, summary.ArticlesProcessed)

	subA, err := fix.db.Subscriptions.FindByID(ctx, fix.sub.ID)
	require.NoError(t, err)
	subB, err := fix.db.Subscriptions.FindByID(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, subA.LastProcessedAt)
	require.NotNil(t, subB.LastProcessedAt)
	assert.True(t, subA.LastProcessedAt.Equal(t1))
	assert.True(t, subB.LastProcessedAt.Equal(t2))
}
