package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// now returns a UTC instant truncated to what timestamptz can hold, so
// round-trip equality assertions work.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func createTarget(t *testing.T, db *store.Store) *models.Target {
	t.Helper()
	target := &models.Target{
		ID:         uuid.New().String(),
		UniverseID: uuid.New().String(),
		Symbol:     "AAPL",
		Name:       "Apple Inc.",
		TargetType: "stock",
		IsActive:   true,
		CreatedAt:  now(),
	}
	require.NoError(t, db.Targets.Create(context.Background(), target))
	return target
}

func TestArticleDedup(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()

	article := &models.Article{
		SourceID:    uuid.New().String(),
		URL:         "https://news.example.com/a",
		Title:       "AAPL beats expectations",
		Content:     "Apple Inc. reported strong results.",
		FirstSeenAt: now(),
		ContentHash: models.ContentHash("AAPL beats expectations"),
		KeyPhrases:  []string{"earnings", "guidance"},
	}
	require.NoError(t, db.Articles.Create(ctx, article))

	got, err := db.Articles.FindByID(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, article.Title, got.Title)
	assert.Equal(t, []string{"earnings", "guidance"}, got.KeyPhrases)
	assert.True(t, got.FirstSeenAt.Equal(article.FirstSeenAt))

	// Same (source_id, content_hash) replays the unique constraint.
	replay := &models.Article{
		SourceID:    article.SourceID,
		Title:       article.Title,
		Content:     article.Content,
		FirstSeenAt: now(),
		ContentHash: article.ContentHash,
	}
	assert.ErrorIs(t, db.Articles.Create(ctx, replay), store.ErrDuplicate)
}

func TestSubscriptionWatermark(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)
	sourceID := uuid.New().String()

	sub := &models.SourceSubscription{
		SourceID:  sourceID,
		TargetIDs: []string{target.ID},
		IsActive:  true,
	}
	require.NoError(t, db.Subscriptions.Create(ctx, sub))

	base := now().Add(-time.Hour)
	var seen []time.Time
	for i := range 3 {
		at := base.Add(time.Duration(i) * time.Minute)
		seen = append(seen, at)
		require.NoError(t, db.Articles.Create(ctx, &models.Article{
			SourceID:    sourceID,
			Title:       "article",
			Content:     "body",
			FirstSeenAt: at,
			ContentHash: uuid.New().String(),
		}))
	}

	articles, err := db.Subscriptions.GetNewArticles(ctx, sub, 0)
	require.NoError(t, err)
	require.Len(t, articles, 3)
	assert.True(t, articles[0].FirstSeenAt.Before(articles[2].FirstSeenAt))

	require.NoError(t, db.Subscriptions.UpdateWatermark(ctx, sub.ID, seen[1]))
	sub, err = db.Subscriptions.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.LastProcessedAt)

	// Boundary-inclusive: the article at the watermark comes back again.
	articles, err = db.Subscriptions.GetNewArticles(ctx, sub, 0)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.True(t, articles[0].FirstSeenAt.Equal(seen[1]))

	// Watermarks never move backwards.
	require.NoError(t, db.Subscriptions.UpdateWatermark(ctx, sub.ID, seen[0]))
	sub, err = db.Subscriptions.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, sub.LastProcessedAt.Equal(seen[1]))

	assert.ErrorIs(t, db.Subscriptions.UpdateWatermark(ctx, uuid.New().String(), now()), store.ErrNotFound)
}

func TestSubscriptionFindByTarget(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)

	sub := &models.SourceSubscription{
		SourceID:  uuid.New().String(),
		TargetIDs: []string{uuid.New().String(), target.ID},
		IsActive:  true,
	}
	require.NoError(t, db.Subscriptions.Create(ctx, sub))

	subs, err := db.Subscriptions.FindByTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)

	subs, err = db.Subscriptions.FindByTarget(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSignalDedupLookup(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)
	hash := models.ContentHash("some article body")

	require.NoError(t, db.Signals.Create(ctx, &models.Signal{
		TargetID:   target.ID,
		SourceID:   "reuters",
		Content:    "bullish take",
		Direction:  models.SignalBullish,
		DetectedAt: now(),
		Metadata:   map[string]any{"content_hash": hash, "headline": "AAPL up"},
	}))

	exists, err := db.Signals.ExistsForArticle(ctx, target.ID, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.Signals.ExistsForArticle(ctx, target.ID, models.ContentHash("other"))
	require.NoError(t, err)
	assert.False(t, exists)

	signals, err := db.Signals.FindByTarget(ctx, target.ID, 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, hash, signals[0].Metadata["content_hash"])
}

func TestPredictorLifecycle(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)

	fresh := &models.Predictor{
		TargetID:   target.ID,
		ArticleID:  uuid.New().String(),
		Direction:  models.SignalBullish,
		Strength:   8,
		Confidence: 0.8,
		Status:     models.PredictorActive,
		CreatedAt:  now(),
		ExpiresAt:  now().Add(48 * time.Hour),
	}
	stale := &models.Predictor{
		TargetID:   target.ID,
		ArticleID:  uuid.New().String(),
		Direction:  models.SignalBearish,
		Strength:   5,
		Confidence: 0.6,
		Status:     models.PredictorActive,
		CreatedAt:  now().Add(-49 * time.Hour),
		ExpiresAt:  now().Add(-time.Hour),
	}
	require.NoError(t, db.Predictors.Create(ctx, fresh))
	require.NoError(t, db.Predictors.Create(ctx, stale))

	active, err := db.Predictors.FindActiveByTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, stale.ID, active[0].ID, "oldest first")

	expired, err := db.Predictors.ExpireOldPredictors(ctx, target.ID, now())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	expired, err = db.Predictors.ExpireOldPredictors(ctx, target.ID, now())
	require.NoError(t, err)
	assert.Zero(t, expired, "expiry sweep is idempotent")

	predictionID := uuid.New().String()
	require.NoError(t, db.Predictors.ConsumePredictor(ctx, fresh.ID, predictionID))
	// A predictor already consumed by another prediction is left untouched.
	require.NoError(t, db.Predictors.ConsumePredictor(ctx, fresh.ID, uuid.New().String()))

	got, err := db.Predictors.FindByIDs(ctx, []string{fresh.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.PredictorConsumed, got[0].Status)
	assert.Equal(t, predictionID, got[0].ConsumedByPredictionID)

	assert.ErrorIs(t, db.Predictors.ConsumePredictor(ctx, uuid.New().String(), predictionID), store.ErrNotFound)
}

func TestPredictionActiveUniqueness(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)

	first := &models.Prediction{
		TargetID:    target.ID,
		Direction:   models.PredictionUp,
		Magnitude:   models.MagnitudeMedium,
		Confidence:  0.8,
		Status:      models.PredictionActive,
		AnalystSlug: models.ArbitratorSlug,
		PredictedAt: now(),
		UpdatedAt:   now(),
		ExpiresAt:   now().Add(24 * time.Hour),
		AnalystEnsemble: &models.AnalystEnsemble{
			PredictorCount:     3,
			CombinedStrength:   19,
			DirectionConsensus: 0.75,
			Versions: []models.PredictionVersion{
				{Timestamp: now().Add(-time.Hour), Direction: models.PredictionDown, Confidence: 0.7},
			},
		},
	}
	require.NoError(t, db.Predictions.Create(ctx, first))

	dup := &models.Prediction{
		TargetID:    target.ID,
		Direction:   models.PredictionDown,
		Status:      models.PredictionActive,
		AnalystSlug: models.ArbitratorSlug,
		PredictedAt: now(),
		UpdatedAt:   now(),
		ExpiresAt:   now().Add(24 * time.Hour),
	}
	assert.ErrorIs(t, db.Predictions.Create(ctx, dup), store.ErrConflict)

	// Resolving the incumbent frees the slot.
	require.NoError(t, db.Predictions.UpdateStatus(ctx, first.ID, models.PredictionResolved))
	dup.ID = ""
	require.NoError(t, db.Predictions.Create(ctx, dup))

	// JSONB documents round-trip.
	got, err := db.Predictions.FindByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AnalystEnsemble)
	assert.Equal(t, 19, got.AnalystEnsemble.CombinedStrength)
	require.Len(t, got.AnalystEnsemble.Versions, 1)
	assert.Equal(t, models.PredictionDown, got.AnalystEnsemble.Versions[0].Direction)
}

func TestPredictionOutcomeRoundTrip(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)

	prediction := &models.Prediction{
		TargetID:    target.ID,
		Direction:   models.PredictionUp,
		Status:      models.PredictionActive,
		AnalystSlug: models.ArbitratorSlug,
		PredictedAt: now(),
		UpdatedAt:   now(),
		ExpiresAt:   now().Add(24 * time.Hour),
	}
	require.NoError(t, db.Predictions.Create(ctx, prediction))

	prediction.Status = models.PredictionResolved
	prediction.Outcome = &models.PredictionOutcome{
		ActualDirection: models.PredictionUp,
		ActualMovePct:   3.2,
		Correct:         true,
		PriceAtEntry:    100,
		PriceAtExit:     103.2,
		ResolvedAt:      now(),
	}
	require.NoError(t, db.Predictions.Update(ctx, prediction))

	got, err := db.Predictions.FindByID(ctx, prediction.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.True(t, got.Outcome.Correct)
	assert.InDelta(t, 3.2, got.Outcome.ActualMovePct, 1e-9)
}

func TestPredictionFindOptions(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)

	real := &models.Prediction{
		TargetID:    target.ID,
		Direction:   models.PredictionUp,
		Status:      models.PredictionActive,
		AnalystSlug: models.ArbitratorSlug,
		PredictedAt: now(),
		UpdatedAt:   now(),
		ExpiresAt:   now().Add(24 * time.Hour),
	}
	test := &models.Prediction{
		TargetID:       target.ID,
		Direction:      models.PredictionDown,
		Status:         models.PredictionActive,
		AnalystSlug:    models.ArbitratorSlug,
		PredictedAt:    now(),
		UpdatedAt:      now(),
		ExpiresAt:      now().Add(24 * time.Hour),
		IsTest:         true,
		TestScenarioID: uuid.New().String(),
	}
	require.NoError(t, db.Predictions.Create(ctx, real))
	require.NoError(t, db.Predictions.Create(ctx, test))

	got, err := db.Predictions.FindByTarget(ctx, target.ID, "", store.PredictionFindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, real.ID, got[0].ID)

	got, err = db.Predictions.FindByTarget(ctx, target.ID, "", store.PredictionFindOptions{IncludeTestData: true})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = db.Predictions.FindByTarget(ctx, target.ID, "", store.PredictionFindOptions{TestDataOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, test.ID, got[0].ID)

	got, err = db.Predictions.FindByTarget(ctx, target.ID, "", store.PredictionFindOptions{
		TestDataOnly:   true,
		TestScenarioID: test.TestScenarioID,
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSnapshotWriteOnce(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	predictionID := uuid.New().String()

	snapshot := &models.PredictionSnapshot{
		PredictionID: predictionID,
		Predictors: []models.SnapshotPredictor{
			{ID: uuid.New().String(), Direction: models.SignalBullish, Strength: 8, Confidence: 0.8},
		},
		ThresholdEvaluation: models.ThresholdEvaluationRecord{
			MinPredictors: 3,
			ActiveCount:   3,
			Passed:        true,
		},
		CreatedAt: now(),
	}
	require.NoError(t, db.Snapshots.Create(ctx, snapshot))

	second := &models.PredictionSnapshot{PredictionID: predictionID, CreatedAt: now()}
	assert.ErrorIs(t, db.Snapshots.Create(ctx, second), store.ErrDuplicate)

	got, err := db.Snapshots.FindByPredictionID(ctx, predictionID)
	require.NoError(t, err)
	require.Len(t, got.Predictors, 1)
	assert.True(t, got.ThresholdEvaluation.Passed)
}

func TestAnalystUpdate(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()

	analyst := &models.Analyst{
		Slug:              "technical-analyst-" + uuid.New().String(),
		Name:              "Technical Analyst",
		Weight:            1.2,
		IsActive:          true,
		PerformanceStatus: models.PerformanceActive,
	}
	require.NoError(t, db.Analysts.Create(ctx, analyst))
	assert.ErrorIs(t, db.Analysts.Create(ctx, &models.Analyst{Slug: analyst.Slug}), store.ErrDuplicate)

	analyst.PerformanceStatus = models.PerformanceProbation
	analyst.MotivationFactor = 0.5
	require.NoError(t, db.Analysts.Update(ctx, analyst))

	got, err := db.Analysts.FindBySlug(ctx, analyst.Slug)
	require.NoError(t, err)
	assert.Equal(t, models.PerformanceProbation, got.PerformanceStatus)
	assert.InDelta(t, 0.5, got.MotivationFactor, 1e-9)

	assert.ErrorIs(t, db.Analysts.Update(ctx, &models.Analyst{ID: uuid.New().String()}), store.ErrNotFound)
}

func TestContextVersionSupersede(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	analystID := uuid.New().String()

	v1 := &models.AnalystContextVersion{
		AnalystID:     analystID,
		ForkType:      models.ForkAI,
		Perspective:   "first",
		VersionNumber: 1,
		ChangedBy:     "seed",
		CreatedAt:     now(),
	}
	require.NoError(t, db.ContextVersions.Create(ctx, v1))

	v2 := &models.AnalystContextVersion{
		AnalystID:        analystID,
		ForkType:         models.ForkAI,
		Perspective:      "second",
		TierInstructions: map[string]string{"tier3": "be specific"},
		VersionNumber:    2,
		ChangedBy:        "agent",
		CreatedAt:        now(),
	}
	require.NoError(t, db.ContextVersions.Create(ctx, v2))

	current, err := db.ContextVersions.GetCurrent(ctx, analystID, models.ForkAI)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, current.ID)
	assert.Equal(t, "be specific", current.TierInstructions["tier3"])

	all, err := db.ContextVersions.GetAllCurrent(ctx, models.ForkAI)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, all[analystID].ID)

	_, err = db.ContextVersions.GetCurrent(ctx, analystID, models.ForkUser)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLearningOrdering(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	slug := "macro-analyst-" + uuid.New().String()
	targetID := uuid.New().String()

	base := now().Add(-time.Hour)
	seed := func(target string, age time.Duration, content string) {
		require.NoError(t, db.Learnings.Create(ctx, &models.Learning{
			AnalystSlug: slug,
			TargetID:    target,
			Content:     content,
			CreatedAt:   base.Add(-age),
		}))
	}
	seed("", 0, "global new")
	seed("", 10*time.Minute, "global old")
	seed(targetID, 5*time.Minute, "scoped")

	got, err := db.Learnings.FindForPrompt(ctx, slug, targetID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "scoped", got[0].Content, "target-scoped rows come first")
	assert.Equal(t, "global new", got[1].Content)

	got, err = db.Learnings.FindForPrompt(ctx, slug, targetID, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTargetSnapshotUpsert(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)

	_, err := db.TargetSnapshots.Latest(ctx, target.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, db.TargetSnapshots.Upsert(ctx, &models.TargetSnapshot{
		TargetID: target.ID,
		Close:    150,
		PricedAt: now(),
	}))
	require.NoError(t, db.TargetSnapshots.Upsert(ctx, &models.TargetSnapshot{
		TargetID: target.ID,
		Close:    152.5,
		PricedAt: now(),
	}))

	got, err := db.TargetSnapshots.Latest(ctx, target.ID)
	require.NoError(t, err)
	assert.InDelta(t, 152.5, got.Close, 1e-9)
}

func TestUsageTokensSince(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	universeID := uuid.New().String()

	cutoff := now().Add(-time.Hour)
	records := []store.UsageRecord{
		{UniverseID: universeID, Provider: "openai", InputTokens: 100, OutputTokens: 50, RecordedAt: cutoff.Add(time.Minute)},
		{UniverseID: universeID, Provider: "openai", InputTokens: 200, OutputTokens: 25, RecordedAt: cutoff.Add(2 * time.Minute)},
		{UniverseID: universeID, Provider: "openai", InputTokens: 999, OutputTokens: 1, RecordedAt: cutoff.Add(-time.Minute)},
		{UniverseID: uuid.New().String(), Provider: "openai", InputTokens: 777, OutputTokens: 0, RecordedAt: cutoff.Add(time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, db.Usage.Record(ctx, rec))
	}

	total, err := db.Usage.TokensSince(ctx, universeID, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(375), total)
}

func TestTargetLookups(t *testing.T) {
	db := SetupStore(t)
	ctx := context.Background()
	target := createTarget(t, db)

	got, err := db.Targets.FindBySymbol(ctx, target.UniverseID, "aapl")
	require.NoError(t, err)
	assert.Equal(t, target.ID, got.ID, "symbol lookup is case-insensitive")

	active, err := db.Targets.FindActiveByUniverse(ctx, target.UniverseID)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = db.Targets.FindByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, store.ErrNotFound)

	dup := *target
	assert.ErrorIs(t, db.Targets.Create(ctx, &dup), store.ErrDuplicate)
}
