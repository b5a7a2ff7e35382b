package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresight-labs/foresight/pkg/analyst"
	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/crawler"
	"github.com/foresight-labs/foresight/pkg/ensemble"
	"github.com/foresight-labs/foresight/pkg/events"
	"github.com/foresight-labs/foresight/pkg/ingest"
	"github.com/foresight-labs/foresight/pkg/llm"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/outcome"
	"github.com/foresight-labs/foresight/pkg/pool"
	"github.com/foresight-labs/foresight/pkg/predict"
	"github.com/foresight-labs/foresight/pkg/resilience"
	"github.com/foresight-labs/foresight/pkg/snapshot"
	"github.com/foresight-labs/foresight/pkg/store"
	"github.com/foresight-labs/foresight/pkg/store/memory"
)

const bullishResponse = `{"direction":"bullish","confidence":0.8,"reasoning":"momentum"}`

type apiFixture struct {
	server *Server
	router *gin.Engine
	db     *store.Store
	health *resilience.HealthTracker
	target *models.Target
	sub    *models.SourceSubscription
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := memory.NewStore()
	provider := llm.NewStaticProvider("static", bullishResponse)

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
		SourceID:  "manual",
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
	health := resilience.NewHealthTracker()
	gateway := llm.NewGateway(
		map[string]llm.Provider{provider.ProviderName: provider},
		llm.NewTierResolver(tierModels, nil),
		llm.NewUsageLimiter(nil, db.Usage),
		db.Usage,
		resilience.NewExecutor(&config.RetryConfig{MaxRetries: 0, InitialDelayMs: 1, MaxDelayMs: 1, BackoffMultiplier: 1, TimeoutMs: 5000}, health),
	)

	ensembleCfg := config.EnsembleConfig{AggregationMethod: config.AggregationWeightedMajority}
	engine := ensemble.NewEngine(registry, gateway, db.Learnings, ensembleCfg)
	publisher := events.NewPublisher(events.NewMemorySink())
	predictorPool := pool.NewPool(db.Predictors, publisher, nil)
	generator := predict.NewGenerator(predict.Deps{
		Store:     db,
		Engine:    engine,
		Pool:      predictorPool,
		Registry:  registry,
		Snapshots: snapshot.NewWriter(db.Snapshots),
		Publisher: publisher,
	}, ensembleCfg, predict.SystemUser)

	server := NewServer(db, ingest.NewIngestor(db, engine, nil, 48), generator, predictorPool, outcome.NewResolver(db), health, nil)
	return &apiFixture{
		server: server,
		router: server.Router(),
		db:     db,
		health: health,
		target: target,
		sub:    sub,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitArticle(t *testing.T) {
	fix := newAPIFixture(t)

	rec := fix.do(t, http.MethodPost, "/api/v1/articles", SubmitArticleRequest{
		SourceID: "manual",
		Title:    "AAPL beats expectations",
		Content:  "Apple Inc. reported strong results.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var article models.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &article))
	assert.NotEmpty(t, article.ID)
	assert.NotEmpty(t, article.ContentHash)

	// Same content replayed hits the (source_id, content_hash) constraint.
	rec = fix.do(t, http.MethodPost, "/api/v1/articles", SubmitArticleRequest{
		SourceID: "manual",
		Title:    "AAPL beats expectations",
		Content:  "Apple Inc. reported strong results.",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitArticle_RequiresContent(t *testing.T) {
	fix := newAPIFixture(t)
	rec := fix.do(t, http.MethodPost, "/api/v1/articles", SubmitArticleRequest{
		SourceID: "manual",
		Title:    "empty",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrapeArticle(t *testing.T) {
	fix := newAPIFixture(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"Apple Inc. shipped a record quarter.","metadata":{"title":"AAPL record quarter"}}}`))
	}))
	defer backend.Close()

	fix.server.SetCrawler(crawler.NewClient(&config.CrawlerConfig{
		BaseURL:              backend.URL,
		AllowPrivateNetworks: true,
	}, resilience.NewExecutor(&config.RetryConfig{MaxRetries: 0, InitialDelayMs: 1, MaxDelayMs: 1, BackoffMultiplier: 1, TimeoutMs: 5000}, fix.health)))

	rec := fix.do(t, http.MethodPost, "/api/v1/articles/scrape", ScrapeArticleRequest{
		SourceID: "manual",
		URL:      "https://news.example.com/aapl",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var article models.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &article))
	assert.Equal(t, "AAPL record quarter", article.Title)
	assert.Equal(t, "Apple Inc. shipped a record quarter.", article.Content)
	assert.NotEmpty(t, article.ContentHash)
}

func TestScrapeArticle_NotEnabled(t *testing.T) {
	fix := newAPIFixture(t)
	rec := fix.do(t, http.MethodPost, "/api/v1/articles/scrape", ScrapeArticleRequest{
		SourceID: "manual",
		URL:      "https://news.example.com/aapl",
	})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestProcessTarget(t *testing.T) {
	fix := newAPIFixture(t)
	require.NoError(t, fix.db.Articles.Create(context.Background(), &models.Article{
		ID:          uuid.New().String(),
		SourceID:    "manual",
		Title:       "AAPL raises guidance",
		Content:     "Apple Inc. guidance up.",
		FirstSeenAt: time.Now(),
		ContentHash: uuid.New().String(),
	}))

	rec := fix.do(t, http.MethodPost, "/api/v1/targets/"+fix.target.ID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary ingest.ProcessSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.ArticlesProcessed)
	assert.Equal(t, 1, summary.PredictorsCreated)
}

func TestProcessTarget_NotFound(t *testing.T) {
	fix := newAPIFixture(t)
	rec := fix.do(t, http.MethodPost, "/api/v1/targets/"+uuid.New().String()+"/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredict_ThresholdNotMet(t *testing.T) {
	fix := newAPIFixture(t)
	rec := fix.do(t, http.MethodPost, "/api/v1/targets/"+fix.target.ID+"/predict", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Prediction *models.Prediction `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Prediction)
}

func TestListPredictions_InvalidStatus(t *testing.T) {
	fix := newAPIFixture(t)
	rec := fix.do(t, http.MethodGet, "/api/v1/targets/"+fix.target.ID+"/predictions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPredictors(t *testing.T) {
	fix := newAPIFixture(t)
	require.NoError(t, fix.db.Predictors.Create(context.Background(), &models.Predictor{
		ID:         uuid.New().String(),
		TargetID:   fix.target.ID,
		ArticleID:  uuid.New().String(),
		Direction:  models.SignalBullish,
		Strength:   8,
		Confidence: 0.8,
		Status:     models.PredictorActive,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(48 * time.Hour),
	}))

	rec := fix.do(t, http.MethodGet, "/api/v1/targets/"+fix.target.ID+"/predictors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Predictors []*models.Predictor `json:"predictors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Predictors, 1)
}

func TestCaptureOutcome(t *testing.T) {
	fix := newAPIFixture(t)
	prediction := &models.Prediction{
		ID:          uuid.New().String(),
		TargetID:    fix.target.ID,
		Direction:   models.PredictionUp,
		Status:      models.PredictionActive,
		AnalystSlug: models.ArbitratorSlug,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, fix.db.Predictions.Create(context.Background(), prediction))

	rec := fix.do(t, http.MethodPost, "/api/v1/predictions/"+prediction.ID+"/outcome", CaptureOutcomeRequest{
		PriceAtEntry: 100,
		PriceAtExit:  104,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := fix.db.Predictions.FindByID(context.Background(), prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PredictionResolved, got.Status)

	// Resolving twice conflicts.
	rec = fix.do(t, http.MethodPost, "/api/v1/predictions/"+prediction.ID+"/outcome", CaptureOutcomeRequest{
		PriceAtEntry: 100,
		PriceAtExit:  104,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSystemHealth(t *testing.T) {
	fix := newAPIFixture(t)

	rec := fix.do(t, http.MethodGet, "/api/v1/system/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Three consecutive failures mark the service down and the system
	// unhealthy.
	fix.health.RecordFailure("firecrawl")
	fix.health.RecordFailure("firecrawl")
	fix.health.RecordFailure("firecrawl")
	rec = fix.do(t, http.MethodGet, "/api/v1/system/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	fix := newAPIFixture(t)
	rec := fix.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
