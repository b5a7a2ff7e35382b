// Package api is the HTTP surface over the pipeline core: article
// submission, manual Tier-1/Tier-3 triggers, prediction and predictor reads,
// and health endpoints.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/crawler"
	"github.com/foresight-labs/foresight/pkg/ingest"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/outcome"
	"github.com/foresight-labs/foresight/pkg/pool"
	"github.com/foresight-labs/foresight/pkg/predict"
	"github.com/foresight-labs/foresight/pkg/queue"
	"github.com/foresight-labs/foresight/pkg/resilience"
	"github.com/foresight-labs/foresight/pkg/store"
)

// Server wires the HTTP handlers to the core services.
type Server struct {
	db        *store.Store
	ingestor  *ingest.Ingestor
	generator *predict.Generator
	pool      *pool.Pool
	resolver  *outcome.Resolver
	health    *resilience.HealthTracker
	queue     *queue.WorkerPool
	crawler   *crawler.Client
}

// NewServer creates the API server. queue and resolver may be nil.
func NewServer(db *store.Store, ingestor *ingest.Ingestor, generator *predict.Generator, predictorPool *pool.Pool, resolver *outcome.Resolver, health *resilience.HealthTracker, workerPool *queue.WorkerPool) *Server {
	if db == nil {
		panic("NewServer: store must not be nil")
	}
	if ingestor == nil {
		panic("NewServer: ingestor must not be nil")
	}
	if generator == nil {
		panic("NewServer: generator must not be nil")
	}
	if predictorPool == nil {
		panic("NewServer: pool must not be nil")
	}
	if health == nil {
		panic("NewServer: health must not be nil")
	}
	return &Server{
		db:        db,
		ingestor:  ingestor,
		generator: generator,
		pool:      predictorPool,
		resolver:  resolver,
		health:    health,
		queue:     workerPool,
	}
}

// SetCrawler enables the scrape endpoint. Without it the endpoint returns
// 501.
func (s *Server) SetCrawler(client *crawler.Client) {
	s.crawler = client
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.healthHandler)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/articles", s.submitArticleHandler)
		v1.POST("/articles/scrape", s.scrapeArticleHandler)
		v1.POST("/targets/:id/process", s.processTargetHandler)
		v1.POST("/targets/:id/predict", s.predictHandler)
		v1.GET("/targets/:id/predictions", s.listPredictionsHandler)
		v1.GET("/targets/:id/predictors", s.listPredictorsHandler)
		v1.POST("/predictions/:id/outcome", s.captureOutcomeHandler)
		v1.GET("/system/health", s.systemHealthHandler)
	}
	return router
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) systemHealthHandler(c *gin.Context) {
	services := s.health.SnapshotAll()
	healthy := true
	for _, svc := range services {
		if svc.Status == resilience.HealthDown {
			healthy = false
		}
	}

	resp := gin.H{
		"status":   "healthy",
		"services": services,
	}
	if s.queue != nil {
		queueHealth := s.queue.Health()
		resp["queue"] = queueHealth
		if !queueHealth.IsHealthy {
			healthy = false
		}
	}
	if !healthy {
		resp["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitArticleRequest is the POST /api/v1/articles body.
type SubmitArticleRequest struct {
	SourceID    string   `json:"source_id" binding:"required"`
	URL         string   `json:"url"`
	Title       string   `json:"title" binding:"required"`
	Content     string   `json:"content"`
	Summary     string   `json:"summary"`
	ContentHash string   `json:"content_hash"`
	KeyPhrases  []string `json:"key_phrases"`
	IsTest      bool     `json:"is_test"`
}

func (s *Server) submitArticleHandler(c *gin.Context) {
	var req SubmitArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && req.Summary == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content or summary is required"})
		return
	}

	article := &models.Article{
		ID:          uuid.New().String(),
		SourceID:    req.SourceID,
		URL:         req.URL,
		Title:       req.Title,
		Content:     req.Content,
		Summary:     req.Summary,
		FirstSeenAt: time.Now().UTC(),
		ContentHash: req.ContentHash,
		KeyPhrases:  req.KeyPhrases,
		IsTest:      req.IsTest,
	}
	if article.ContentHash == "" {
		article.ContentHash = models.ContentHash(article.Title + article.Body())
	}

	if err := s.db.Articles.Create(c.Request.Context(), article); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "article already ingested"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, article)
}

// ScrapeArticleRequest is the POST /api/v1/articles/scrape body.
type ScrapeArticleRequest struct {
	SourceID string `json:"source_id" binding:"required"`
	URL      string `json:"url" binding:"required"`
	WaitMs   int    `json:"wait_ms"`
	IsTest   bool   `json:"is_test"`
}

// scrapeArticleHandler fetches a URL through the crawler bridge and deposits
// the result as an article.
func (s *Server) scrapeArticleHandler(c *gin.Context) {
	if s.crawler == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "crawler bridge is not enabled"})
		return
	}
	var req ScrapeArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.crawler.Scrape(c.Request.Context(), req.URL, crawler.ScrapeOptions{WaitMs: req.WaitMs})
	if err != nil {
		if errors.Is(err, crawler.ErrBlockedURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	title := req.URL
	if t, ok := result.Metadata["title"].(string); ok && t != "" {
		title = t
	}
	article := &models.Article{
		ID:          uuid.New().String(),
		SourceID:    req.SourceID,
		URL:         req.URL,
		Title:       title,
		Content:     result.Markdown,
		FirstSeenAt: time.Now().UTC(),
		ContentHash: models.ContentHash(title + result.Markdown),
		IsTest:      req.IsTest,
	}
	if err := s.db.Articles.Create(c.Request.Context(), article); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "article already ingested"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, article)
}

func (s *Server) processTargetHandler(c *gin.Context) {
	targetID := c.Param("id")
	if _, err := s.db.Targets.FindByID(c.Request.Context(), targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summary, err := s.ingestor.ProcessTarget(c.Request.Context(), targetID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) predictHandler(c *gin.Context) {
	targetID := c.Param("id")
	prediction, err := s.generator.AttemptPredictionGeneration(c.Request.Context(), targetID, nil)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if prediction == nil {
		c.JSON(http.StatusOK, gin.H{"prediction": nil, "message": "threshold not met"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prediction": prediction})
}

func (s *Server) listPredictionsHandler(c *gin.Context) {
	targetID := c.Param("id")
	status := models.PredictionStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}

	predictions, err := s.db.Predictions.FindByTarget(c.Request.Context(), targetID, status, store.PredictionFindOptions{
		IncludeTestData: c.Query("include_test_data") == "true",
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions, "count": len(predictions)})
}

func (s *Server) listPredictorsHandler(c *gin.Context) {
	targetID := c.Param("id")
	predictors, err := s.pool.GetActivePredictors(c.Request.Context(), targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := s.pool.GetPredictorStats(c.Request.Context(), targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictors": predictors, "stats": stats})
}

// CaptureOutcomeRequest is the POST /api/v1/predictions/:id/outcome body.
type CaptureOutcomeRequest struct {
	PriceAtEntry float64 `json:"price_at_entry" binding:"required"`
	PriceAtExit  float64 `json:"price_at_exit" binding:"required"`
}

func (s *Server) captureOutcomeHandler(c *gin.Context) {
	if s.resolver == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "outcome capture is not enabled"})
		return
	}
	var req CaptureOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prediction, err := s.resolver.CaptureOutcome(c.Request.Context(), c.Param("id"), outcome.Observation{
		PriceAtEntry: req.PriceAtEntry,
		PriceAtExit:  req.PriceAtExit,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"prediction": prediction})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "prediction not found"})
	case errors.Is(err, outcome.ErrNotResolvable), errors.Is(err, outcome.ErrInvalidObservation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
