// Package store defines the repository contracts the pipeline core talks to.
// The backing engine is opaque to the core: pkg/store/memory implements the
// contracts in process, pkg/store/postgres on pgx.
package store

import (
	"context"
	"time"

	"github.com/foresight-labs/foresight/pkg/models"
)

// TargetRepository provides access to predictable targets.
type TargetRepository interface {
	Create(ctx context.Context, target *models.Target) error
	// FindByID returns ErrNotFound when the target does not exist.
	FindByID(ctx context.Context, id string) (*models.Target, error)
	FindAllActive(ctx context.Context) ([]*models.Target, error)
	FindBySymbol(ctx context.Context, universeID, symbol string) (*models.Target, error)
	FindActiveByUniverse(ctx context.Context, universeID string) ([]*models.Target, error)
}

// ArticleRepository stores crawled articles. Create enforces the
// (source_id, content_hash) unique constraint and returns ErrDuplicate on
// replays, making ingestion idempotent.
type ArticleRepository interface {
	Create(ctx context.Context, article *models.Article) error
	FindByID(ctx context.Context, id string) (*models.Article, error)
}

// SignalRepository stores append-only signals.
type SignalRepository interface {
	Create(ctx context.Context, signal *models.Signal) error
	FindByTarget(ctx context.Context, targetID string, limit int) ([]*models.Signal, error)
	// ExistsForArticle reports whether a signal was already extracted for the
	// (target, article content hash) pair. Ingestion uses it to make
	// boundary-inclusive watermark re-reads harmless.
	ExistsForArticle(ctx context.Context, targetID, contentHash string) (bool, error)
}

// SourceSubscriptionRepository manages source feeds and their watermarks.
type SourceSubscriptionRepository interface {
	Create(ctx context.Context, sub *models.SourceSubscription) error
	FindByID(ctx context.Context, id string) (*models.SourceSubscription, error)
	FindActive(ctx context.Context) ([]*models.SourceSubscription, error)
	FindByTarget(ctx context.Context, targetID string) ([]*models.SourceSubscription, error)
	// GetNewArticles returns articles for the subscription's source at or
	// after its watermark, ordered by first_seen_at ascending, capped at
	// limit. The boundary is inclusive; signal-level dedup makes reprocessing
	// the boundary article a no-op.
	GetNewArticles(ctx context.Context, sub *models.SourceSubscription, limit int) ([]*models.Article, error)
	// UpdateWatermark advances last_processed_at. Implementations never move
	// the watermark backwards.
	UpdateWatermark(ctx context.Context, id string, t time.Time) error
}

// PredictorRepository manages the per-target predictor pool rows.
type PredictorRepository interface {
	Create(ctx context.Context, predictor *models.Predictor) error
	FindActiveByTarget(ctx context.Context, targetID string) ([]*models.Predictor, error)
	// ExpireOldPredictors marks active predictors whose expires_at has passed
	// as expired. Idempotent; returns the number of rows transitioned.
	ExpireOldPredictors(ctx context.Context, targetID string, now time.Time) (int, error)
	// ConsumePredictor marks one predictor consumed by a prediction.
	// Idempotent per predictor: re-consuming by the same prediction is a
	// no-op; a predictor already consumed by another prediction is left
	// untouched.
	ConsumePredictor(ctx context.Context, id, predictionID string) error
	FindByIDs(ctx context.Context, ids []string) ([]*models.Predictor, error)
	// CreateTestCopy clones a predictor onto a test scenario.
	CreateTestCopy(ctx context.Context, predictor *models.Predictor, scenarioID string) (*models.Predictor, error)
}

// PredictionFindOptions filters prediction queries.
type PredictionFindOptions struct {
	IncludeTestData bool
	TestScenarioID  string
	TestDataOnly    bool
}

// PredictionRepository manages Tier-3 predictions.
type PredictionRepository interface {
	// Create inserts a prediction. Returns ErrConflict when an active
	// prediction already exists for the same (target_id, analyst_slug).
	Create(ctx context.Context, prediction *models.Prediction) error
	Update(ctx context.Context, prediction *models.Prediction) error
	UpdateAnalystEnsemble(ctx context.Context, id string, ensemble *models.AnalystEnsemble) error
	UpdateStatus(ctx context.Context, id string, status models.PredictionStatus) error
	FindByID(ctx context.Context, id string) (*models.Prediction, error)
	// FindByTarget returns predictions for a target, optionally filtered by
	// status ("" = any), newest first.
	FindByTarget(ctx context.Context, targetID string, status models.PredictionStatus, opts PredictionFindOptions) ([]*models.Prediction, error)
	// FindActiveExpiring returns active predictions with expires_at before
	// the given instant (for the expiry sweep).
	FindActiveExpiring(ctx context.Context, before time.Time) ([]*models.Prediction, error)
}

// SnapshotRepository stores write-once audit snapshots.
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.PredictionSnapshot) error
	FindByPredictionID(ctx context.Context, predictionID string) (*models.PredictionSnapshot, error)
}

// AnalystRepository manages the analyst bench.
type AnalystRepository interface {
	Create(ctx context.Context, analyst *models.Analyst) error
	// Update replaces the stored row (performance status transitions,
	// weight changes). Returns ErrNotFound for unknown IDs.
	Update(ctx context.Context, analyst *models.Analyst) error
	FindBySlug(ctx context.Context, slug string) (*models.Analyst, error)
	// FindActiveByTarget returns the active analyst set for a target.
	FindActiveByTarget(ctx context.Context, targetID string) ([]*models.Analyst, error)
}

// ContextVersionRepository manages fork-scoped analyst context versions.
type ContextVersionRepository interface {
	// Create inserts a version and supersedes the previous is_current row
	// for the same (analyst_id, fork_type).
	Create(ctx context.Context, version *models.AnalystContextVersion) error
	// GetCurrent returns ErrNotFound when no current version exists.
	GetCurrent(ctx context.Context, analystID string, fork models.ForkType) (*models.AnalystContextVersion, error)
	// GetAllCurrent returns the current version per analyst for a fork.
	GetAllCurrent(ctx context.Context, fork models.ForkType) (map[string]*models.AnalystContextVersion, error)
}

// LearningRepository provides distilled lessons for prompt construction.
type LearningRepository interface {
	Create(ctx context.Context, learning *models.Learning) error
	// FindForPrompt returns learnings for an analyst, most recent first,
	// target-scoped rows before global ones.
	FindForPrompt(ctx context.Context, analystSlug, targetID string, limit int) ([]*models.Learning, error)
}

// TargetSnapshotRepository stores the latest market state per target.
type TargetSnapshotRepository interface {
	Upsert(ctx context.Context, snapshot *models.TargetSnapshot) error
	// Latest returns ErrNotFound when the target has no price record.
	Latest(ctx context.Context, targetID string) (*models.TargetSnapshot, error)
}

// UsageRecord is one LLM usage accounting row.
type UsageRecord struct {
	UniverseID   string
	Label        string // "operation:analyst_slug:fork_type"
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	RecordedAt   time.Time
}

// UsageRepository persists LLM usage accounting for the limiter.
type UsageRepository interface {
	Record(ctx context.Context, rec UsageRecord) error
	// TokensSince sums input+output tokens for a universe recorded at or
	// after the given instant.
	TokensSince(ctx context.Context, universeID string, since time.Time) (int64, error)
}

// Store bundles every repository for composition-site wiring.
type Store struct {
	Targets         TargetRepository
	Articles        ArticleRepository
	Signals         SignalRepository
	Subscriptions   SourceSubscriptionRepository
	Predictors      PredictorRepository
	Predictions     PredictionRepository
	Snapshots       SnapshotRepository
	Analysts        AnalystRepository
	ContextVersions ContextVersionRepository
	Learnings       LearningRepository
	TargetSnapshots TargetSnapshotRepository
	Usage           UsageRepository
}
