// Package memory implements the store contracts in process. It backs unit
// tests and local single-node deployments; semantics (unique constraints,
// watermark monotonicity, idempotent consumption) match the postgres
// implementation.
package memory

import (
	"sync"

	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// NewStore creates a fully wired in-memory store.
func NewStore() *store.Store {
	db := &database{
		targets:         make(map[string]*models.Target),
		articles:        make(map[string]*models.Article),
		articleDedup:    make(map[string]string),
		subscriptions:   make(map[string]*models.SourceSubscription),
		predictors:      make(map[string]*models.Predictor),
		predictions:     make(map[string]*models.Prediction),
		snapshots:       make(map[string]*models.PredictionSnapshot),
		analysts:        make(map[string]*models.Analyst),
		contextVersions: make(map[string]*models.AnalystContextVersion),
		targetSnapshots: make(map[string]*models.TargetSnapshot),
	}
	return &store.Store{
		Targets:         &targetRepo{db: db},
		Articles:        &articleRepo{db: db},
		Signals:         &signalRepo{db: db},
		Subscriptions:   &subscriptionRepo{db: db},
		Predictors:      &predictorRepo{db: db},
		Predictions:     &predictionRepo{db: db},
		Snapshots:       &snapshotRepo{db: db},
		Analysts:        &analystRepo{db: db},
		ContextVersions: &contextVersionRepo{db: db},
		Learnings:       &learningRepo{db: db},
		TargetSnapshots: &targetSnapshotRepo{db: db},
		Usage:           &usageRepo{db: db},
	}
}

// database holds all tables behind one mutex. Contention is not a concern at
// in-process test scale; correctness under the spec's concurrency rules is.
type database struct {
	mu sync.RWMutex

	targets         map[string]*models.Target
	articles        map[string]*models.Article
	articleDedup    map[string]string // source_id+"\x00"+content_hash → article id
	signals         []*models.Signal
	subscriptions   map[string]*models.SourceSubscription
	predictors      map[string]*models.Predictor
	predictions     map[string]*models.Prediction
	snapshots       map[string]*models.PredictionSnapshot
	analysts        map[string]*models.Analyst
	contextVersions map[string]*models.AnalystContextVersion
	learnings       []*models.Learning
	targetSnapshots map[string]*models.TargetSnapshot
	usage           []store.UsageRecord
}

func dedupKey(sourceID, contentHash string) string {
	return sourceID + "\x00" + contentHash
}
