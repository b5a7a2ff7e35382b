package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// --- targets ---

type targetRepo struct {
	db *database
}

func (r *targetRepo) Create(_ context.Context, target *models.Target) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	if _, exists := r.db.targets[target.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *target
	r.db.targets[target.ID] = &cp
	return nil
}

func (r *targetRepo) FindByID(_ context.Context, id string) (*models.Target, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.targets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *targetRepo) FindAllActive(_ context.Context) ([]*models.Target, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Target
	for _, t := range r.db.targets {
		if t.IsActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (r *targetRepo) FindBySymbol(_ context.Context, universeID, symbol string) (*models.Target, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, t := range r.db.targets {
		if t.UniverseID == universeID && strings.EqualFold(t.Symbol, symbol) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *targetRepo) FindActiveByUniverse(_ context.Context, universeID string) ([]*models.Target, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Target
	for _, t := range r.db.targets {
		if t.IsActive && t.UniverseID == universeID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// --- articles ---

type articleRepo struct {
	db *database
}

func (r *articleRepo) Create(_ context.Context, article *models.Article) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := dedupKey(article.SourceID, article.ContentHash)
	if _, exists := r.db.articleDedup[key]; exists {
		return store.ErrDuplicate
	}
	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	cp := *article
	r.db.articles[article.ID] = &cp
	r.db.articleDedup[key] = article.ID
	return nil
}

func (r *articleRepo) FindByID(_ context.Context, id string) (*models.Article, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.articles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// --- signals ---

type signalRepo struct {
	db *database
}

func (r *signalRepo) Create(_ context.Context, signal *models.Signal) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	cp := *signal
	r.db.signals = append(r.db.signals, &cp)
	return nil
}

func (r *signalRepo) FindByTarget(_ context.Context, targetID string, limit int) ([]*models.Signal, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Signal
	for i := len(r.db.signals) - 1; i >= 0; i-- {
		if r.db.signals[i].TargetID == targetID {
			cp := *r.db.signals[i]
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *signalRepo) ExistsForArticle(_ context.Context, targetID, contentHash string) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, s := range r.db.signals {
		if s.TargetID != targetID {
			continue
		}
		if hash, ok := s.Metadata["content_hash"].(string); ok && hash == contentHash {
			return true, nil
		}
	}
	return false, nil
}

// --- source subscriptions ---

type subscriptionRepo struct {
	db *database
}

func (r *subscriptionRepo) Create(_ context.Context, sub *models.SourceSubscription) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if _, exists := r.db.subscriptions[sub.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *sub
	r.db.subscriptions[sub.ID] = &cp
	return nil
}

func (r *subscriptionRepo) FindByID(_ context.Context, id string) (*models.SourceSubscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.subscriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *subscriptionRepo) FindActive(_ context.Context) ([]*models.SourceSubscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.SourceSubscription
	for _, s := range r.db.subscriptions {
		if s.IsActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *subscriptionRepo) FindByTarget(_ context.Context, targetID string) ([]*models.SourceSubscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.SourceSubscription
	for _, s := range r.db.subscriptions {
		for _, tid := range s.TargetIDs {
			if tid == targetID {
				cp := *s
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *subscriptionRepo) GetNewArticles(_ context.Context, sub *models.SourceSubscription, limit int) ([]*models.Article, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Article
	for _, a := range r.db.articles {
		if a.SourceID != sub.SourceID {
			continue
		}
		// Inclusive at the watermark boundary; downstream dedup covers rereads.
		if sub.LastProcessedAt != nil && a.FirstSeenAt.Before(*sub.LastProcessedAt) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	// Ascending first_seen_at so watermarks advance correctly.
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *subscriptionRepo) UpdateWatermark(_ context.Context, id string, t time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.subscriptions[id]
	if !ok {
		return store.ErrNotFound
	}
	// Watermarks never move backwards.
	if s.LastProcessedAt != nil && !t.After(*s.LastProcessedAt) {
		return nil
	}
	cp := t
	s.LastProcessedAt = &cp
	return nil
}

// --- predictors ---

type predictorRepo struct {
	db *database
}

func (r *predictorRepo) Create(_ context.Context, predictor *models.Predictor) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if predictor.ID == "" {
		predictor.ID = uuid.New().String()
	}
	if predictor.Status == "" {
		predictor.Status = models.PredictorActive
	}
	cp := *predictor
	r.db.predictors[predictor.ID] = &cp
	return nil
}

func (r *predictorRepo) FindActiveByTarget(_ context.Context, targetID string) ([]*models.Predictor, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Predictor
	for _, p := range r.db.predictors {
		if p.TargetID == targetID && p.Status == models.PredictorActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *predictorRepo) ExpireOldPredictors(_ context.Context, targetID string, now time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	expired := 0
	for _, p := range r.db.predictors {
		if p.TargetID == targetID && p.Status == models.PredictorActive && p.ExpiresAt.Before(now) {
			p.Status = models.PredictorExpired
			expired++
		}
	}
	return expired, nil
}

func (r *predictorRepo) ConsumePredictor(_ context.Context, id, predictionID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.predictors[id]
	if !ok {
		return store.ErrNotFound
	}
	if p.Status == models.PredictorConsumed {
		// Idempotent for the same prediction; someone else's consumption is
		// left untouched.
		return nil
	}
	p.Status = models.PredictorConsumed
	p.ConsumedByPredictionID = predictionID
	return nil
}

func (r *predictorRepo) FindByIDs(_ context.Context, ids []string) ([]*models.Predictor, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]*models.Predictor, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.db.predictors[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *predictorRepo) CreateTestCopy(ctx context.Context, predictor *models.Predictor, scenarioID string) (*models.Predictor, error) {
	cp := *predictor
	cp.ID = uuid.New().String()
	cp.IsTest = true
	cp.Status = models.PredictorActive
	cp.ConsumedByPredictionID = ""
	if err := r.Create(ctx, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// --- predictions ---

type predictionRepo struct {
	db *database
}

func (r *predictionRepo) Create(_ context.Context, prediction *models.Prediction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if prediction.ID == "" {
		prediction.ID = uuid.New().String()
	}
	if prediction.Status == "" {
		prediction.Status = models.PredictionActive
	}
	// At most one active prediction per (target, analyst_slug).
	if prediction.Status == models.PredictionActive {
		for _, existing := range r.db.predictions {
			if existing.TargetID == prediction.TargetID &&
				existing.AnalystSlug == prediction.AnalystSlug &&
				existing.Status == models.PredictionActive &&
				existing.IsTest == prediction.IsTest {
				return store.ErrConflict
			}
		}
	}
	cp := clonePrediction(prediction)
	r.db.predictions[prediction.ID] = cp
	return nil
}

func (r *predictionRepo) Update(_ context.Context, prediction *models.Prediction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.predictions[prediction.ID]; !ok {
		return store.ErrNotFound
	}
	r.db.predictions[prediction.ID] = clonePrediction(prediction)
	return nil
}

func (r *predictionRepo) UpdateAnalystEnsemble(_ context.Context, id string, ensemble *models.AnalystEnsemble) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.predictions[id]
	if !ok {
		return store.ErrNotFound
	}
	cp := *ensemble
	p.AnalystEnsemble = &cp
	return nil
}

func (r *predictionRepo) UpdateStatus(_ context.Context, id string, status models.PredictionStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.predictions[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

func (r *predictionRepo) FindByID(_ context.Context, id string) (*models.Prediction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.predictions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePrediction(p), nil
}

func (r *predictionRepo) FindByTarget(_ context.Context, targetID string, status models.PredictionStatus, opts store.PredictionFindOptions) ([]*models.Prediction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Prediction
	for _, p := range r.db.predictions {
		if p.TargetID != targetID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		if opts.TestDataOnly && !p.IsTest {
			continue
		}
		if !opts.IncludeTestData && !opts.TestDataOnly && p.IsTest {
			continue
		}
		if opts.TestScenarioID != "" && p.TestScenarioID != opts.TestScenarioID {
			continue
		}
		out = append(out, clonePrediction(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PredictedAt.After(out[j].PredictedAt) })
	return out, nil
}

func (r *predictionRepo) FindActiveExpiring(_ context.Context, before time.Time) ([]*models.Prediction, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Prediction
	for _, p := range r.db.predictions {
		if p.Status == models.PredictionActive && p.ExpiresAt.Before(before) {
			out = append(out, clonePrediction(p))
		}
	}
	return out, nil
}

func clonePrediction(p *models.Prediction) *models.Prediction {
	cp := *p
	if p.AnalystEnsemble != nil {
		ae := *p.AnalystEnsemble
		ae.Versions = append([]models.PredictionVersion(nil), p.AnalystEnsemble.Versions...)
		cp.AnalystEnsemble = &ae
	}
	if p.LLMEnsemble != nil {
		le := *p.LLMEnsemble
		cp.LLMEnsemble = &le
	}
	if p.ContextVersions != nil {
		cv := *p.ContextVersions
		cp.ContextVersions = &cv
	}
	if p.Outcome != nil {
		o := *p.Outcome
		cp.Outcome = &o
	}
	return &cp
}

// --- snapshots ---

type snapshotRepo struct {
	db *database
}

func (r *snapshotRepo) Create(_ context.Context, snapshot *models.PredictionSnapshot) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	// Write-once: one snapshot per prediction.
	for _, existing := range r.db.snapshots {
		if existing.PredictionID == snapshot.PredictionID {
			return store.ErrDuplicate
		}
	}
	cp := *snapshot
	r.db.snapshots[snapshot.ID] = &cp
	return nil
}

func (r *snapshotRepo) FindByPredictionID(_ context.Context, predictionID string) (*models.PredictionSnapshot, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, s := range r.db.snapshots {
		if s.PredictionID == predictionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}
