package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// --- targets ---

type targetRepo struct {
	pool *pgxpool.Pool
}

const targetColumns = `id, universe_id, symbol, name, target_type, is_active, llm_config, created_at`

func (r *targetRepo) Create(ctx context.Context, target *models.Target) error {
	if target.ID == "" {
		target.ID = uuid.New().String()
	}
	if target.CreatedAt.IsZero() {
		target.CreatedAt = time.Now().UTC()
	}
	llmCfg, err := marshalNullable(target.LLMConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal llm config: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO targets (id, universe_id, symbol, name, target_type, is_active, llm_config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		target.ID, target.UniverseID, target.Symbol, target.Name,
		target.TargetType, target.IsActive, llmCfg, target.CreatedAt)
	if uniqueViolation(err, "") {
		return store.ErrDuplicate
	}
	return err
}

func scanTarget(row pgx.Row) (*models.Target, error) {
	var t models.Target
	var llmCfg []byte
	err := row.Scan(&t.ID, &t.UniverseID, &t.Symbol, &t.Name, &t.TargetType,
		&t.IsActive, &llmCfg, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.LLMConfig, err = unmarshalNullable[models.LLMConfig](llmCfg); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *targetRepo) FindByID(ctx context.Context, id string) (*models.Target, error) {
	t, err := scanTarget(r.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (r *targetRepo) FindAllActive(ctx context.Context) ([]*models.Target, error) {
	return r.queryTargets(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE is_active ORDER BY symbol`)
}

func (r *targetRepo) FindBySymbol(ctx context.Context, universeID, symbol string) (*models.Target, error) {
	t, err := scanTarget(r.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE universe_id = $1 AND lower(symbol) = lower($2)`,
		universeID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (r *targetRepo) FindActiveByUniverse(ctx context.Context, universeID string) ([]*models.Target, error) {
	return r.queryTargets(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE is_active AND universe_id = $1 ORDER BY symbol`,
		universeID)
}

func (r *targetRepo) queryTargets(ctx context.Context, sql string, args ...any) ([]*models.Target, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- articles ---

type articleRepo struct {
	pool *pgxpool.Pool
}

func (r *articleRepo) Create(ctx context.Context, article *models.Article) error {
	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	keyPhrases, err := json.Marshal(article.KeyPhrases)
	if err != nil {
		return fmt.Errorf("failed to marshal key phrases: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO articles (id, source_id, url, title, content, summary,
			first_seen_at, content_hash, fingerprint_hash, key_phrases, is_test)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		article.ID, article.SourceID, article.URL, article.Title, article.Content,
		article.Summary, article.FirstSeenAt, article.ContentHash,
		article.FingerprintHash, keyPhrases, article.IsTest)
	if uniqueViolation(err, "") {
		return store.ErrDuplicate
	}
	return err
}

func (r *articleRepo) FindByID(ctx context.Context, id string) (*models.Article, error) {
	a, err := scanArticle(r.pool.QueryRow(ctx, `
		SELECT id, source_id, url, title, content, summary, first_seen_at,
			content_hash, fingerprint_hash, key_phrases, is_test
		FROM articles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return a, err
}

func scanArticle(row pgx.Row) (*models.Article, error) {
	var a models.Article
	var keyPhrases []byte
	err := row.Scan(&a.ID, &a.SourceID, &a.URL, &a.Title, &a.Content, &a.Summary,
		&a.FirstSeenAt, &a.ContentHash, &a.FingerprintHash, &keyPhrases, &a.IsTest)
	if err != nil {
		return nil, err
	}
	if len(keyPhrases) > 0 {
		if err := json.Unmarshal(keyPhrases, &a.KeyPhrases); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// --- signals ---

type signalRepo struct {
	pool *pgxpool.Pool
}

func (r *signalRepo) Create(ctx context.Context, signal *models.Signal) error {
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	metadata, err := json.Marshal(signal.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal signal metadata: %w", err)
	}
	// content_hash is denormalized out of metadata so the dedup lookup stays
	// on a btree index.
	contentHash, _ := signal.Metadata["content_hash"].(string)
	_, err = r.pool.Exec(ctx, `
		INSERT INTO signals (id, target_id, source_id, url, content, direction,
			detected_at, content_hash, metadata, is_test)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		signal.ID, signal.TargetID, signal.SourceID, signal.URL, signal.Content,
		signal.Direction, signal.DetectedAt, contentHash, metadata, signal.IsTest)
	return err
}

func (r *signalRepo) FindByTarget(ctx context.Context, targetID string, limit int) ([]*models.Signal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, target_id, source_id, url, content, direction, detected_at, metadata, is_test
		FROM signals WHERE target_id = $1
		ORDER BY detected_at DESC
		LIMIT NULLIF($2, 0)`, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Signal
	for rows.Next() {
		var s models.Signal
		var metadata []byte
		if err := rows.Scan(&s.ID, &s.TargetID, &s.SourceID, &s.URL, &s.Content,
			&s.Direction, &s.DetectedAt, &metadata, &s.IsTest); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *signalRepo) ExistsForArticle(ctx context.Context, targetID, contentHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM signals WHERE target_id = $1 AND content_hash = $2 AND content_hash <> ''
		)`, targetID, contentHash).Scan(&exists)
	return exists, err
}

// --- source subscriptions ---

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

const subscriptionColumns = `id, source_id, target_ids, keywords_include, keywords_exclude, is_active, last_processed_at`

func (r *subscriptionRepo) Create(ctx context.Context, sub *models.SourceSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	targetIDs, err := json.Marshal(sub.TargetIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal target ids: %w", err)
	}
	include, err := json.Marshal(sub.KeywordsInclude)
	if err != nil {
		return fmt.Errorf("failed to marshal include keywords: %w", err)
	}
	exclude, err := json.Marshal(sub.KeywordsExclude)
	if err != nil {
		return fmt.Errorf("failed to marshal exclude keywords: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO source_subscriptions (id, source_id, target_ids, keywords_include,
			keywords_exclude, is_active, last_processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.SourceID, targetIDs, include, exclude, sub.IsActive, sub.LastProcessedAt)
	if uniqueViolation(err, "") {
		return store.ErrDuplicate
	}
	return err
}

func scanSubscription(row pgx.Row) (*models.SourceSubscription, error) {
	var s models.SourceSubscription
	var targetIDs, include, exclude []byte
	err := row.Scan(&s.ID, &s.SourceID, &targetIDs, &include, &exclude,
		&s.IsActive, &s.LastProcessedAt)
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		data []byte
		dst  *[]string
	}{
		{targetIDs, &s.TargetIDs},
		{include, &s.KeywordsInclude},
		{exclude, &s.KeywordsExclude},
	} {
		if len(pair.data) > 0 {
			if err := json.Unmarshal(pair.data, pair.dst); err != nil {
				return nil, err
			}
		}
	}
	return &s, nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, id string) (*models.SourceSubscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM source_subscriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return s, err
}

func (r *subscriptionRepo) FindActive(ctx context.Context) ([]*models.SourceSubscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM source_subscriptions WHERE is_active ORDER BY id`)
}

func (r *subscriptionRepo) FindByTarget(ctx context.Context, targetID string) ([]*models.SourceSubscription, error) {
	return r.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM source_subscriptions
		WHERE target_ids @> to_jsonb($1::text) ORDER BY id`, targetID)
}

func (r *subscriptionRepo) querySubscriptions(ctx context.Context, sql string, args ...any) ([]*models.SourceSubscription, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SourceSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *subscriptionRepo) GetNewArticles(ctx context.Context, sub *models.SourceSubscription, limit int) ([]*models.Article, error) {
	// The watermark boundary is inclusive; signal-level dedup makes rereads
	// of the boundary article harmless.
	rows, err := r.pool.Query(ctx, `
		SELECT id, source_id, url, title, content, summary, first_seen_at,
			content_hash, fingerprint_hash, key_phrases, is_test
		FROM articles
		WHERE source_id = $1 AND ($2::timestamptz IS NULL OR first_seen_at >= $2)
		ORDER BY first_seen_at ASC
		LIMIT NULLIF($3, 0)`, sub.SourceID, sub.LastProcessedAt, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *subscriptionRepo) UpdateWatermark(ctx context.Context, id string, t time.Time) error {
	// Watermarks never move backwards.
	tag, err := r.pool.Exec(ctx, `
		UPDATE source_subscriptions SET last_processed_at = $2
		WHERE id = $1 AND (last_processed_at IS NULL OR last_processed_at < $2)`, id, t)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM source_subscriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

// --- predictors ---

type predictorRepo struct {
	pool *pgxpool.Pool
}

const predictorColumns = `id, target_id, article_id, analyst_slug, direction, strength,
	confidence, reasoning, status, consumed_by_prediction_id, expires_at, created_at, is_test`

func (r *predictorRepo) Create(ctx context.Context, predictor *models.Predictor) error {
	if predictor.ID == "" {
		predictor.ID = uuid.New().String()
	}
	if predictor.Status == "" {
		predictor.Status = models.PredictorActive
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO predictors (id, target_id, article_id, analyst_slug, direction,
			strength, confidence, reasoning, status, consumed_by_prediction_id,
			expires_at, created_at, is_test)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		predictor.ID, predictor.TargetID, predictor.ArticleID, predictor.AnalystSlug,
		predictor.Direction, predictor.Strength, predictor.Confidence,
		predictor.Reasoning, predictor.Status, predictor.ConsumedByPredictionID,
		predictor.ExpiresAt, predictor.CreatedAt, predictor.IsTest)
	if uniqueViolation(err, "") {
		return store.ErrDuplicate
	}
	return err
}

func scanPredictor(row pgx.Row) (*models.Predictor, error) {
	var p models.Predictor
	err := row.Scan(&p.ID, &p.TargetID, &p.ArticleID, &p.AnalystSlug, &p.Direction,
		&p.Strength, &p.Confidence, &p.Reasoning, &p.Status,
		&p.ConsumedByPredictionID, &p.ExpiresAt, &p.CreatedAt, &p.IsTest)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *predictorRepo) FindActiveByTarget(ctx context.Context, targetID string) ([]*models.Predictor, error) {
	return r.queryPredictors(ctx, `
		SELECT `+predictorColumns+` FROM predictors
		WHERE target_id = $1 AND status = 'active'
		ORDER BY created_at ASC`, targetID)
}

func (r *predictorRepo) ExpireOldPredictors(ctx context.Context, targetID string, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE predictors SET status = 'expired'
		WHERE target_id = $1 AND status = 'active' AND expires_at < $2`, targetID, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *predictorRepo) ConsumePredictor(ctx context.Context, id, predictionID string) error {
	// Consumption is terminal; a predictor already consumed (by this or any
	// other prediction) is left untouched.
	tag, err := r.pool.Exec(ctx, `
		UPDATE predictors SET status = 'consumed', consumed_by_prediction_id = $2
		WHERE id = $1 AND status <> 'consumed'`, id, predictionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM predictors WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func (r *predictorRepo) FindByIDs(ctx context.Context, ids []string) ([]*models.Predictor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryPredictors(ctx,
		`SELECT `+predictorColumns+` FROM predictors WHERE id = ANY($1) ORDER BY created_at ASC`, ids)
}

func (r *predictorRepo) CreateTestCopy(ctx context.Context, predictor *models.Predictor, _ string) (*models.Predictor, error) {
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

func (r *predictorRepo) queryPredictors(ctx context.Context, sql string, args ...any) ([]*models.Predictor, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Predictor
	for rows.Next() {
		p, err := scanPredictor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- predictions ---

type predictionRepo struct {
	pool *pgxpool.Pool
}

const predictionColumns = `id, target_id, direction, magnitude, confidence, timeframe_hours,
	expires_at, predicted_at, updated_at, reasoning, analyst_ensemble, llm_ensemble,
	status, analyst_slug, is_arbitrator, context_versions, outcome, is_test, test_scenario_id`

func (r *predictionRepo) Create(ctx context.Context, prediction *models.Prediction) error {
	if prediction.ID == "" {
		prediction.ID = uuid.New().String()
	}
	if prediction.Status == "" {
		prediction.Status = models.PredictionActive
	}
	analystEnsemble, llmEnsemble, contextVersions, outcome, err := marshalPredictionDocs(prediction)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO predictions (`+predictionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		prediction.ID, prediction.TargetID, prediction.Direction, prediction.Magnitude,
		prediction.Confidence, prediction.TimeframeHours, prediction.ExpiresAt,
		prediction.PredictedAt, prediction.UpdatedAt, prediction.Reasoning,
		analystEnsemble, llmEnsemble, prediction.Status, prediction.AnalystSlug,
		prediction.IsArbitrator, contextVersions, outcome, prediction.IsTest,
		prediction.TestScenarioID)
	if uniqueViolation(err, "predictions_one_active_per_slug") {
		return store.ErrConflict
	}
	if uniqueViolation(err, "") {
		return store.ErrDuplicate
	}
	return err
}

func (r *predictionRepo) Update(ctx context.Context, prediction *models.Prediction) error {
	analystEnsemble, llmEnsemble, contextVersions, outcome, err := marshalPredictionDocs(prediction)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE predictions SET
			direction = $2, magnitude = $3, confidence = $4, timeframe_hours = $5,
			expires_at = $6, predicted_at = $7, updated_at = $8, reasoning = $9,
			analyst_ensemble = $10, llm_ensemble = $11, status = $12,
			analyst_slug = $13, is_arbitrator = $14, context_versions = $15,
			outcome = $16, is_test = $17, test_scenario_id = $18
		WHERE id = $1`,
		prediction.ID, prediction.Direction, prediction.Magnitude,
		prediction.Confidence, prediction.TimeframeHours, prediction.ExpiresAt,
		prediction.PredictedAt, prediction.UpdatedAt, prediction.Reasoning,
		analystEnsemble, llmEnsemble, prediction.Status, prediction.AnalystSlug,
		prediction.IsArbitrator, contextVersions, outcome, prediction.IsTest,
		prediction.TestScenarioID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *predictionRepo) UpdateAnalystEnsemble(ctx context.Context, id string, ensemble *models.AnalystEnsemble) error {
	data, err := marshalNullable(ensemble)
	if err != nil {
		return fmt.Errorf("failed to marshal analyst ensemble: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE predictions SET analyst_ensemble = $2 WHERE id = $1`, id, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *predictionRepo) UpdateStatus(ctx context.Context, id string, status models.PredictionStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE predictions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *predictionRepo) FindByID(ctx context.Context, id string) (*models.Prediction, error) {
	p, err := scanPrediction(r.pool.QueryRow(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (r *predictionRepo) FindByTarget(ctx context.Context, targetID string, status models.PredictionStatus, opts store.PredictionFindOptions) ([]*models.Prediction, error) {
	return r.queryPredictions(ctx, `
		SELECT `+predictionColumns+` FROM predictions
		WHERE target_id = $1
			AND ($2 = '' OR status = $2)
			AND (NOT $3::boolean OR is_test)
			AND ($3::boolean OR $4::boolean OR NOT is_test)
			AND ($5 = '' OR test_scenario_id = $5)
		ORDER BY predicted_at DESC`,
		targetID, string(status), opts.TestDataOnly, opts.IncludeTestData, opts.TestScenarioID)
}

func (r *predictionRepo) FindActiveExpiring(ctx context.Context, before time.Time) ([]*models.Prediction, error) {
	return r.queryPredictions(ctx, `
		SELECT `+predictionColumns+` FROM predictions
		WHERE status = 'active' AND expires_at < $1`, before)
}

func marshalPredictionDocs(p *models.Prediction) (analystEnsemble, llmEnsemble, contextVersions, outcome []byte, err error) {
	if analystEnsemble, err = marshalNullable(p.AnalystEnsemble); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal analyst ensemble: %w", err)
	}
	if llmEnsemble, err = marshalNullable(p.LLMEnsemble); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal llm ensemble: %w", err)
	}
	if contextVersions, err = marshalNullable(p.ContextVersions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal context versions: %w", err)
	}
	if outcome, err = marshalNullable(p.Outcome); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return analystEnsemble, llmEnsemble, contextVersions, outcome, nil
}

func scanPrediction(row pgx.Row) (*models.Prediction, error) {
	var p models.Prediction
	var analystEnsemble, llmEnsemble, contextVersions, outcome []byte
	err := row.Scan(&p.ID, &p.TargetID, &p.Direction, &p.Magnitude, &p.Confidence,
		&p.TimeframeHours, &p.ExpiresAt, &p.PredictedAt, &p.UpdatedAt, &p.Reasoning,
		&analystEnsemble, &llmEnsemble, &p.Status, &p.AnalystSlug, &p.IsArbitrator,
		&contextVersions, &outcome, &p.IsTest, &p.TestScenarioID)
	if err != nil {
		return nil, err
	}
	if p.AnalystEnsemble, err = unmarshalNullable[models.AnalystEnsemble](analystEnsemble); err != nil {
		return nil, err
	}
	if p.LLMEnsemble, err = unmarshalNullable[models.LLMEnsemble](llmEnsemble); err != nil {
		return nil, err
	}
	if p.ContextVersions, err = unmarshalNullable[models.ContextVersionRefs](contextVersions); err != nil {
		return nil, err
	}
	if p.Outcome, err = unmarshalNullable[models.PredictionOutcome](outcome); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *predictionRepo) queryPredictions(ctx context.Context, sql string, args ...any) ([]*models.Prediction, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- snapshots ---

type snapshotRepo struct {
	pool *pgxpool.Pool
}

func (r *snapshotRepo) Create(ctx context.Context, snapshot *models.PredictionSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	// Write-once: one snapshot per prediction, no update path exists.
	_, err = r.pool.Exec(ctx, `
		INSERT INTO prediction_snapshots (id, prediction_id, data, created_at)
		VALUES ($1, $2, $3, $4)`,
		snapshot.ID, snapshot.PredictionID, data, snapshot.CreatedAt)
	if uniqueViolation(err, "") {
		return store.ErrDuplicate
	}
	return err
}

func (r *snapshotRepo) FindByPredictionID(ctx context.Context, predictionID string) (*models.PredictionSnapshot, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM prediction_snapshots WHERE prediction_id = $1`, predictionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s models.PredictionSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
