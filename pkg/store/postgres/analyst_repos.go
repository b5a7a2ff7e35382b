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

// --- analysts ---

type analystRepo struct {
	pool *pgxpool.Pool
}

const analystColumns = `id, slug, name, perspective, weight, tier, is_active,
	performance_status, motivation_factor, llm_config`

func (r *analystRepo) Create(ctx context.Context, analyst *models.Analyst) error {
	if analyst.ID == "" {
		analyst.ID = uuid.New().String()
	}
	llmCfg, err := marshalNullable(analyst.LLMConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal llm config: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO analysts (id, slug, name, perspective, weight, tier, is_active,
			performance_status, motivation_factor, llm_config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		analyst.ID, analyst.Slug, analyst.Name, analyst.Perspective, analyst.Weight,
		analyst.Tier, analyst.IsActive, analyst.PerformanceStatus,
		analyst.MotivationFactor, llmCfg)
	if uniqueViolation(err, "") {
		return store.ErrDuplicate
	}
	return err
}

func (r *analystRepo) Update(ctx context.Context, analyst *models.Analyst) error {
	llmCfg, err := marshalNullable(analyst.LLMConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal llm config: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE analysts SET slug = $2, name = $3, perspective = $4, weight = $5,
			tier = $6, is_active = $7, performance_status = $8,
			motivation_factor = $9, llm_config = $10
		WHERE id = $1`,
		analyst.ID, analyst.Slug, analyst.Name, analyst.Perspective, analyst.Weight,
		analyst.Tier, analyst.IsActive, analyst.PerformanceStatus,
		analyst.MotivationFactor, llmCfg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanAnalyst(row pgx.Row) (*models.Analyst, error) {
	var a models.Analyst
	var llmCfg []byte
	err := row.Scan(&a.ID, &a.Slug, &a.Name, &a.Perspective, &a.Weight, &a.Tier,
		&a.IsActive, &a.PerformanceStatus, &a.MotivationFactor, &llmCfg)
	if err != nil {
		return nil, err
	}
	if a.LLMConfig, err = unmarshalNullable[models.LLMConfig](llmCfg); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *analystRepo) FindBySlug(ctx context.Context, slug string) (*models.Analyst, error) {
	a, err := scanAnalyst(r.pool.QueryRow(ctx,
		`SELECT `+analystColumns+` FROM analysts WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return a, err
}

func (r *analystRepo) FindActiveByTarget(ctx context.Context, _ string) ([]*models.Analyst, error) {
	// The bench is universe-wide; per-target assignment filtering lives in
	// the registry when targets carry analyst overrides.
	rows, err := r.pool.Query(ctx,
		`SELECT `+analystColumns+` FROM analysts WHERE is_active ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Analyst
	for rows.Next() {
		a, err := scanAnalyst(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- context versions ---

type contextVersionRepo struct {
	pool *pgxpool.Pool
}

const contextVersionColumns = `id, analyst_id, fork_type, perspective, tier_instructions,
	default_weight, version_number, is_current, agent_journal, changed_by, created_at`

func (r *contextVersionRepo) Create(ctx context.Context, version *models.AnalystContextVersion) error {
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	version.IsCurrent = true
	tierInstructions, err := json.Marshal(version.TierInstructions)
	if err != nil {
		return fmt.Errorf("failed to marshal tier instructions: %w", err)
	}

	// Supersede the previous current row for this (analyst, fork) in the
	// same transaction as the insert, so the partial unique index holds.
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE analyst_context_versions SET is_current = FALSE
		WHERE analyst_id = $1 AND fork_type = $2 AND is_current`,
		version.AnalystID, version.ForkType); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO analyst_context_versions (id, analyst_id, fork_type, perspective,
			tier_instructions, default_weight, version_number, is_current,
			agent_journal, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10)`,
		version.ID, version.AnalystID, version.ForkType, version.Perspective,
		tierInstructions, version.DefaultWeight, version.VersionNumber,
		version.AgentJournal, version.ChangedBy, version.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanContextVersion(row pgx.Row) (*models.AnalystContextVersion, error) {
	var v models.AnalystContextVersion
	var tierInstructions []byte
	err := row.Scan(&v.ID, &v.AnalystID, &v.ForkType, &v.Perspective,
		&tierInstructions, &v.DefaultWeight, &v.VersionNumber, &v.IsCurrent,
		&v.AgentJournal, &v.ChangedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(tierInstructions) > 0 {
		if err := json.Unmarshal(tierInstructions, &v.TierInstructions); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func (r *contextVersionRepo) GetCurrent(ctx context.Context, analystID string, fork models.ForkType) (*models.AnalystContextVersion, error) {
	v, err := scanContextVersion(r.pool.QueryRow(ctx, `
		SELECT `+contextVersionColumns+` FROM analyst_context_versions
		WHERE analyst_id = $1 AND fork_type = $2 AND is_current`, analystID, fork))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return v, err
}

func (r *contextVersionRepo) GetAllCurrent(ctx context.Context, fork models.ForkType) (map[string]*models.AnalystContextVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contextVersionColumns+` FROM analyst_context_versions
		WHERE fork_type = $1 AND is_current`, fork)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*models.AnalystContextVersion)
	for rows.Next() {
		v, err := scanContextVersion(rows)
		if err != nil {
			return nil, err
		}
		out[v.AnalystID] = v
	}
	return out, rows.Err()
}

// --- learnings ---

type learningRepo struct {
	pool *pgxpool.Pool
}

func (r *learningRepo) Create(ctx context.Context, learning *models.Learning) error {
	if learning.ID == "" {
		learning.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO learnings (id, analyst_slug, target_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		learning.ID, learning.AnalystSlug, learning.TargetID, learning.Content,
		learning.CreatedAt)
	return err
}

func (r *learningRepo) FindForPrompt(ctx context.Context, analystSlug, targetID string, limit int) ([]*models.Learning, error) {
	// Target-scoped rows sort before global ones, newest first within each
	// group.
	rows, err := r.pool.Query(ctx, `
		SELECT id, analyst_slug, target_id, content, created_at FROM learnings
		WHERE analyst_slug = $1 AND (target_id = $2 OR target_id = '')
		ORDER BY (target_id = $2) DESC, created_at DESC
		LIMIT NULLIF($3, 0)`, analystSlug, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Learning
	for rows.Next() {
		var l models.Learning
		if err := rows.Scan(&l.ID, &l.AnalystSlug, &l.TargetID, &l.Content, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// --- target snapshots ---

type targetSnapshotRepo struct {
	pool *pgxpool.Pool
}

func (r *targetSnapshotRepo) Upsert(ctx context.Context, snapshot *models.TargetSnapshot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO target_snapshots (target_id, open, high, low, close, volume,
			change_24h_pct, priced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (target_id) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume,
			change_24h_pct = EXCLUDED.change_24h_pct, priced_at = EXCLUDED.priced_at`,
		snapshot.TargetID, snapshot.Open, snapshot.High, snapshot.Low,
		snapshot.Close, snapshot.Volume, snapshot.Change24hPct, snapshot.PricedAt)
	return err
}

func (r *targetSnapshotRepo) Latest(ctx context.Context, targetID string) (*models.TargetSnapshot, error) {
	var s models.TargetSnapshot
	err := r.pool.QueryRow(ctx, `
		SELECT target_id, open, high, low, close, volume, change_24h_pct, priced_at
		FROM target_snapshots WHERE target_id = $1`, targetID).
		Scan(&s.TargetID, &s.Open, &s.High, &s.Low, &s.Close, &s.Volume,
			&s.Change24hPct, &s.PricedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// --- usage ---

type usageRepo struct {
	pool *pgxpool.Pool
}

func (r *usageRepo) Record(ctx context.Context, rec store.UsageRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO llm_usage (universe_id, label, provider, model, input_tokens,
			output_tokens, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.UniverseID, rec.Label, rec.Provider, rec.Model, rec.InputTokens,
		rec.OutputTokens, rec.RecordedAt)
	return err
}

func (r *usageRepo) TokensSince(ctx context.Context, universeID string, since time.Time) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(input_tokens + output_tokens), 0) FROM llm_usage
		WHERE universe_id = $1 AND recorded_at >= $2`, universeID, since).Scan(&total)
	return total, err
}
