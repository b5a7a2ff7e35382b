package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// --- analysts ---

type analystRepo struct {
	db *database
}

func (r *analystRepo) Create(_ context.Context, analyst *models.Analyst) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if analyst.ID == "" {
		analyst.ID = uuid.New().String()
	}
	for _, existing := range r.db.analysts {
		if existing.Slug == analyst.Slug {
			return store.ErrDuplicate
		}
	}
	cp := *analyst
	r.db.analysts[analyst.ID] = &cp
	return nil
}

func (r *analystRepo) Update(_ context.Context, analyst *models.Analyst) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.analysts[analyst.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *analyst
	r.db.analysts[analyst.ID] = &cp
	return nil
}

func (r *analystRepo) FindBySlug(_ context.Context, slug string) (*models.Analyst, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, a := range r.db.analysts {
		if a.Slug == slug {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *analystRepo) FindActiveByTarget(_ context.Context, _ string) ([]*models.Analyst, error) {
	// The bench is universe-wide; per-target assignment filtering lives in
	// the registry when targets carry analyst overrides.
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Analyst
	for _, a := range r.db.analysts {
		if a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// --- context versions ---

type contextVersionRepo struct {
	db *database
}

func (r *contextVersionRepo) Create(_ context.Context, version *models.AnalystContextVersion) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	// Supersede the previous current row for this (analyst, fork).
	for _, existing := range r.db.contextVersions {
		if existing.AnalystID == version.AnalystID && existing.ForkType == version.ForkType && existing.IsCurrent {
			existing.IsCurrent = false
		}
	}
	version.IsCurrent = true
	cp := *version
	r.db.contextVersions[version.ID] = &cp
	return nil
}

func (r *contextVersionRepo) GetCurrent(_ context.Context, analystID string, fork models.ForkType) (*models.AnalystContextVersion, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, v := range r.db.contextVersions {
		if v.AnalystID == analystID && v.ForkType == fork && v.IsCurrent {
			cp := *v
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *contextVersionRepo) GetAllCurrent(_ context.Context, fork models.ForkType) (map[string]*models.AnalystContextVersion, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make(map[string]*models.AnalystContextVersion)
	for _, v := range r.db.contextVersions {
		if v.ForkType == fork && v.IsCurrent {
			cp := *v
			out[v.AnalystID] = &cp
		}
	}
	return out, nil
}

// --- learnings ---

type learningRepo struct {
	db *database
}

func (r *learningRepo) Create(_ context.Context, learning *models.Learning) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if learning.ID == "" {
		learning.ID = uuid.New().String()
	}
	cp := *learning
	r.db.learnings = append(r.db.learnings, &cp)
	return nil
}

func (r *learningRepo) FindForPrompt(_ context.Context, analystSlug, targetID string, limit int) ([]*models.Learning, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var scoped, global []*models.Learning
	for _, l := range r.db.learnings {
		if l.AnalystSlug != analystSlug {
			continue
		}
		cp := *l
		switch l.TargetID {
		case targetID:
			scoped = append(scoped, &cp)
		case "":
			global = append(global, &cp)
		}
	}
	newestFirst := func(ls []*models.Learning) {
		sort.Slice(ls, func(i, j int) bool { return ls[i].CreatedAt.After(ls[j].CreatedAt) })
	}
	newestFirst(scoped)
	newestFirst(global)
	out := append(scoped, global...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- target snapshots ---

type targetSnapshotRepo struct {
	db *database
}

func (r *targetSnapshotRepo) Upsert(_ context.Context, snapshot *models.TargetSnapshot) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *snapshot
	r.db.targetSnapshots[snapshot.TargetID] = &cp
	return nil
}

func (r *targetSnapshotRepo) Latest(_ context.Context, targetID string) (*models.TargetSnapshot, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.targetSnapshots[targetID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// --- usage ---

type usageRepo struct {
	db *database
}

func (r *usageRepo) Record(_ context.Context, rec store.UsageRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	r.db.usage = append(r.db.usage, rec)
	return nil
}

func (r *usageRepo) TokensSince(_ context.Context, universeID string, since time.Time) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var total int64
	for _, rec := range r.db.usage {
		if rec.UniverseID == universeID && !rec.RecordedAt.Before(since) {
			total += rec.InputTokens + rec.OutputTokens
		}
	}
	return total, nil
}
