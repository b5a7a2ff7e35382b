// Package analyst manages the active analyst bench and fork-scoped context
// versions, including deterministic arbitrator context synthesis.
package analyst

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// Registry exposes the active analyst set per target and their current
// context versions.
type Registry struct {
	analysts store.AnalystRepository
	versions store.ContextVersionRepository
	weights  map[string]float64 // slug → configured weight override
	now      func() time.Time
}

// NewRegistry creates a registry over the analyst repositories.
// weightOverrides comes from ensemble config and may be nil.
func NewRegistry(analysts store.AnalystRepository, versions store.ContextVersionRepository, weightOverrides map[string]float64) *Registry {
	if analysts == nil {
		panic("NewRegistry: analysts must not be nil")
	}
	if versions == nil {
		panic("NewRegistry: versions must not be nil")
	}
	return &Registry{
		analysts: analysts,
		versions: versions,
		weights:  weightOverrides,
		now:      time.Now,
	}
}

// GetActiveAnalysts returns the active analyst set for a target with
// configured weight overrides applied.
func (r *Registry) GetActiveAnalysts(ctx context.Context, targetID string) ([]*models.Analyst, error) {
	analysts, err := r.analysts.FindActiveByTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active analysts: %w", err)
	}
	for _, a := range analysts {
		if w, ok := r.weights[a.Slug]; ok && w > 0 {
			a.Weight = w
		}
	}
	return analysts, nil
}

// GetCurrentContextVersion returns the current context version for an
// analyst and fork. For the arbitrator fork a stored version wins; when none
// exists one is synthesized from the user and ai versions.
func (r *Registry) GetCurrentContextVersion(ctx context.Context, analystID string, fork models.ForkType) (*models.AnalystContextVersion, error) {
	version, err := r.versions.GetCurrent(ctx, analystID, fork)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load context version: %w", err)
	}
	if fork != models.ForkArbitrator {
		return nil, err
	}

	user, uerr := r.versions.GetCurrent(ctx, analystID, models.ForkUser)
	if uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user context version: %w", uerr)
	}
	ai, aerr := r.versions.GetCurrent(ctx, analystID, models.ForkAI)
	if aerr != nil && !errors.Is(aerr, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load ai context version: %w", aerr)
	}
	synth := SynthesizeArbitratorContext(user, ai)
	if synth == nil {
		return nil, store.ErrNotFound
	}
	return synth, nil
}

// GetAllCurrentContextVersions returns the current version per analyst for a
// fork. For the arbitrator fork, analysts without a stored arbitrator row
// get a synthesized one.
func (r *Registry) GetAllCurrentContextVersions(ctx context.Context, fork models.ForkType) (map[string]*models.AnalystContextVersion, error) {
	current, err := r.versions.GetAllCurrent(ctx, fork)
	if err != nil {
		return nil, fmt.Errorf("failed to load context versions: %w", err)
	}
	if fork != models.ForkArbitrator {
		return current, nil
	}

	users, err := r.versions.GetAllCurrent(ctx, models.ForkUser)
	if err != nil {
		return nil, fmt.Errorf("failed to load user context versions: %w", err)
	}
	ais, err := r.versions.GetAllCurrent(ctx, models.ForkAI)
	if err != nil {
		return nil, fmt.Errorf("failed to load ai context versions: %w", err)
	}

	for analystID := range users {
		if _, ok := current[analystID]; ok {
			continue
		}
		if synth := SynthesizeArbitratorContext(users[analystID], ais[analystID]); synth != nil {
			current[analystID] = synth
		}
	}
	for analystID := range ais {
		if _, ok := current[analystID]; ok {
			continue
		}
		if synth := SynthesizeArbitratorContext(nil, ais[analystID]); synth != nil {
			current[analystID] = synth
		}
	}
	return current, nil
}

// CreateContextVersion stores a new version, superseding the previous
// current row for the same (analyst, fork).
func (r *Registry) CreateContextVersion(ctx context.Context, version *models.AnalystContextVersion) (*models.AnalystContextVersion, error) {
	if version.AnalystID == "" {
		return nil, fmt.Errorf("context version requires analyst_id")
	}
	if !version.ForkType.IsValid() {
		return nil, fmt.Errorf("invalid fork type %q", version.ForkType)
	}
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = r.now().UTC()
	}
	if err := r.versions.Create(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to create context version: %w", err)
	}
	return version, nil
}

// SeedBuiltinAnalysts inserts the configured analyst bench for stores that
// have none. Existing slugs are left untouched.
func (r *Registry) SeedBuiltinAnalysts(ctx context.Context, bench []config.AnalystConfig) error {
	for _, cfg := range bench {
		_, err := r.analysts.FindBySlug(ctx, cfg.Slug)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to check analyst %s: %w", cfg.Slug, err)
		}
		a := &models.Analyst{
			ID:                uuid.New().String(),
			Slug:              cfg.Slug,
			Name:              cfg.Name,
			Perspective:       cfg.Perspective,
			Weight:            cfg.Weight,
			Tier:              cfg.Tier,
			IsActive:          true,
			PerformanceStatus: models.PerformanceActive,
		}
		if err := r.analysts.Create(ctx, a); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("failed to seed analyst %s: %w", cfg.Slug, err)
		}
	}
	return nil
}
