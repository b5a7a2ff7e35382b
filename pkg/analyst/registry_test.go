package analyst

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
	"github.com/foresight-labs/foresight/pkg/store/memory"
)

func newTestRegistry(t *testing.T, weights map[string]float64) (*Registry, *store.Store) {
	t.Helper()
	db := memory.NewStore()
	return NewRegistry(db.Analysts, db.ContextVersions, weights), db
}

func TestSeedBuiltinAnalysts_Idempotent(t *testing.T) {
	registry, db := newTestRegistry(t, nil)
	ctx := context.Background()
	bench := config.BuiltinAnalysts()

	require.NoError(t, registry.SeedBuiltinAnalysts(ctx, bench))
	require.NoError(t, registry.SeedBuiltinAnalysts(ctx, bench), "reseeding is a no-op")

	analysts, err := db.Analysts.FindActiveByTarget(ctx, "target-1")
	require.NoError(t, err)
	assert.Len(t, analysts, len(bench))
	for _, a := range analysts {
		assert.True(t, a.IsActive)
		assert.Equal(t, models.PerformanceActive, a.PerformanceStatus)
	}
}

func TestSeedBuiltinAnalysts_LeavesExistingRowsAlone(t *testing.T) {
	registry, db := newTestRegistry(t, nil)
	ctx := context.Background()

	existing := &models.Analyst{
		ID:                uuid.New().String(),
		Slug:              "technical-analyst",
		Name:              "Customized Technical Analyst",
		Weight:            2.5,
		IsActive:          true,
		PerformanceStatus: models.PerformanceActive,
	}
	require.NoError(t, db.Analysts.Create(ctx, existing))

	require.NoError(t, registry.SeedBuiltinAnalysts(ctx, config.BuiltinAnalysts()))

	got, err := db.Analysts.FindBySlug(ctx, "technical-analyst")
	require.NoError(t, err)
	assert.Equal(t, "Customized Technical Analyst", got.Name)
	assert.Equal(t, 2.5, got.Weight)
}

func TestGetActiveAnalysts_AppliesWeightOverrides(t *testing.T) {
	registry, _ := newTestRegistry(t, map[string]float64{
		"sentiment-analyst": 1.5,
		"macro-analyst":     0, // zero overrides are ignored
	})
	ctx := context.Background()
	require.NoError(t, registry.SeedBuiltinAnalysts(ctx, config.BuiltinAnalysts()))

	analysts, err := registry.GetActiveAnalysts(ctx, "target-1")
	require.NoError(t, err)

	bySlug := map[string]*models.Analyst{}
	for _, a := range analysts {
		bySlug[a.Slug] = a
	}
	assert.Equal(t, 1.5, bySlug["sentiment-analyst"].Weight)
	assert.Equal(t, 1.0, bySlug["macro-analyst"].Weight, "zero override keeps the stored weight")
	assert.Equal(t, 1.2, bySlug["fundamental-analyst"].Weight)
}

func TestCreateContextVersion_SupersedesPrevious(t *testing.T) {
	registry, db := newTestRegistry(t, nil)
	ctx := context.Background()
	analystID := uuid.New().String()

	v1, err := registry.CreateContextVersion(ctx, &models.AnalystContextVersion{
		AnalystID:     analystID,
		ForkType:      models.ForkUser,
		Perspective:   "first take",
		VersionNumber: 1,
		ChangedBy:     "user",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, v1.ID)
	assert.False(t, v1.CreatedAt.IsZero())

	_, err = registry.CreateContextVersion(ctx, &models.AnalystContextVersion{
		AnalystID:     analystID,
		ForkType:      models.ForkUser,
		Perspective:   "second take",
		VersionNumber: 2,
		ChangedBy:     "user",
	})
	require.NoError(t, err)

	current, err := db.ContextVersions.GetCurrent(ctx, analystID, models.ForkUser)
	require.NoError(t, err)
	assert.Equal(t, "second take", current.Perspective)
	assert.Equal(t, 2, current.VersionNumber)
}

func TestCreateContextVersion_Validation(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := registry.CreateContextVersion(ctx, &models.AnalystContextVersion{ForkType: models.ForkUser})
	assert.ErrorContains(t, err, "analyst_id")

	_, err = registry.CreateContextVersion(ctx, &models.AnalystContextVersion{
		AnalystID: uuid.New().String(),
		ForkType:  models.ForkType("referee"),
	})
	assert.ErrorContains(t, err, "invalid fork type")
}

func TestGetCurrentContextVersion_StoredArbitratorWins(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	analystID := uuid.New().String()

	for _, fork := range models.AllForkTypes {
		_, err := registry.CreateContextVersion(ctx, &models.AnalystContextVersion{
			AnalystID:   analystID,
			ForkType:    fork,
			Perspective: "stored " + string(fork),
			ChangedBy:   "user",
		})
		require.NoError(t, err)
	}

	got, err := registry.GetCurrentContextVersion(ctx, analystID, models.ForkArbitrator)
	require.NoError(t, err)
	assert.Equal(t, "stored arbitrator", got.Perspective)
}

func TestGetCurrentContextVersion_SynthesizesArbitrator(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	analystID := uuid.New().String()

	_, err := registry.CreateContextVersion(ctx, &models.AnalystContextVersion{
		AnalystID:     analystID,
		ForkType:      models.ForkUser,
		Perspective:   "user view",
		VersionNumber: 3,
		ChangedBy:     "user",
	})
	require.NoError(t, err)
	_, err = registry.CreateContextVersion(ctx, &models.AnalystContextVersion{
		AnalystID:     analystID,
		ForkType:      models.ForkAI,
		Perspective:   "ai view",
		VersionNumber: 7,
		AgentJournal:  "journal",
		ChangedBy:     "agent",
	})
	require.NoError(t, err)

	got, err := registry.GetCurrentContextVersion(ctx, analystID, models.ForkArbitrator)
	require.NoError(t, err)
	assert.Equal(t, models.ForkArbitrator, got.ForkType)
	assert.Contains(t, got.Perspective, "user view")
	assert.Contains(t, got.Perspective, "ai view")
	assert.Equal(t, 7, got.VersionNumber)
	assert.Equal(t, "journal", got.AgentJournal)
}

func TestGetCurrentContextVersion_NotFound(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := registry.GetCurrentContextVersion(ctx, uuid.New().String(), models.ForkUser)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Arbitrator synthesis with neither side present also reports not found.
	_, err = registry.GetCurrentContextVersion(ctx, uuid.New().String(), models.ForkArbitrator)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetAllCurrentContextVersions_FillsArbitratorGaps(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	stored := uuid.New().String()   // has a real arbitrator version
	userOnly := uuid.New().String() // only a user fork
	aiOnly := uuid.New().String()   // only an ai fork

	seed := []*models.AnalystContextVersion{
		{AnalystID: stored, ForkType: models.ForkArbitrator, Perspective: "explicit", ChangedBy: "user"},
		{AnalystID: userOnly, ForkType: models.ForkUser, Perspective: "user only", ChangedBy: "user"},
		{AnalystID: aiOnly, ForkType: models.ForkAI, Perspective: "ai only", ChangedBy: "agent"},
	}
	for _, v := range seed {
		_, err := registry.CreateContextVersion(ctx, v)
		require.NoError(t, err)
	}

	all, err := registry.GetAllCurrentContextVersions(ctx, models.ForkArbitrator)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "explicit", all[stored].Perspective)
	assert.Equal(t, "user only", all[userOnly].Perspective)
	assert.Equal(t, "ai only", all[aiOnly].Perspective)
}
