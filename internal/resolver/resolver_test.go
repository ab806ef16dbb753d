package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/internal/storage/sqlite"
	"github.com/haverlock/argus/pkg/types"
)

func newTestResolver(t *testing.T) (*Resolver, storage.Store) {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir() + "/argus.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, 0, 0), store
}

func TestInferType(t *testing.T) {
	cases := []struct {
		descriptor string
		want       string
	}{
		{"person walking up the driveway", types.EntityTypePerson},
		{"white delivery van at the curb", types.EntityTypeVehicle},
		{"raccoon near the trash cans", types.EntityTypeAnimal},
		{"package left on the porch", types.EntityTypePackage},
		{"motion detected", types.EntityTypeUnknown},
		{"", types.EntityTypeUnknown},
		// One keyword for each of two types is a tie.
		{"person next to a car", types.EntityTypeUnknown},
		// Two vehicle words beat one person word.
		{"person loading a truck with the van", types.EntityTypeVehicle},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, InferType(tc.descriptor), "descriptor: %q", tc.descriptor)
	}
}

func TestExtractAttributes(t *testing.T) {
	attrs := ExtractAttributes("large white delivery van", types.EntityTypeVehicle)
	assert.Equal(t, map[string]string{"color": "white", "size": "large"}, attrs)

	// Variant spellings collapse.
	attrs = ExtractAttributes("big grey cat", types.EntityTypeAnimal)
	assert.Equal(t, map[string]string{"color": "gray", "size": "large"}, attrs)

	assert.Nil(t, ExtractAttributes("motion detected", types.EntityTypeUnknown))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Degenerate inputs score 0.
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestResolveCreatesNewEntity(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, []float32{1, 0, 0}, "white van in the driveway")
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, types.EntityTypeVehicle, res.Entity.Type)
	assert.Equal(t, "white", res.Attributes["color"])

	// The new entity is persisted with zero occurrences; the ledger
	// increments it when the link is recorded.
	stored, err := store.GetEntity(ctx, res.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.OccurrenceCount)
}

func TestResolveMatchesAboveThreshold(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, []float32{1, 0, 0}, "white van")
	require.NoError(t, err)
	require.True(t, first.IsNew)

	// A nearby vector resolves to the same entity.
	second, err := r.Resolve(ctx, []float32{0.98, 0.05, 0}, "white van again")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Entity.ID, second.Entity.ID)
	assert.GreaterOrEqual(t, second.Score, DefaultThreshold)
}

func TestResolveBelowThresholdCreatesSecondEntity(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, []float32{1, 0, 0}, "white van")
	require.NoError(t, err)

	// Orthogonal vector: similarity 0, well under the threshold.
	second, err := r.Resolve(ctx, []float32{0, 1, 0}, "red truck")
	require.NoError(t, err)
	assert.True(t, second.IsNew)
	assert.NotEqual(t, first.Entity.ID, second.Entity.ID)
}

func TestResolveFallsBackToUnknownPool(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	// Seed an unknown-type entity.
	first, err := r.Resolve(ctx, []float32{1, 0, 0}, "motion detected")
	require.NoError(t, err)
	require.Equal(t, types.EntityTypeUnknown, first.Entity.Type)

	// A vehicle-typed event with the same embedding has no vehicle
	// candidates, so the unknown pool is consulted.
	second, err := r.Resolve(ctx, []float32{1, 0, 0}, "white van")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Entity.ID, second.Entity.ID)
}

func TestResolveRequiresEmbedding(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), nil, "white van")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
