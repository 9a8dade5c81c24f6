package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
	"github.com/nicktill/costcluster/pkg/storage/memory"
)

func TestRollup(t *testing.T) {
	cells := Rollup([]observation.Observation{
		{Entity: "b", Resource: "r1", Cost: 4},
		{Entity: "a", Resource: "r2", Cost: 1},
		{Entity: "a", Resource: "r1", Cost: 10},
		{Entity: "a", Resource: "r1", Cost: -2},
		{Entity: "a", Resource: "r1", Cost: 6},
	})

	require.Len(t, cells, 3)
	assert.Equal(t, "a", cells[0].Entity)
	assert.Equal(t, "r1", cells[0].Resource)
	assert.Equal(t, "r2", cells[1].Resource)
	assert.Equal(t, "b", cells[2].Entity)

	c := cells[0]
	assert.Equal(t, 14.0, c.Sum)
	assert.Equal(t, uint64(3), c.Count)
	assert.Equal(t, -2.0, c.Min)
	assert.Equal(t, 10.0, c.Max)
	assert.InDelta(t, 14.0/3, c.Average(), 1e-12)
}

func TestRollup_Empty(t *testing.T) {
	assert.Empty(t, Rollup(nil))
	var c Cell
	assert.Equal(t, 0.0, c.Average())
}

func TestAggregator_Load(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, []observation.Observation{
		{Entity: "a", Resource: "r", Cost: 1},
		{Entity: "a", Resource: "r", Cost: 2},
		{Entity: "b", Resource: "r", Cost: 5},
	}))

	cells, err := New(store).Load(ctx, storage.QueryRequest{Entities: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, 3.0, cells[0].Sum)
}

func TestCalculatePercentile(t *testing.T) {
	values := []float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5}

	tests := []struct {
		percentile float64
		expected   float64
	}{
		{0.0, 1.0},
		{0.5, 5.5},
		{0.8, 8.2},
		{0.99, 9.91},
		{1.0, 10.0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, CalculatePercentile(values, tt.percentile), 1e-9, "p=%.2f", tt.percentile)
	}

	// Input is not reordered
	assert.Equal(t, 10.0, values[0])
}

func TestCalculatePercentile_EmptyValues(t *testing.T) {
	assert.Equal(t, 0.0, CalculatePercentile(nil, 0.5))
}
