package matrix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/costcluster/pkg/generator"
	"github.com/nicktill/costcluster/pkg/observation"
)

func TestPivot(t *testing.T) {
	m, err := Pivot([]observation.Observation{
		{Entity: "b", Resource: "s3", Cost: 4},
		{Entity: "a", Resource: "rds", Cost: 1},
		{Entity: "a", Resource: "rds", Cost: 2},
		{Entity: "a", Resource: "s3", Cost: 5},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, m.Entities)
	assert.Equal(t, []string{"rds", "s3", TotalColumn}, m.Columns())

	// Unobserved (b, rds) is zero
	want := mat.NewDense(2, 3, []float64{
		3, 5, 8,
		0, 4, 4,
	})
	assert.True(t, mat.Equal(want, m.Data), "got %v", mat.Formatted(m.Data))
	assert.Equal(t, []float64{8, 4}, m.Totals())
	assert.Equal(t, []float64{5, 4}, m.Column("s3"))
	assert.Nil(t, m.Column("missing"))
}

func TestPivot_Empty(t *testing.T) {
	_, err := Pivot(nil)
	assert.ErrorIs(t, err, ErrEmptyMatrix)
}

func TestPivot_TotalIsRowSum(t *testing.T) {
	cfg := generator.Config{
		Entities:        []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9", "e10"},
		Resources:       []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12"},
		Days:            30,
		EntityBaseMin:   500,
		EntityBaseMax:   2000,
		ResourceBaseMin: 50,
		ResourceBaseMax: 500,
		NoiseStdDev:     50,
	}
	m, err := Pivot(generator.Generate(cfg, 42))
	require.NoError(t, err)

	r, c := m.Data.Dims()
	assert.Equal(t, 10, r)
	assert.Equal(t, 13, c)

	for i := 0; i < r; i++ {
		assert.InDelta(t, floats.Sum(m.Data.RawRowView(i)[:12]), m.Total(i), 1e-6)
	}
}

func TestNormalize(t *testing.T) {
	m, err := Pivot([]observation.Observation{
		{Entity: "a", Resource: "x", Cost: 1},
		{Entity: "a", Resource: "y", Cost: 3},
		{Entity: "z", Resource: "x", Cost: 0},
	})
	require.NoError(t, err)

	n := Normalize(m)
	assert.Equal(t, []float64{25, 75, 100}, n.Data.RawRowView(0))
	// Zero total row stays zero rather than NaN
	assert.Equal(t, []float64{0, 0, 0}, n.Data.RawRowView(1))

	// Source is untouched
	assert.Equal(t, 4.0, m.Total(0))
}

func TestNormalize_RowsSumTo100(t *testing.T) {
	cfg := generator.Config{
		Entities:        []string{"a", "b", "c", "d"},
		Resources:       []string{"r1", "r2", "r3"},
		Days:            7,
		EntityBaseMin:   500,
		EntityBaseMax:   2000,
		ResourceBaseMin: 50,
		ResourceBaseMax: 500,
		NoiseStdDev:     50,
	}
	m, err := Pivot(generator.Generate(cfg, 5))
	require.NoError(t, err)

	n := Normalize(m)
	for i := 0; i < n.Rows(); i++ {
		assert.InDelta(t, 100, floats.Sum(n.Data.RawRowView(i)[:3]), 1e-9)
	}
}

func TestStandardize(t *testing.T) {
	x := mat.NewDense(4, 3, []float64{
		1, 7, 10,
		2, 7, 20,
		3, 7, 30,
		4, 7, 40,
	})

	z := Standardize(x)
	col := make([]float64, 4)
	for j := 0; j < 3; j++ {
		mat.Col(col, j, z)
		for _, v := range col {
			require.False(t, math.IsNaN(v), "column %d has NaN", j)
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		assert.InDelta(t, 0, mean, 1e-12)
		if j == 1 {
			// Constant column: centred, unit scale
			assert.Equal(t, []float64{0, 0, 0, 0}, col)
			continue
		}
		assert.InDelta(t, 1, std, 1e-12)
	}

	// Input untouched
	assert.Equal(t, 1.0, x.At(0, 0))
}

func TestStandardize_NearConstantColumn(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{0.1, 0.1, 0.1})
	z := Standardize(x)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0, z.At(i, 0), 1e-12)
	}
}

func TestFeaturesAndHelpers(t *testing.T) {
	m, err := Pivot([]observation.Observation{
		{Entity: "a", Resource: "x", Cost: 1},
		{Entity: "a", Resource: "y", Cost: 2},
	})
	require.NoError(t, err)

	f := m.Features()
	r, c := f.Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 2, c)
	f.Set(0, 0, 99)
	assert.Equal(t, 1.0, m.Data.At(0, 0), "Features returns a copy")

	assert.InDeltaSlice(t, []float64{0, math.Log(2)}, Log1p([]float64{0, 1}), 1e-12)
	assert.Equal(t, [][]float64{{1, 2, 3}}, Rows2D(m.Data))

	v := ColumnVector([]float64{1, 2})
	vr, vc := v.Dims()
	assert.Equal(t, 2, vr)
	assert.Equal(t, 1, vc)
}
