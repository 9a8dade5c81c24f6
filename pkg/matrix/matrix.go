// Package matrix reshapes cost observations into the entity x resource
// matrices the cluster analyzer works on.
package matrix

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/costcluster/pkg/aggregate"
	"github.com/nicktill/costcluster/pkg/observation"
)

// TotalColumn is the name of the derived row-sum column.
const TotalColumn = "total_cost"

// ErrEmptyMatrix is returned when there is nothing to pivot.
var ErrEmptyMatrix = errors.New("empty cost matrix")

// CostMatrix is an entity x (resources + total) table of summed cost.
// Entities and Resources are sorted; the last column of Data is the total.
type CostMatrix struct {
	Entities  []string
	Resources []string
	Data      *mat.Dense
}

// Pivot sums observations per (entity, resource), fills unobserved pairs
// with zero and appends the total column.
func Pivot(obs []observation.Observation) (*CostMatrix, error) {
	return FromCells(aggregate.Rollup(obs))
}

// FromCells builds the matrix from pre-aggregated cells.
func FromCells(cells []aggregate.Cell) (*CostMatrix, error) {
	if len(cells) == 0 {
		return nil, ErrEmptyMatrix
	}

	entityIdx := make(map[string]int)
	resourceIdx := make(map[string]int)
	for _, c := range cells {
		entityIdx[c.Entity] = 0
		resourceIdx[c.Resource] = 0
	}
	entities := sortedKeys(entityIdx)
	resources := sortedKeys(resourceIdx)

	nr, nc := len(entities), len(resources)
	data := mat.NewDense(nr, nc+1, nil)
	for _, c := range cells {
		i, j := entityIdx[c.Entity], resourceIdx[c.Resource]
		data.Set(i, j, data.At(i, j)+c.Sum)
	}
	for i := 0; i < nr; i++ {
		data.Set(i, nc, floats.Sum(data.RawRowView(i)[:nc]))
	}

	return &CostMatrix{Entities: entities, Resources: resources, Data: data}, nil
}

// sortedKeys returns the sorted keys of m and rewrites m to map each key
// to its index.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		m[k] = i
	}
	return keys
}

// Rows returns the number of entities.
func (m *CostMatrix) Rows() int { return len(m.Entities) }

// Columns returns the column names, resources first and total last.
func (m *CostMatrix) Columns() []string {
	cols := make([]string, 0, len(m.Resources)+1)
	cols = append(cols, m.Resources...)
	return append(cols, TotalColumn)
}

// Total returns the total cost of row i.
func (m *CostMatrix) Total(i int) float64 {
	return m.Data.At(i, len(m.Resources))
}

// Totals returns the total column.
func (m *CostMatrix) Totals() []float64 {
	return mat.Col(nil, len(m.Resources), m.Data)
}

// Features returns a copy of the resource columns without the total.
func (m *CostMatrix) Features() *mat.Dense {
	r, c := m.Rows(), len(m.Resources)
	out := mat.NewDense(r, c, nil)
	out.Copy(m.Data.Slice(0, r, 0, c))
	return out
}

// Column returns the named column, or nil if absent.
func (m *CostMatrix) Column(name string) []float64 {
	if name == TotalColumn {
		return m.Totals()
	}
	for j, r := range m.Resources {
		if r == name {
			return mat.Col(nil, j, m.Data)
		}
	}
	return nil
}

// Normalize rescales every row to percent of its total. Rows with a zero
// total map to all zeros; the total column becomes 100 or 0.
func Normalize(m *CostMatrix) *CostMatrix {
	r, nc := m.Rows(), len(m.Resources)
	out := mat.NewDense(r, nc+1, nil)

	for i := 0; i < r; i++ {
		total := m.Total(i)
		if total == 0 {
			continue
		}
		row := out.RawRowView(i)
		copy(row[:nc], m.Data.RawRowView(i)[:nc])
		floats.Scale(100/total, row[:nc])
		row[nc] = 100
	}

	return &CostMatrix{
		Entities:  append([]string(nil), m.Entities...),
		Resources: append([]string(nil), m.Resources...),
		Data:      out,
	}
}

// Standardize z-scores each column of x using the population standard
// deviation. Constant columns are centred with unit scale.
func Standardize(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	out := mat.DenseCopyOf(x)

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std < 1e-12*math.Max(1, math.Abs(mean)) || math.IsNaN(std) {
			std = 1
		}
		for i := 0; i < r; i++ {
			out.Set(i, j, (col[i]-mean)/std)
		}
	}
	return out
}

// Log1p returns log(1+v) element-wise.
func Log1p(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Log1p(x)
	}
	return out
}

// ColumnVector wraps v as an n x 1 matrix.
func ColumnVector(v []float64) *mat.Dense {
	return mat.NewDense(len(v), 1, append([]float64(nil), v...))
}

// Rows2D copies x into a slice of rows.
func Rows2D(x mat.Matrix) [][]float64 {
	r, c := x.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(make([]float64, c), i, x)
	}
	return out
}
