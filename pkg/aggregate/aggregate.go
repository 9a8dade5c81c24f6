package aggregate

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// Cell holds the rolled-up cost of one (entity, resource) series.
type Cell struct {
	Entity   string
	Resource string

	Sum   float64
	Count uint64
	Min   float64
	Max   float64
}

// Average calculates the mean cost per observation
func (c *Cell) Average() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.Sum / float64(c.Count)
}

func (c *Cell) add(v float64) {
	if c.Count == 0 || v < c.Min {
		c.Min = v
	}
	if c.Count == 0 || v > c.Max {
		c.Max = v
	}
	c.Sum += v
	c.Count++
}

// Rollup groups observations by series.
// Cells are ordered by entity, then resource.
func Rollup(obs []observation.Observation) []Cell {
	cells := make(map[string]*Cell)

	for _, o := range obs {
		key := o.SeriesKey()
		c, ok := cells[key]
		if !ok {
			c = &Cell{Entity: o.Entity, Resource: o.Resource}
			cells[key] = c
		}
		c.add(o.Cost)
	}

	out := make([]Cell, 0, len(cells))
	for _, c := range cells {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}

// Aggregator rolls stored observations into cells.
type Aggregator struct {
	storage storage.Storage
}

// New creates an aggregator over store
func New(store storage.Storage) *Aggregator {
	return &Aggregator{storage: store}
}

// Load queries the store and rolls the result up.
func (a *Aggregator) Load(ctx context.Context, req storage.QueryRequest) ([]Cell, error) {
	obs, err := a.storage.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	return Rollup(obs), nil
}

// CalculatePercentile computes the p-quantile (p in [0, 1]) with linear
// interpolation between closest ranks.
func CalculatePercentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
