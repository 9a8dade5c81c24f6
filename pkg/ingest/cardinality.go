package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// CardinalityTracker counts distinct entities, resources and
// (entity, resource) cells to keep the cost matrix bounded.
type CardinalityTracker struct {
	mu sync.RWMutex

	entities  map[string]struct{}
	resources map[string]struct{}
	cells     map[string]struct{}

	maxEntities  int
	maxResources int
}

// NewCardinalityTracker creates a tracker with the default limits.
func NewCardinalityTracker() *CardinalityTracker {
	return newTracker(MaxEntities, MaxResources)
}

func newTracker(maxEntities, maxResources int) *CardinalityTracker {
	return &CardinalityTracker{
		entities:     make(map[string]struct{}),
		resources:    make(map[string]struct{}),
		cells:        make(map[string]struct{}),
		maxEntities:  maxEntities,
		maxResources: maxResources,
	}
}

// Seed records everything already in store, so limits hold across restarts.
func (c *CardinalityTracker) Seed(ctx context.Context, store storage.Storage) error {
	obs, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		return fmt.Errorf("failed to seed cardinality: %w", err)
	}
	c.Record(obs)
	return nil
}

// Check reports whether adding the batch would exceed a limit.
func (c *CardinalityTracker) Check(obs []observation.Observation) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	newEntities := make(map[string]struct{})
	newResources := make(map[string]struct{})
	for _, o := range obs {
		if _, ok := c.entities[o.Entity]; !ok {
			newEntities[o.Entity] = struct{}{}
		}
		if _, ok := c.resources[o.Resource]; !ok {
			newResources[o.Resource] = struct{}{}
		}
	}

	if len(c.entities)+len(newEntities) > c.maxEntities {
		return ErrEntityLimit
	}
	if len(c.resources)+len(newResources) > c.maxResources {
		return ErrResourceLimit
	}
	return nil
}

// Record marks the batch as stored.
// Should be called after Check passes and the write succeeded
func (c *CardinalityTracker) Record(obs []observation.Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range obs {
		c.entities[o.Entity] = struct{}{}
		c.resources[o.Resource] = struct{}{}
		c.cells[o.SeriesKey()] = struct{}{}
	}
}

// Forget clears all counts, e.g. after the store was emptied.
func (c *CardinalityTracker) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entities)
	clear(c.resources)
	clear(c.cells)
}

// CardinalityStats provides cardinality usage information
type CardinalityStats struct {
	Entities       int     `json:"entities"`
	Resources      int     `json:"resources"`
	Cells          int     `json:"cells"`
	EntityLimit    int     `json:"entity_limit"`
	ResourceLimit  int     `json:"resource_limit"`
	MatrixFillPct  float64 `json:"matrix_fill_percent"`
	UtilizationPct float64 `json:"utilization_percent"`
}

// Stats returns current cardinality statistics. Matrix fill is the share
// of entity x resource cells that have at least one observation.
func (c *CardinalityTracker) Stats() CardinalityStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := CardinalityStats{
		Entities:      len(c.entities),
		Resources:     len(c.resources),
		Cells:         len(c.cells),
		EntityLimit:   c.maxEntities,
		ResourceLimit: c.maxResources,
	}
	if area := s.Entities * s.Resources; area > 0 {
		s.MatrixFillPct = float64(s.Cells) / float64(area) * 100
	}
	s.UtilizationPct = max(
		float64(s.Entities)/float64(c.maxEntities),
		float64(s.Resources)/float64(c.maxResources),
	) * 100
	return s
}
