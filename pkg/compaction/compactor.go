package compaction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// Compactor merges same-day observations
type Compactor struct {
	storage storage.Storage
	logger  *zap.Logger
}

// New creates a new compactor
func New(store storage.Storage, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{storage: store, logger: logger}
}

// Result describes one compaction pass.
type Result struct {
	Before  time.Time `json:"before"`
	Scanned int       `json:"scanned"`
	Written int       `json:"written"`
}

// Merged is the number of observations removed by the pass.
func (r Result) Merged() int { return r.Scanned - r.Written }

// bucketKey identifies observations that collapse into one.
type bucketKey struct {
	entity   string
	resource string
	day      int
	date     time.Time
}

// bucket accumulates one output observation.
type bucket struct {
	key   bucketKey
	sum   float64
	count int
}

// CompactBefore merges every observation strictly older than before.
// Nothing is rewritten when no two observations share a bucket.
func (c *Compactor) CompactBefore(ctx context.Context, before time.Time) (Result, error) {
	res := Result{Before: before}

	rows, err := c.storage.Query(ctx, storage.QueryRequest{End: before})
	if err != nil {
		return res, fmt.Errorf("failed to query observations: %w", err)
	}

	// Query's end bound is inclusive; Delete's is not
	old := rows[:0:0]
	for _, o := range rows {
		if o.Timestamp.Before(before) {
			old = append(old, o)
		}
	}
	res.Scanned = len(old)

	merged := mergeDaily(old)
	if len(merged) == len(old) {
		res.Written = len(old)
		return res, nil
	}

	if err := c.storage.Delete(ctx, storage.DeleteOptions{Before: before}); err != nil {
		return res, fmt.Errorf("failed to delete compacted observations: %w", err)
	}
	if err := c.storage.Write(ctx, merged); err != nil {
		// Put the originals back so no cost is lost
		if restoreErr := c.storage.Write(context.WithoutCancel(ctx), old); restoreErr != nil {
			c.logger.Error("failed to restore observations after compaction failure",
				zap.Int("observations", len(old)), zap.Error(restoreErr))
		}
		return res, fmt.Errorf("failed to write compacted observations: %w", err)
	}
	res.Written = len(merged)
	return res, nil
}

// CompactOlderThan compacts everything older than age.
func (c *Compactor) CompactOlderThan(ctx context.Context, age time.Duration) (Result, error) {
	return c.CompactBefore(ctx, time.Now().Add(-age).UTC().Truncate(24*time.Hour))
}

// mergeDaily sums observations per (entity, resource, day, UTC date).
// Output timestamps are truncated to the date, and output order is stable.
func mergeDaily(obs []observation.Observation) []observation.Observation {
	buckets := make(map[bucketKey]*bucket)
	for _, o := range obs {
		key := bucketKey{
			entity:   o.Entity,
			resource: o.Resource,
			day:      o.Day,
			date:     truncateDay(o.Timestamp),
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key}
			buckets[key] = b
		}
		b.sum += o.Cost
		b.count++
	}

	out := make([]observation.Observation, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, observation.Observation{
			Entity:    b.key.entity,
			Resource:  b.key.resource,
			Cost:      b.sum,
			Day:       b.key.day,
			Timestamp: b.key.date,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Day < b.Day
	})
	return out
}

// truncateDay rounds t down to midnight UTC. The zero time stays zero.
func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
