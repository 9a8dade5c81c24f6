package memory

import (
	"context"
	"sync"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// Storage stores observations in memory. Data is lost on restart.
// Useful for testing and single-shot runs.
type Storage struct {
	obs    []observation.Observation
	closed bool
	mu     sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		obs: make([]observation.Observation, 0, 4096),
	}
}

// Write stores observations in memory
func (s *Storage) Write(ctx context.Context, obs []observation.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.obs = append(s.obs, obs...)
	return nil
}

// Query retrieves observations matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	var results []observation.Observation
	for _, o := range s.obs {
		if !req.Matches(o) {
			continue
		}
		results = append(results, o)

		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
	}

	return results, nil
}

// Delete removes observations matching opts
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	filtered := make([]observation.Observation, 0, len(s.obs))
	for _, o := range s.obs {
		if !opts.Matches(o) {
			filtered = append(filtered, o)
		}
	}

	s.obs = filtered
	return nil
}

// Close marks the store closed; data is dropped.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.obs = nil
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	stats := &storage.Stats{
		TotalObservations: uint64(len(s.obs)),
	}

	if len(s.obs) == 0 {
		return stats, nil
	}

	series := make(map[string]struct{})
	entities := make(map[string]struct{})
	oldest := s.obs[0].Timestamp
	newest := s.obs[0].Timestamp

	for _, o := range s.obs {
		series[o.SeriesKey()] = struct{}{}
		entities[o.Entity] = struct{}{}

		if o.Timestamp.Before(oldest) {
			oldest = o.Timestamp
		}
		if o.Timestamp.After(newest) {
			newest = o.Timestamp
		}
	}

	stats.TotalSeries = uint64(len(series))
	stats.TotalEntities = uint64(len(entities))
	stats.Oldest = oldest
	stats.Newest = newest

	// Rough size estimate (each observation ~80 bytes)
	stats.SizeBytes = uint64(len(s.obs)) * 80

	return stats, nil
}
