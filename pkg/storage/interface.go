package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/costcluster/pkg/observation"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Storage defines the interface for observation storage backends.
// Implementations: memory (testing), badger (embedded), sqlite (schema introspection)
type Storage interface {
	// Write stores observations
	Write(ctx context.Context, obs []observation.Observation) error

	// Query retrieves observations matching the request
	Query(ctx context.Context, req QueryRequest) ([]observation.Observation, error)

	// Delete removes observations matching the options
	Delete(ctx context.Context, opts DeleteOptions) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// SchemaInspector is implemented by backends that expose a relational schema.
type SchemaInspector interface {
	Schema(ctx context.Context) (map[string]TableSchema, error)
}

// QueryRequest specifies what observations to retrieve.
// Zero Start or End leaves that side of the time range open.
type QueryRequest struct {
	Start time.Time
	End   time.Time

	// Filter by entity name (optional)
	Entities []string

	// Filter by resource name (optional)
	Resources []string

	// Limit number of results (0 = no limit)
	Limit int
}

// DeleteOptions selects observations to delete.
// A zero Before deletes regardless of timestamp.
type DeleteOptions struct {
	Before   time.Time
	Entities []string
}

// Stats provides storage health and usage info
type Stats struct {
	TotalObservations uint64 `json:"total_observations"`

	// Unique (entity, resource) pairs
	TotalSeries uint64 `json:"total_series"`

	TotalEntities uint64 `json:"total_entities"`

	// Storage size in bytes (estimate for memory)
	SizeBytes uint64 `json:"size_bytes"`

	Oldest time.Time `json:"oldest"`
	Newest time.Time `json:"newest"`
}

// TableSchema describes one table for schema introspection.
type TableSchema struct {
	Columns []Column `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Column is a single table column.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

// Matches reports whether o passes the request filters (limit excluded).
func (r QueryRequest) Matches(o observation.Observation) bool {
	if !r.Start.IsZero() && o.Timestamp.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && o.Timestamp.After(r.End) {
		return false
	}
	if len(r.Entities) > 0 && !contains(r.Entities, o.Entity) {
		return false
	}
	if len(r.Resources) > 0 && !contains(r.Resources, o.Resource) {
		return false
	}
	return true
}

// Matches reports whether o should be deleted.
func (d DeleteOptions) Matches(o observation.Observation) bool {
	if !d.Before.IsZero() && !o.Timestamp.Before(d.Before) {
		return false
	}
	if len(d.Entities) > 0 && !contains(d.Entities, o.Entity) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
