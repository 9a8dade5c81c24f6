/*
Package storage provides the pluggable storage abstraction for cost observations.

# Storage Interface

Backends:
  - memory: slice-backed, for tests and one-shot runs
  - badger: BadgerDB (LSM tree + Snappy compression) for embedded persistence
  - sqlite: a single `observations` table; also implements SchemaInspector

All backends implement the Storage interface:

	type Storage interface {
	    Write(ctx context.Context, obs []observation.Observation) error
	    Query(ctx context.Context, req QueryRequest) ([]observation.Observation, error)
	    Delete(ctx context.Context, opts DeleteOptions) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.Write(ctx, []observation.Observation{
	    {Entity: "HRSystem", Resource: "Amazon RDS", Cost: 812.4, Day: 0},
	})

	results, err := store.Query(ctx, storage.QueryRequest{
	    Entities: []string{"HRSystem"},
	})

# Query Filtering

A zero Start or End leaves that side of the time range open, so an empty
QueryRequest returns everything. Entities and Resources are exact-match
allow lists. Limit caps the number of returned observations.

Results are returned in storage order: insertion order for memory, key order
(series hash, then timestamp) for badger, row id order for sqlite. Callers that
need a stable layout sort or pivot the result themselves.
*/
package storage
