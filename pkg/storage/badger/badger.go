package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

const (
	obsPrefix = byte('o')
	keyLen    = 1 + 8 + 8 + 8

	slowOpThreshold = 5 * time.Second
	seqBandwidth    = 1000
)

var seqKey = []byte("m/seq")

// ErrNoRewrite is returned by RunGC when no value log file held enough garbage.
var ErrNoRewrite = badger.ErrNoRewrite

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default)
	MaxMemoryMB int64

	Logger *zap.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(cfg.Path).WithLogger(badgerLogger{logger.Sugar()})

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Badger defaults to 64 MB memtables x 5; cost data sets are small.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // default is 2 GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(seqKey, seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open key sequence: %w", err)
	}

	return &Storage{db: db, seq: seq, logger: logger}, nil
}

// Write stores observations in BadgerDB.
// The write runs in a goroutine so a cancelled ctx returns promptly.
func (s *Storage) Write(ctx context.Context, obs []observation.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, o := range obs {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				n, err := s.seq.Next()
				if err != nil {
					return fmt.Errorf("failed to allocate key: %w", err)
				}

				value, err := json.Marshal(o)
				if err != nil {
					return fmt.Errorf("failed to encode observation: %w", err)
				}

				if err := txn.Set(makeKey(o.Entity, o.Resource, o.Timestamp, n), value); err != nil {
					return fmt.Errorf("failed to write observation: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves observations matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []observation.Observation
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		startTime := time.Now()
		var iterCount int

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = []byte{obsPrefix}

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				// Cheap time filter from the key before decoding the value
				ts := keyTime(it.Item().Key())
				if (!req.Start.IsZero() && ts.Before(req.Start)) || (!req.End.IsZero() && ts.After(req.End)) {
					continue
				}

				var o observation.Observation
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &o)
				}); err != nil {
					return fmt.Errorf("failed to decode observation: %w", err)
				}

				if !req.Matches(o) {
					continue
				}
				res.results = append(res.results, o)

				if req.Limit > 0 && len(res.results) >= req.Limit {
					break
				}
			}
			return nil
		})

		if elapsed := time.Since(startTime); elapsed > slowOpThreshold {
			s.logger.Warn("slow query",
				zap.Duration("elapsed", elapsed),
				zap.Int("iterations", iterCount),
				zap.Int("results", len(res.results)),
			)
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes observations matching the deletion criteria
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = []byte{obsPrefix}
			// Values are only needed for entity filtering
			iterOpts.PrefetchValues = len(opts.Entities) > 0

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var keysToDelete [][]byte
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				if !opts.Before.IsZero() && !keyTime(item.Key()).Before(opts.Before) {
					continue
				}

				if len(opts.Entities) > 0 {
					var o observation.Observation
					if err := item.Value(func(val []byte) error {
						return json.Unmarshal(val, &o)
					}); err != nil {
						return fmt.Errorf("failed to decode observation: %w", err)
					}
					if !opts.Matches(o) {
						continue
					}
				}

				keysToDelete = append(keysToDelete, item.KeyCopy(nil))
			}

			for _, key := range keysToDelete {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close releases the key sequence and shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release key sequence", zap.Error(err))
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of a file can be discarded (0.5 = 50%).
// Returns ErrNoRewrite when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		var res statsResult
		stats := &storage.Stats{}

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte{obsPrefix}

			it := txn.NewIterator(opts)
			defer it.Close()

			series := make(map[uint64]struct{})
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				key := it.Item().Key()
				stats.TotalObservations++
				series[keyHash(key)] = struct{}{}

				ts := keyTime(key)
				if ts.IsZero() {
					continue
				}
				if stats.Oldest.IsZero() || ts.Before(stats.Oldest) {
					stats.Oldest = ts
				}
				if stats.Newest.IsZero() || ts.After(stats.Newest) {
					stats.Newest = ts
				}
			}

			// Entity names live only in values; series count is key-derived.
			stats.TotalSeries = uint64(len(series))
			return nil
		})

		if res.err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}

		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a sortable key.
// Format: [prefix (1)][series hash (8)][unix nanos (8)][sequence (8)]
func makeKey(entity, resource string, ts time.Time, seq uint64) []byte {
	key := make([]byte, keyLen)
	key[0] = obsPrefix
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(observation.SeriesKey(entity, resource)))
	if !ts.IsZero() {
		binary.BigEndian.PutUint64(key[9:17], uint64(ts.UnixNano()))
	}
	binary.BigEndian.PutUint64(key[17:25], seq)
	return key
}

func keyHash(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[1:9])
}

// keyTime returns the zero time for observations stored without a timestamp.
func keyTime(key []byte) time.Time {
	nanos := binary.BigEndian.Uint64(key[9:17])
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(nanos)).UTC()
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
