package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/compaction"
	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/export"
	"github.com/nicktill/costcluster/pkg/ingest"
	"github.com/nicktill/costcluster/pkg/pipeline"
	"github.com/nicktill/costcluster/pkg/server/monitor"
	"github.com/nicktill/costcluster/pkg/storage"
	"github.com/nicktill/costcluster/pkg/storage/badger"
	"github.com/nicktill/costcluster/pkg/storage/memory"
	"github.com/nicktill/costcluster/pkg/storage/sqlite"
)

// SQLiteFile is the database file name inside the data directory.
const SQLiteFile = "costcluster.db"

// OpenStorage opens the configured backend.
func OpenStorage(cfg config.StorageConfig, logger *zap.Logger) (storage.Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case config.StorageMemory, "":
		logger.Info("using in-memory storage")
		return memory.New(), nil

	case config.StorageBadger:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("badger storage initialized",
			zap.String("data_dir", cfg.DataDir),
			zap.Int64("max_memory_mb", cfg.MaxMemoryMB))
		return store, nil

	case config.StorageSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(cfg.DataDir, SQLiteFile)
		store, err := sqlite.New(sqlite.Config{Path: path, Logger: logger})
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite storage initialized", zap.String("path", path))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Server wires the HTTP API, the event hub and the background tasks
// around one store.
type Server struct {
	cfg    *config.Config
	store  storage.Storage
	logger *zap.Logger

	ingest *ingest.Handler
	export *export.Handler
	hub    *ingest.EventHub

	runs    *monitor.RunMonitor
	storage *monitor.StorageMonitor

	// nil when the task does not apply
	compactor  *compaction.Compactor
	compaction *monitor.TaskMonitor
	gc         *monitor.TaskMonitor

	runMu     sync.Mutex
	startTime time.Time
}

// New builds a server around store. The ingest cardinality tracker is
// seeded from what store already holds.
func New(ctx context.Context, cfg *config.Config, store storage.Storage, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		hub:       ingest.NewEventHub(logger.Named("ws")),
		runs:      monitor.NewRunMonitor(config.MaxRunHistory, config.RunStaleAfter),
		startTime: time.Now(),
	}

	dataDir := cfg.Storage.DataDir
	if cfg.Storage.Backend == config.StorageMemory {
		dataDir = ""
	}
	s.storage = monitor.NewStorageMonitor(dataDir, cfg.Storage.MaxStorageMB<<20)

	s.ingest = ingest.NewHandler(store, cfg.Storage.StrictCost, logger.Named("ingest"))
	s.ingest.SetStorageChecker(s.storage)
	if err := s.ingest.Cardinality().Seed(ctx, store); err != nil {
		return nil, fmt.Errorf("failed to seed cardinality tracker: %w", err)
	}
	s.export = export.NewHandler(store, cfg.Storage.StrictCost, logger.Named("export"))

	if cfg.Storage.CompactAfter > 0 {
		s.compactor = compaction.New(store, logger.Named("compaction"))
		s.compaction = monitor.NewTaskMonitor("compaction", 2*config.CompactionInterval)
		logger.Info("compaction enabled",
			zap.Duration("compact_after", cfg.Storage.CompactAfter),
			zap.Duration("interval", config.CompactionInterval))
	}
	if _, ok := store.(*badger.Storage); ok {
		s.gc = monitor.NewTaskMonitor("badger_gc", 2*config.BadgerGCInterval)
	}

	stats := s.ingest.Cardinality().Stats()
	logger.Info("server initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("entities", stats.Entities),
		zap.Int("resources", stats.Resources),
		zap.Int64("max_storage_mb", cfg.Storage.MaxStorageMB))
	return s, nil
}

// Hub returns the run event hub.
func (s *Server) Hub() *ingest.EventHub { return s.hub }

// Runs returns the run history.
func (s *Server) Runs() *monitor.RunMonitor { return s.runs }

// runner builds a pipeline runner publishing to the hub.
func (s *Server) runner() *pipeline.Runner {
	return pipeline.NewRunner(pipeline.FromConfig(s.cfg), s.logger.Named("pipeline"), s.hub)
}
