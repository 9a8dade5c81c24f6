package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/storage/badger"
)

// Compaction retry schedule: 30s, 60s, 120s.
const (
	compactionRetries   = 3
	compactionBaseDelay = 30 * time.Second
)

// Start launches the event hub and the background tasks. They stop when
// ctx is done; wg tracks them.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	s.logger.Info("websocket hub started")

	if s.compactor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runCompaction(ctx, config.CompactionInterval, compactionBaseDelay)
		}()
	}

	if store, ok := s.store.(*badger.Storage); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runBadgerGC(ctx, store, config.BadgerGCInterval)
		}()
	}
}

// runCompaction compacts once on startup, then every interval, retrying
// failures with exponential backoff.
func (s *Server) runCompaction(ctx context.Context, interval, baseDelay time.Duration) {
	log := s.logger.Named("compaction")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runWithRetry := func() {
		for attempt := 0; attempt <= compactionRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1))
				log.Info("retrying compaction",
					zap.Duration("delay", delay),
					zap.Int("attempt", attempt+1))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			start := time.Now()
			res, err := s.compactor.CompactOlderThan(ctx, s.cfg.Storage.CompactAfter)
			if err == nil {
				s.compaction.RecordSuccess()
				log.Info("compaction completed",
					zap.Int("scanned", res.Scanned),
					zap.Int("merged", res.Merged()),
					zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
				return
			}
			if ctx.Err() != nil {
				return
			}

			s.compaction.RecordFailure(err)
			log.Warn("compaction failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", compactionRetries+1),
				zap.Error(err))
			if status := s.compaction.Status(); status.ConsecutiveErrors > compactionRetries {
				log.Error("compaction keeps failing", zap.Int("consecutive_errors", status.ConsecutiveErrors))
			}
		}
		log.Warn("compaction gave up until next schedule")
	}

	runWithRetry()
	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-ctx.Done():
			log.Info("stopping compaction scheduler")
			return
		}
	}
}

// runBadgerGC reclaims value log space once on startup and then every
// interval. One GC round per tick.
func (s *Server) runBadgerGC(ctx context.Context, store *badger.Storage, interval time.Duration) {
	log := s.logger.Named("gc")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	collect := func() {
		start := time.Now()
		err := store.RunGC(config.BadgerGCDiscard)
		switch {
		case err == nil:
			log.Info("value log GC reclaimed space", zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
		case errors.Is(err, badger.ErrNoRewrite):
			log.Debug("value log GC found nothing to rewrite")
		default:
			s.gc.RecordFailure(err)
			log.Warn("value log GC failed", zap.Error(err))
			return
		}
		s.gc.RecordSuccess()
	}

	log.Info("badger GC scheduler started", zap.Duration("interval", interval))
	collect()
	for {
		select {
		case <-ticker.C:
			collect()
		case <-ctx.Done():
			log.Info("stopping badger GC scheduler")
			return
		}
	}
}

// ListenAndServe serves the API until ctx is done, then shuts down
// gracefully and waits for the background tasks.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	s.Start(ctx, &wg)

	srv := &http.Server{
		Addr:         net.JoinHostPort("", s.cfg.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop background tasks before waiting on them
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("background tasks stopped")
	case <-time.After(5 * time.Second):
		s.logger.Warn("background tasks did not stop in time")
	}
	return serveErr
}
