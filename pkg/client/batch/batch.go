package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/client/transport"
	"github.com/nicktill/costcluster/pkg/observation"
)

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize int           // capped at observation.MaxObservationsRequest
	FlushEvery   time.Duration // periodic flush of partial batches
	SendTimeout  time.Duration // per batch; 0 = 5s
}

// Stats counts what the batcher has done.
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Batches int64 `json:"batches"`
	Pending int   `json:"pending"`
}

// Batcher buffers observations and sends them in batches, either when a
// batch fills up or every FlushEvery. Only the flush loop sends in the
// background, so a slow server cannot pile up goroutines.
type Batcher struct {
	config    Config
	transport transport.Transport
	logger    *zap.Logger

	pending []observation.Observation
	mu      sync.Mutex

	full   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sent    atomic.Int64
	failed  atomic.Int64
	batches atomic.Int64
}

// New creates a new batcher
func New(t transport.Transport, config Config, logger *zap.Logger) *Batcher {
	if config.MaxBatchSize <= 0 || config.MaxBatchSize > observation.MaxObservationsRequest {
		config.MaxBatchSize = observation.MaxObservationsRequest
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 5 * time.Second
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		config:    config,
		transport: t,
		logger:    logger,
		pending:   make([]observation.Observation, 0, config.MaxBatchSize),
		full:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start starts the flush loop.
func (b *Batcher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop()
}

// Add queues one observation.
func (b *Batcher) Add(o observation.Observation) {
	b.mu.Lock()
	b.pending = append(b.pending, o)
	shouldFlush := len(b.pending) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.full <- struct{}{}:
		default:
			// A flush is already signalled
		}
	}
}

// Flush sends everything pending now.
func (b *Batcher) Flush(ctx context.Context) error {
	return b.send(ctx, b.take())
}

// Stop stops the flush loop and sends what is left.
func (b *Batcher) Stop() error {
	if b.cancel == nil {
		return b.Flush(context.Background())
	}
	b.cancel()
	<-b.done

	// The loop's context is gone; the final flush must not inherit it
	return b.Flush(context.WithoutCancel(b.ctx))
}

// Stats returns the counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	return Stats{
		Sent:    b.sent.Load(),
		Failed:  b.failed.Load(),
		Batches: b.batches.Load(),
		Pending: pending,
	}
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		case <-b.full:
		}
		if err := b.Flush(b.ctx); err != nil && b.ctx.Err() == nil {
			b.logger.Warn("failed to send observations", zap.Error(err))
		}
	}
}

func (b *Batcher) take() []observation.Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = make([]observation.Observation, 0, b.config.MaxBatchSize)
	return out
}

// send posts obs in MaxBatchSize chunks. Failed chunks are dropped and
// counted; the joined error is returned.
func (b *Batcher) send(ctx context.Context, obs []observation.Observation) error {
	var errs []error
	for start := 0; start < len(obs); start += b.config.MaxBatchSize {
		chunk := obs[start:min(start+b.config.MaxBatchSize, len(obs))]

		sendCtx, cancel := context.WithTimeout(ctx, b.config.SendTimeout)
		err := b.transport.Send(sendCtx, chunk)
		cancel()

		b.batches.Add(1)
		if err != nil {
			b.failed.Add(int64(len(chunk)))
			errs = append(errs, err)
			continue
		}
		b.sent.Add(int64(len(chunk)))
	}
	return errors.Join(errs...)
}
