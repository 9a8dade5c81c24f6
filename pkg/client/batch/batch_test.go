package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nicktill/costcluster/pkg/observation"
)

// mockTransport records every batch it is sent.
type mockTransport struct {
	mu      sync.Mutex
	batches [][]observation.Observation
	sendErr error
	delay   time.Duration
}

func (m *mockTransport) Send(ctx context.Context, batch []observation.Observation) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	batchCopy := make([]observation.Observation, len(batch))
	copy(batchCopy, batch)
	m.batches = append(m.batches, batchCopy)
	return m.sendErr
}

func (m *mockTransport) getBatches() [][]observation.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]observation.Observation, len(m.batches))
	copy(result, m.batches)
	return result
}

func (m *mockTransport) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, batch := range m.batches {
		total += len(batch)
	}
	return total
}

func obs(i int) observation.Observation {
	return observation.Observation{Entity: "SalesPortal", Resource: "Amazon S3", Cost: float64(i), Day: i}
}

func TestNew_Defaults(t *testing.T) {
	b := New(&mockTransport{}, Config{}, nil)
	if b.config.MaxBatchSize != observation.MaxObservationsRequest {
		t.Errorf("MaxBatchSize = %d, want %d", b.config.MaxBatchSize, observation.MaxObservationsRequest)
	}
	if b.config.FlushEvery != 5*time.Second {
		t.Errorf("FlushEvery = %v, want 5s", b.config.FlushEvery)
	}

	b = New(&mockTransport{}, Config{MaxBatchSize: observation.MaxObservationsRequest * 2}, nil)
	if b.config.MaxBatchSize != observation.MaxObservationsRequest {
		t.Errorf("MaxBatchSize should be capped, got %d", b.config.MaxBatchSize)
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(&mockTransport{}, Config{MaxBatchSize: 100, FlushEvery: 100 * time.Millisecond}, nil)
	b.Start(context.Background())
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestAddTriggersFlushWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &mockTransport{}
	b := New(transport, Config{MaxBatchSize: 5, FlushEvery: time.Hour}, nil)
	b.Start(context.Background())
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.Add(obs(i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(transport.getBatches()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	batches := transport.getBatches()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 5 {
		t.Errorf("Expected 5 observations in batch, got %d", len(batches[0]))
	}
}

func TestConcurrentAdd(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := &mockTransport{delay: 10 * time.Millisecond}
	b := New(transport, Config{MaxBatchSize: 10, FlushEvery: time.Hour}, nil)
	b.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Add(obs(id*1000 + j))
			}
		}(i)
	}
	wg.Wait()

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if got := transport.total(); got != 1000 {
		t.Errorf("Expected 1000 observations sent, got %d", got)
	}
	for i, batch := range transport.getBatches() {
		if len(batch) > 10 {
			t.Errorf("batch %d has %d observations, max is 10", i, len(batch))
		}
	}
	if s := b.Stats(); s.Sent != 1000 || s.Failed != 0 || s.Pending != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestPeriodicFlush(t *testing.T) {
	transport := &mockTransport{}
	b := New(transport, Config{MaxBatchSize: 1000, FlushEvery: 50 * time.Millisecond}, nil)
	b.Start(context.Background())
	defer b.Stop()

	for i := 0; i < 3; i++ {
		b.Add(obs(i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for transport.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := transport.total(); got != 3 {
		t.Errorf("Expected 3 observations sent by the timer, got %d", got)
	}
}

func TestManualFlush(t *testing.T) {
	transport := &mockTransport{}
	b := New(transport, Config{MaxBatchSize: 1000, FlushEvery: time.Hour}, nil)
	b.Start(context.Background())
	defer b.Stop()

	for i := 0; i < 7; i++ {
		b.Add(obs(i))
	}
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	batches := transport.getBatches()
	if len(batches) != 1 || len(batches[0]) != 7 {
		t.Fatalf("Expected one batch of 7, got %v", batches)
	}
}

func TestStopFlushesPending(t *testing.T) {
	transport := &mockTransport{}
	b := New(transport, Config{MaxBatchSize: 1000, FlushEvery: time.Hour}, nil)
	b.Start(context.Background())

	for i := 0; i < 4; i++ {
		b.Add(obs(i))
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if got := transport.total(); got != 4 {
		t.Errorf("Expected 4 observations flushed on stop, got %d", got)
	}
}

func TestStopAfterParentCancel(t *testing.T) {
	transport := &mockTransport{}
	ctx, cancel := context.WithCancel(context.Background())
	b := New(transport, Config{MaxBatchSize: 1000, FlushEvery: time.Hour}, nil)
	b.Start(ctx)

	b.Add(obs(1))
	cancel()
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if transport.total() != 1 {
		t.Error("pending observation lost after parent context cancel")
	}
}

func TestFlush_SplitsAndCountsFailures(t *testing.T) {
	transport := &mockTransport{sendErr: errors.New("server down")}
	b := New(transport, Config{MaxBatchSize: 3, FlushEvery: time.Hour}, nil)

	for i := 0; i < 7; i++ {
		b.mu.Lock()
		b.pending = append(b.pending, obs(i))
		b.mu.Unlock()
	}
	if err := b.Flush(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if got := len(transport.getBatches()); got != 3 {
		t.Errorf("Expected 3 chunks, got %d", got)
	}
	if s := b.Stats(); s.Failed != 7 || s.Sent != 0 || s.Batches != 3 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestStopWithoutStart(t *testing.T) {
	transport := &mockTransport{}
	b := New(transport, Config{}, nil)
	b.Add(obs(1))
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if transport.total() != 1 {
		t.Error("Stop without Start should still flush")
	}
}
