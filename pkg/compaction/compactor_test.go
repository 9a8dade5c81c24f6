package compaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nicktill/costcluster/pkg/matrix"
	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
	"github.com/nicktill/costcluster/pkg/storage/memory"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCompactBefore_MergesSameDay(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	raw := []observation.Observation{
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 4, Day: 0, Timestamp: day0.Add(1 * time.Hour)},
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 6, Day: 0, Timestamp: day0.Add(13 * time.Hour)},
		{Entity: "SalesPortal", Resource: "Amazon EC2", Cost: 20, Day: 0, Timestamp: day0.Add(2 * time.Hour)},
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 7, Day: 1, Timestamp: day0.Add(25 * time.Hour)},
		// Recent data stays raw
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 1, Day: 5, Timestamp: day0.Add(5*24*time.Hour + time.Hour)},
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 2, Day: 5, Timestamp: day0.Add(5*24*time.Hour + 2*time.Hour)},
	}
	if err := store.Write(ctx, raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	res, err := New(store, nil).CompactBefore(ctx, day0.Add(3*24*time.Hour))
	if err != nil {
		t.Fatalf("Compaction failed: %v", err)
	}
	if res.Scanned != 4 || res.Written != 3 || res.Merged() != 1 {
		t.Errorf("Unexpected result %+v", res)
	}

	all, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 observations after compaction, got %d", len(all))
	}

	var found bool
	for _, o := range all {
		if o.Resource == "Amazon S3" && o.Day == 0 {
			found = true
			if o.Cost != 10 {
				t.Errorf("Merged cost = %v, want 10", o.Cost)
			}
			if !o.Timestamp.Equal(day0) {
				t.Errorf("Merged timestamp = %v, want %v", o.Timestamp, day0)
			}
		}
	}
	if !found {
		t.Error("Merged S3 observation for day 0 not found")
	}
}

func TestCompactBefore_PreservesMatrix(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	var raw []observation.Observation
	for h := 0; h < 48; h++ {
		for _, e := range []string{"HRSystem", "PayrollApp"} {
			raw = append(raw, observation.Observation{
				Entity:    e,
				Resource:  []string{"Amazon RDS", "AWS Lambda", "Amazon SQS"}[h%3],
				Cost:      float64(h) * 1.25,
				Day:       h / 24,
				Timestamp: day0.Add(time.Duration(h) * time.Hour),
			})
		}
	}
	if err := store.Write(ctx, raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	before, err := matrix.Pivot(raw)
	if err != nil {
		t.Fatalf("Pivot failed: %v", err)
	}

	if _, err := New(store, nil).CompactBefore(ctx, day0.Add(72*time.Hour)); err != nil {
		t.Fatalf("Compaction failed: %v", err)
	}
	compacted, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(compacted) != 2*3*2 {
		t.Errorf("Expected 12 daily observations, got %d", len(compacted))
	}

	after, err := matrix.Pivot(compacted)
	if err != nil {
		t.Fatalf("Pivot failed: %v", err)
	}
	r, c := before.Data.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if d := before.Data.At(i, j) - after.Data.At(i, j); d > 1e-9 || d < -1e-9 {
				t.Errorf("Cell (%d, %d) changed: %v -> %v", i, j, before.Data.At(i, j), after.Data.At(i, j))
			}
		}
	}
}

func TestCompactBefore_Idempotent(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	if err := store.Write(ctx, []observation.Observation{
		{Entity: "a", Resource: "s3", Cost: 1, Timestamp: day0.Add(time.Hour)},
		{Entity: "a", Resource: "s3", Cost: 2, Timestamp: day0.Add(2 * time.Hour)},
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	compactor := New(store, nil)
	cutoff := day0.Add(48 * time.Hour)
	if _, err := compactor.CompactBefore(ctx, cutoff); err != nil {
		t.Fatalf("First compaction failed: %v", err)
	}
	res, err := compactor.CompactBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("Second compaction failed: %v", err)
	}
	if res.Merged() != 0 || res.Scanned != 1 {
		t.Errorf("Second pass should be a no-op, got %+v", res)
	}
}

func TestCompactBefore_CutoffIsExclusive(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	cutoff := day0.Add(24 * time.Hour)
	if err := store.Write(ctx, []observation.Observation{
		{Entity: "a", Resource: "s3", Cost: 1, Day: 1, Timestamp: cutoff},
		{Entity: "a", Resource: "s3", Cost: 2, Day: 1, Timestamp: cutoff.Add(time.Hour)},
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	res, err := New(store, nil).CompactBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("Compaction failed: %v", err)
	}
	if res.Scanned != 0 {
		t.Errorf("Observations at or after the cutoff must not be scanned, got %d", res.Scanned)
	}
	stats, _ := store.Stats(ctx)
	if stats.TotalObservations != 2 {
		t.Errorf("Expected 2 observations untouched, got %d", stats.TotalObservations)
	}
}

type failingWriteStore struct {
	*memory.Storage
	fail bool
}

func (s *failingWriteStore) Write(ctx context.Context, obs []observation.Observation) error {
	if s.fail {
		s.fail = false
		return errors.New("disk full")
	}
	return s.Storage.Write(ctx, obs)
}

func TestCompactBefore_RestoresOnWriteFailure(t *testing.T) {
	store := &failingWriteStore{Storage: memory.New()}
	defer store.Close()
	ctx := context.Background()

	raw := []observation.Observation{
		{Entity: "a", Resource: "s3", Cost: 1, Timestamp: day0.Add(time.Hour)},
		{Entity: "a", Resource: "s3", Cost: 2, Timestamp: day0.Add(2 * time.Hour)},
	}
	if err := store.Write(ctx, raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	store.fail = true
	if _, err := New(store, nil).CompactBefore(ctx, day0.Add(48*time.Hour)); err == nil {
		t.Fatal("Expected compaction to fail")
	}

	all, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected originals restored, got %d observations", len(all))
	}
}

func TestTruncateDay(t *testing.T) {
	ts := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if got := truncateDay(ts); !got.Equal(want) {
		t.Errorf("truncateDay(%v) = %v, want %v", ts, got, want)
	}
	if !truncateDay(time.Time{}).IsZero() {
		t.Error("zero time should stay zero")
	}
}
