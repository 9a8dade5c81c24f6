package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
	"github.com/nicktill/costcluster/pkg/storage/memory"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func postIngest(t *testing.T, h *Handler, obs []observation.Observation) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(IngestRequest{Observations: obs})
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.HandleIngest(rr, httptest.NewRequest(http.MethodPost, "/v1/observations", bytes.NewReader(body)))
	return rr
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp["message"]
}

func TestHandleIngest(t *testing.T) {
	store := memory.New()
	h := NewHandler(store, false, nil)

	rr := postIngest(t, h, []observation.Observation{
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 12.5, Timestamp: day0},
		{Entity: "HRSystem", Resource: "Amazon S3", Cost: -3, Timestamp: day0},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 2, resp.Count)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalObservations)
	assert.Equal(t, 2, h.Cardinality().Stats().Entities)
}

func TestHandleIngest_TooManyObservations(t *testing.T) {
	h := NewHandler(memory.New(), false, nil)

	obs := make([]observation.Observation, observation.MaxObservationsRequest+1)
	for i := range obs {
		obs[i] = observation.Observation{Entity: "e", Resource: "r", Cost: 1}
	}
	rr := postIngest(t, h, obs)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "too many observations")
}

func TestHandleIngest_InvalidObservation(t *testing.T) {
	store := memory.New()
	h := NewHandler(store, true, nil)

	tests := []struct {
		name string
		obs  observation.Observation
	}{
		{"empty entity", observation.Observation{Resource: "r", Cost: 1}},
		{"negative day", observation.Observation{Entity: "e", Resource: "r", Cost: 1, Day: -1}},
		{"negative cost when strict", observation.Observation{Entity: "e", Resource: "r", Cost: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postIngest(t, h, []observation.Observation{{Entity: "ok", Resource: "r", Cost: 1}, tt.obs})
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, errorMessage(t, rr), "invalid observation 1")
		})
	}

	// Batches are all-or-nothing
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalObservations)
}

func TestHandleIngest_BadJSON(t *testing.T) {
	h := NewHandler(memory.New(), false, nil)
	rr := httptest.NewRecorder()
	h.HandleIngest(rr, httptest.NewRequest(http.MethodPost, "/v1/observations", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type fullChecker struct {
	full bool
	err  error
}

func (c fullChecker) Full() (bool, error) { return c.full, c.err }

func TestHandleIngest_StorageFull(t *testing.T) {
	h := NewHandler(memory.New(), false, nil)
	obs := []observation.Observation{{Entity: "e", Resource: "r", Cost: 1}}

	h.SetStorageChecker(fullChecker{full: true})
	assert.Equal(t, http.StatusInsufficientStorage, postIngest(t, h, obs).Code)

	// A failing check does not block ingestion
	h.SetStorageChecker(fullChecker{err: errors.New("walk failed")})
	assert.Equal(t, http.StatusOK, postIngest(t, h, obs).Code)
}

func TestHandleIngest_CardinalityLimit(t *testing.T) {
	h := NewHandler(memory.New(), false, nil)
	h.cardinality = newTracker(2, 10)

	ok := []observation.Observation{{Entity: "a", Resource: "r", Cost: 1}, {Entity: "b", Resource: "r", Cost: 1}}
	require.Equal(t, http.StatusOK, postIngest(t, h, ok).Code)

	rr := postIngest(t, h, []observation.Observation{{Entity: "c", Resource: "r", Cost: 1}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "entity limit exceeded")

	// Known entities are still accepted
	assert.Equal(t, http.StatusOK, postIngest(t, h, ok).Code)
}

func TestHandleQuery(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Write(context.Background(), []observation.Observation{
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 1, Timestamp: day0},
		{Entity: "SalesPortal", Resource: "Amazon EC2", Cost: 2, Timestamp: day0.Add(24 * time.Hour)},
		{Entity: "HRSystem", Resource: "Amazon S3", Cost: 3, Timestamp: day0.Add(48 * time.Hour)},
	}))
	h := NewHandler(store, false, nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?entity=SalesPortal", 2},
		{"?resource=Amazon+S3&entity=HRSystem", 1},
		{"?start=2024-01-02", 2},
		{"?limit=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.HandleQuery(rr, httptest.NewRequest(http.MethodGet, "/v1/observations"+tt.query, nil))
			require.Equal(t, http.StatusOK, rr.Code)

			var resp QueryResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Count)
			assert.Len(t, resp.Observations, tt.want)
		})
	}
}

func TestHandleQuery_BadParams(t *testing.T) {
	h := NewHandler(memory.New(), false, nil)
	for _, q := range []string{"?limit=abc", "?start=soon", "?start=2024-02-01&end=2024-01-01"} {
		rr := httptest.NewRecorder()
		h.HandleQuery(rr, httptest.NewRequest(http.MethodGet, "/v1/observations"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestHandleStats(t *testing.T) {
	store := memory.New()
	h := NewHandler(store, false, nil)
	require.Equal(t, http.StatusOK, postIngest(t, h, []observation.Observation{
		{Entity: "a", Resource: "s3", Cost: 1},
		{Entity: "a", Resource: "ec2", Cost: 1},
		{Entity: "b", Resource: "s3", Cost: 1},
	}).Code)

	rr := httptest.NewRecorder()
	h.HandleStats(rr, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Storage)
	assert.Equal(t, uint64(3), resp.Storage.TotalObservations)
	assert.Equal(t, 2, resp.Cardinality.Entities)
	assert.Equal(t, 3, resp.Cardinality.Cells)
	assert.InDelta(t, 75.0, resp.Cardinality.MatrixFillPct, 1e-9)
}

func TestCardinalityTracker(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Write(context.Background(), []observation.Observation{
		{Entity: "a", Resource: "s3", Cost: 1},
		{Entity: "b", Resource: "ec2", Cost: 1},
	}))

	c := newTracker(3, 2)
	require.NoError(t, c.Seed(context.Background(), store))
	assert.Equal(t, 2, c.Stats().Entities)

	assert.NoError(t, c.Check([]observation.Observation{{Entity: "c", Resource: "s3"}}))
	assert.ErrorIs(t, c.Check([]observation.Observation{{Entity: "c", Resource: "rds"}}), ErrResourceLimit)
	assert.ErrorIs(t, c.Check([]observation.Observation{{Entity: "c", Resource: "s3"}, {Entity: "d", Resource: "s3"}}), ErrEntityLimit)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Resources)
	assert.InDelta(t, 100.0, stats.UtilizationPct, 1e-9)

	c.Forget()
	assert.Zero(t, c.Stats().Cells)
}

func TestCardinalityTracker_SeedError(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Close())
	err := newTracker(1, 1).Seed(context.Background(), store)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
