package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/costcluster/pkg/client/batch"
	"github.com/nicktill/costcluster/pkg/client/transport"
	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/server"
	"github.com/nicktill/costcluster/pkg/storage"
	"github.com/nicktill/costcluster/pkg/storage/memory"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func startServer(t *testing.T) (*Client, storage.Storage) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Generator.Days = 5
	cfg.Analysis.KMeansRestarts = 2
	cfg.Report.OutputDir = t.TempDir()
	cfg.Storage.CompactAfter = 0

	store := memory.New()
	t.Cleanup(func() { store.Close() })

	s, err := server.New(context.Background(), cfg, store, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return New(ts.URL+"/", ""), store
}

func count(t *testing.T, store storage.Storage) int {
	t.Helper()
	obs, err := store.Query(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	return len(obs)
}

func TestNew_Defaults(t *testing.T) {
	c := New("", "")
	assert.Equal(t, DefaultEndpoint, c.baseURL)

	c = New("http://example.com:9000/", "key")
	assert.Equal(t, "http://example.com:9000", c.baseURL)
	assert.Equal(t, "key", c.apiKey)
}

func TestClient_IngestSplitsLargeBatches(t *testing.T) {
	c, store := startServer(t)

	n := observation.MaxObservationsRequest + 5
	obs := make([]observation.Observation, n)
	for i := range obs {
		obs[i] = observation.Observation{
			Entity:    "SalesPortal",
			Resource:  "Amazon S3",
			Cost:      float64(i),
			Timestamp: day0.Add(time.Duration(i) * time.Minute),
		}
	}

	require.NoError(t, c.Ingest(context.Background(), obs))
	assert.Equal(t, n, count(t, store))
}

func TestClient_IngestRejected(t *testing.T) {
	c, store := startServer(t)

	err := c.Ingest(context.Background(), []observation.Observation{
		{Entity: "SalesPortal", Resource: "Amazon S3", Cost: 1, Timestamp: day0},
		{Entity: "", Resource: "Amazon S3", Cost: 1, Timestamp: day0},
	})
	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, 0, count(t, store))
}

func TestClient_SyntheticRun(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	_, err := c.LatestRun(ctx)
	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	run, err := c.Run(ctx, RunOptions{Source: server.SourceSynthetic})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Len(t, run.Entities, 10)
	assert.NotEmpty(t, run.BestMethod)
	require.NotNil(t, run.Best)

	latest, err := c.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
}

func TestClient_StorageRunEmpty(t *testing.T) {
	c, _ := startServer(t)

	_, err := c.Run(context.Background(), RunOptions{
		Source:   server.SourceStorage,
		Start:    day0,
		End:      day0.Add(24 * time.Hour),
		Entities: []string{"HRSystem"},
	})
	var se *transport.StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.NotEmpty(t, se.Message)
}

func TestClient_Health(t *testing.T) {
	c, _ := startServer(t)

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, server.Version, health.Version)
	assert.Equal(t, "memory", health.Backend)
}

func TestClient_Batcher(t *testing.T) {
	c, store := startServer(t)

	b := c.NewBatcher(batch.Config{MaxBatchSize: 50, FlushEvery: time.Hour}, nil)
	b.Start(context.Background())
	for i := 0; i < 120; i++ {
		b.Add(observation.Observation{
			Entity:    "HRSystem",
			Resource:  "Amazon RDS",
			Cost:      2,
			Timestamp: day0.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, b.Stop())

	stats := b.Stats()
	assert.EqualValues(t, 120, stats.Sent)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 120, count(t, store))
}
