// Package client talks to a running costcluster server.
//
//	c := client.New("http://localhost:8080", "")
//	if err := c.Ingest(ctx, observations); err != nil {
//	    return err
//	}
//	run, err := c.Run(ctx, client.RunOptions{Source: "storage"})
//
// For streams of observations use NewBatcher, which sends in the
// background and flushes what is left on Stop.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/client/batch"
	"github.com/nicktill/costcluster/pkg/client/transport"
	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/pipeline"
	"github.com/nicktill/costcluster/pkg/server"
)

// DefaultEndpoint is the server a zero Client talks to.
const DefaultEndpoint = "http://localhost:8080"

// Client is a costcluster API client.
type Client struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	transport *transport.HTTPTransport
}

// New creates a client for the server at baseURL.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 3 * time.Minute},
		transport: transport.NewHTTP(baseURL+"/v1/observations", apiKey),
	}
}

// Ingest sends obs synchronously, split into request-sized batches.
// Batches already sent stay stored when a later one fails.
func (c *Client) Ingest(ctx context.Context, obs []observation.Observation) error {
	for start := 0; start < len(obs); start += observation.MaxObservationsRequest {
		end := min(start+observation.MaxObservationsRequest, len(obs))
		if err := c.transport.Send(ctx, obs[start:end]); err != nil {
			return fmt.Errorf("batch at %d: %w", start, err)
		}
	}
	return nil
}

// NewBatcher returns a background batcher sending through this client.
// Call Start before Add and Stop when done.
func (c *Client) NewBatcher(cfg batch.Config, logger *zap.Logger) *batch.Batcher {
	return batch.New(c.transport, cfg, logger)
}

// RunOptions selects the data of a server-side run.
type RunOptions struct {
	Source    string // "synthetic" or "storage"
	Start     time.Time
	End       time.Time
	Entities  []string
	Resources []string
}

// Run triggers a pipeline run and waits for it to finish.
func (c *Client) Run(ctx context.Context, opts RunOptions) (*pipeline.Run, error) {
	q := url.Values{}
	if opts.Source != "" {
		q.Set("source", opts.Source)
	}
	if !opts.Start.IsZero() {
		q.Set("start", opts.Start.UTC().Format(time.RFC3339))
	}
	if !opts.End.IsZero() {
		q.Set("end", opts.End.UTC().Format(time.RFC3339))
	}
	for _, e := range opts.Entities {
		q.Add("entity", e)
	}
	for _, r := range opts.Resources {
		q.Add("resource", r)
	}

	var run pipeline.Run
	if err := c.do(ctx, http.MethodPost, "/v1/runs", q, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recent run.
func (c *Client) LatestRun(ctx context.Context) (*pipeline.Run, error) {
	var run pipeline.Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/latest", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Health reports the server's health. A degraded server answers 503 with
// the same body, so both decode into the response.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var health server.HealthResponse
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &health, http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	return &health, nil
}

// do sends a bodiless request and decodes a JSON response. Statuses other
// than 2xx and accept are returned as errors.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any, accept ...int) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if (resp.StatusCode < 200 || resp.StatusCode >= 300) && !slices.Contains(accept, resp.StatusCode) {
		return transport.ReadError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
