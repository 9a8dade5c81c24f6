package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nicktill/costcluster/pkg/httpx"
	"github.com/nicktill/costcluster/pkg/observation"
)

// DefaultTimeout bounds one ingest request.
const DefaultTimeout = 10 * time.Second

// Transport sends observation batches to a costcluster server.
type Transport interface {
	Send(ctx context.Context, obs []observation.Observation) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// HTTPTransport implements Transport using HTTP
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP creates a transport posting to endpoint, usually
// http://host:port/v1/observations.
func NewHTTP(endpoint, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
}

// Send posts obs as one ingest request. Servers reject the whole batch on
// any invalid observation.
func (t *HTTPTransport) Send(ctx context.Context, obs []observation.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	payload := struct {
		Observations []observation.Observation `json:"observations"`
	}{obs}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal observations: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ReadError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ReadError turns a failed response into a *StatusError, using the
// server's error message when the body carries one.
func ReadError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	var body httpx.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		se.Message = body.Message
	}
	return se
}
