// Package ingest accepts cost observations over HTTP, serves them back
// and streams pipeline run events to websocket clients.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/httpx"
	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// StorageChecker reports whether the store may accept more data.
type StorageChecker interface {
	Full() (bool, error)
}

// Handler handles observation ingestion and queries
type Handler struct {
	storage     storage.Storage
	cardinality *CardinalityTracker
	checker     StorageChecker
	strict      bool
	logger      *zap.Logger
}

// NewHandler creates a new ingest handler. With strict set, negative
// costs are rejected.
func NewHandler(store storage.Storage, strict bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		storage:     store,
		cardinality: NewCardinalityTracker(),
		strict:      strict,
		logger:      logger,
	}
}

// SetStorageChecker enables the storage limit check on ingest.
func (h *Handler) SetStorageChecker(c StorageChecker) {
	h.checker = c
}

// Cardinality exposes the tracker, e.g. for seeding at startup.
func (h *Handler) Cardinality() *CardinalityTracker {
	return h.cardinality
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Observations []observation.Observation `json:"observations"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// HandleIngest handles POST /v1/observations. The whole batch is rejected
// if any observation is invalid.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(req.Observations) > observation.MaxObservationsRequest {
		httpx.RespondError(w, http.StatusBadRequest,
			fmt.Errorf("%w: got %d", observation.ErrTooManyObservations, len(req.Observations)))
		return
	}
	for i, o := range req.Observations {
		if err := observation.Validate(o, h.strict); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid observation %d: %w", i, err))
			return
		}
	}

	if h.checker != nil {
		full, err := h.checker.Full()
		if err != nil {
			h.logger.Warn("storage usage check failed", zap.Error(err))
		} else if full {
			httpx.RespondError(w, http.StatusInsufficientStorage, ErrStorageFull)
			return
		}
	}

	if err := h.cardinality.Check(req.Observations); err != nil {
		httpx.RespondError(w, http.StatusUnprocessableEntity, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()
	if err := h.storage.Write(ctx, req.Observations); err != nil {
		h.logger.Error("failed to store observations", zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to store observations: %w", err))
		return
	}
	h.cardinality.Record(req.Observations)

	h.logger.Debug("observations ingested", zap.Int("count", len(req.Observations)))
	httpx.RespondJSON(w, http.StatusOK, IngestResponse{Status: "success", Count: len(req.Observations)})
}

// QueryResponse is returned by HandleQuery.
type QueryResponse struct {
	Observations []observation.Observation `json:"observations"`
	Count        int                       `json:"count"`
	Limit        int                       `json:"limit"`
}

// HandleQuery handles GET /v1/observations
// Query params:
//   - entity, resource: repeatable filters
//   - start, end: optional timestamps
//   - limit: max observations (default config.QueryDefaultLimit)
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	start, end, err := httpx.TimeRange(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := httpx.IntParam(r, "limit", config.QueryDefaultLimit, config.QueryMaxLimit)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if limit == 0 {
		limit = config.QueryDefaultLimit
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	query := r.URL.Query()
	obs, err := h.storage.Query(ctx, storage.QueryRequest{
		Start:     start,
		End:       end,
		Entities:  query["entity"],
		Resources: query["resource"],
		Limit:     limit,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		httpx.RespondError(w, status, fmt.Errorf("query failed: %w", err))
		return
	}
	if obs == nil {
		obs = []observation.Observation{}
	}
	httpx.RespondJSON(w, http.StatusOK, QueryResponse{Observations: obs, Count: len(obs), Limit: limit})
}

// StatsResponse combines storage and cardinality statistics.
type StatsResponse struct {
	Storage     *storage.Stats   `json:"storage"`
	Cardinality CardinalityStats `json:"cardinality"`
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	stats, err := h.storage.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to get stats: %w", err))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, StatsResponse{Storage: stats, Cardinality: h.cardinality.Stats()})
}
