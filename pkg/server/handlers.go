package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/httpx"
	"github.com/nicktill/costcluster/pkg/matrix"
	"github.com/nicktill/costcluster/pkg/pipeline"
	"github.com/nicktill/costcluster/pkg/report"
	"github.com/nicktill/costcluster/pkg/server/monitor"
	"github.com/nicktill/costcluster/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Run sources accepted by POST /v1/runs.
const (
	SourceSynthetic = "synthetic"
	SourceStorage   = "storage"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string              `json:"status"`
	Version    string              `json:"version"`
	Uptime     string              `json:"uptime"`
	Backend    string              `json:"backend"`
	Runs       monitor.RunStatus   `json:"runs"`
	Compaction *monitor.TaskStatus `json:"compaction,omitempty"`
	GC         *monitor.TaskStatus `json:"gc,omitempty"`
	Storage    *monitor.Usage      `json:"storage,omitempty"`
}

// RunListResponse is returned by GET /v1/runs.
type RunListResponse struct {
	Runs  []*pipeline.Run `json:"runs"`
	Count int             `json:"count"`
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(s.logger.Named("http")))
	router.Use(corsMiddleware(s.cfg.Server.Port))

	api := router.PathPrefix("/v1").Subrouter()

	// Observations
	api.HandleFunc("/observations", s.ingest.HandleIngest).Methods(http.MethodPost)
	api.HandleFunc("/observations", s.ingest.HandleQuery).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.ingest.HandleStats).Methods(http.MethodGet)

	// Pipeline runs
	api.HandleFunc("/runs", s.handleRun).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/latest", s.handleLatestRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/report", s.handleRunReport).Methods(http.MethodGet)

	// Metadata and health
	api.HandleFunc("/schema", s.handleSchema).Methods(http.MethodGet)
	api.HandleFunc("/storage", s.handleStorageUsage).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Backup and restore
	api.HandleFunc("/export", s.export.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", s.export.HandleImport).Methods(http.MethodPost)

	// Run events
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods(http.MethodGet)

	return router
}

// handleRun handles POST /v1/runs
// Query params:
//   - source: "synthetic" or "storage" (default: storage)
//   - start, end, entity, resource: storage source filters
//
// Only one run executes at a time; a concurrent request gets 409.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	src, err := s.runSource(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if !s.runMu.TryLock() {
		httpx.RespondErrorString(w, http.StatusConflict, "a run is already in progress")
		return
	}
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), config.RunTimeout)
	defer cancel()

	run, err := s.runner().Run(ctx, src)
	s.runs.Record(run)
	if err != nil {
		httpx.RespondError(w, runErrorStatus(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, run)
}

func (s *Server) runSource(r *http.Request) (pipeline.Source, error) {
	query := r.URL.Query()
	switch query.Get("source") {
	case SourceSynthetic:
		return pipeline.SyntheticSource(s.cfg.Generator), nil
	case SourceStorage, "":
		start, end, err := httpx.TimeRange(r)
		if err != nil {
			return nil, err
		}
		return pipeline.StorageSource{
			Store: s.store,
			Request: storage.QueryRequest{
				Start:     start,
				End:       end,
				Entities:  query["entity"],
				Resources: query["resource"],
			},
		}, nil
	default:
		return nil, errors.New("invalid source, must be 'synthetic' or 'storage'")
	}
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, matrix.ErrEmptyMatrix):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleListRuns handles GET /v1/runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.List()
	httpx.RespondJSON(w, http.StatusOK, RunListResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run := s.runs.Latest()
	if run == nil {
		httpx.RespondErrorString(w, http.StatusNotFound, "no runs yet")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(mux.Vars(r)["id"])
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "run not found")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, run)
}

// handleRunReport renders a finished run as the console report.
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Get(mux.Vars(r)["id"])
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "run not found")
		return
	}
	if run.Matrix == nil {
		httpx.RespondErrorString(w, http.StatusConflict, "run has no cost matrix")
		return
	}

	text := report.Render(run.ReportInput(), s.cfg.Report.TopN, s.cfg.Report.ClusterNames)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(text)); err != nil {
		s.logger.Debug("failed to write report", zap.Error(err))
	}
}

// handleSchema handles GET /v1/schema for relational backends.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	inspector, ok := s.store.(storage.SchemaInspector)
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotImplemented, "storage backend has no schema")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	schema, err := inspector.Schema(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, schema)
}

// handleStorageUsage returns current storage usage.
func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.storage.Usage()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, usage)
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Backend: s.cfg.Storage.Backend,
		Runs:    s.runs.Status(),
	}
	healthy := response.Runs.Healthy

	if s.compaction != nil {
		status := s.compaction.Status()
		response.Compaction = &status
		healthy = healthy && status.Healthy
	}
	if s.gc != nil {
		status := s.gc.Status()
		response.GC = &status
		healthy = healthy && status.Healthy
	}
	if usage, err := s.storage.Usage(); err == nil {
		response.Storage = &usage
	} else {
		s.logger.Warn("failed to compute storage usage", zap.Error(err))
	}

	statusCode := http.StatusOK
	if !healthy {
		response.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	httpx.RespondJSON(w, statusCode, response)
}

// corsMiddleware restricts cross-origin access to localhost origins.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs one line per request.
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
			}
			if rw.statusCode >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
