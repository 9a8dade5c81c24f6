package export

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/httpx"
	"github.com/nicktill/costcluster/pkg/storage"
)

// maxLoggedErrors caps how many validation errors an import logs.
const maxLoggedErrors = 10

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	logger   *zap.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Storage, strict bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	importer := NewImporter(store)
	importer.Strict = strict
	return &Handler{
		exporter: NewExporter(store),
		importer: importer,
		logger:   logger,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start, end: RFC3339 timestamps (default: unbounded)
//   - entity, resource: repeatable filters
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = config.DefaultExportFormat
	}
	if format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json' or 'csv'")
		return
	}

	start, end, err := httpx.TimeRange(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	opts := ExportOptions{
		Start:     start,
		End:       end,
		Entities:  query["entity"],
		Resources: query["resource"],
		Format:    format,
	}

	timestamp := time.Now().Format("20060102-150405")
	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=costcluster-export-%s.%s", timestamp, format))

	result, err := h.exporter.Export(r.Context(), w, opts)
	if err != nil {
		// Headers may already be sent; the status is best effort
		h.logger.Error("export failed", zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.Info("export finished",
		zap.Int("observations", result.ObservationsExported),
		zap.String("format", format),
		zap.String("range", result.TimeRange),
	)
}

// HandleImport handles POST /v1/import
// Accepts JSON export documents or CSV, selected by Content-Type.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/csv")
		return
	}

	var format string
	switch {
	case mediaType == "application/json":
		format = FormatJSON
	case mediaType == "text/csv" || strings.HasSuffix(mediaType, "/csv"):
		format = FormatCSV
	default:
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/csv")
		return
	}

	result, err := h.importer.Import(r.Context(), r.Body, format)
	if err != nil {
		h.logger.Error("import failed", zap.Error(err))
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(result.Errors) > 0 {
		h.logger.Warn("import completed with validation errors",
			zap.Int("errors", len(result.Errors)),
			zap.Strings("first", result.Errors[:min(len(result.Errors), maxLoggedErrors)]),
		)
	}
	h.logger.Info("import finished",
		zap.Int("observations", result.ObservationsImported),
		zap.Int("batches", result.BatchesWritten),
		zap.String("range", result.TimeRange),
	)

	httpx.RespondJSON(w, http.StatusOK, result)
}
