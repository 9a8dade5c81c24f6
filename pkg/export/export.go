package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// Supported formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// FormatVersion is written to JSON metadata.
const FormatVersion = "1.0"

// CSVHeader is the column order of CSV exports.
var CSVHeader = []string{"entity", "resource", "cost", "day", "timestamp"}

// Exporter handles exporting observations to various formats
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Time range to export; zero values leave the range open
	Start time.Time
	End   time.Time

	// Filters (nil = everything)
	Entities  []string
	Resources []string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	ObservationsExported int       `json:"observations_exported"`
	TimeRange            string    `json:"time_range"`
	Format               string    `json:"format"`
	ExportedAt           time.Time `json:"exported_at"`
}

// Metadata describes a JSON export.
type Metadata struct {
	ExportedAt       time.Time `json:"exported_at"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	ObservationCount int       `json:"observation_count"`
	Format           string    `json:"format"`
	Version          string    `json:"version"`
}

// Document is the JSON export envelope. Import reads the same shape.
type Document struct {
	Metadata     Metadata                  `json:"metadata"`
	Observations []observation.Observation `json:"observations"`
}

// Export writes observations in opts.Format.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	switch opts.Format {
	case FormatJSON, "":
		return e.ExportToJSON(ctx, w, opts)
	case FormatCSV:
		return e.ExportToCSV(ctx, w, opts)
	default:
		return nil, fmt.Errorf("unsupported export format %q", opts.Format)
	}
}

// ExportToJSON exports observations as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	obs, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:       time.Now().UTC(),
			StartTime:        opts.Start,
			EndTime:          opts.End,
			ObservationCount: len(obs),
			Format:           FormatJSON,
			Version:          FormatVersion,
		},
		Observations: obs,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		ObservationsExported: len(obs),
		TimeRange:            timeRange(obs),
		Format:               FormatJSON,
		ExportedAt:           doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports observations as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	obs, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, o := range obs {
		ts := ""
		if !o.Timestamp.IsZero() {
			ts = o.Timestamp.UTC().Format(time.RFC3339)
		}
		row := []string{
			o.Entity,
			o.Resource,
			strconv.FormatFloat(o.Cost, 'f', -1, 64),
			strconv.Itoa(o.Day),
			ts,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		ObservationsExported: len(obs),
		TimeRange:            timeRange(obs),
		Format:               FormatCSV,
		ExportedAt:           time.Now().UTC(),
	}, nil
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]observation.Observation, error) {
	obs, err := e.storage.Query(ctx, storage.QueryRequest{
		Start:     opts.Start,
		End:       opts.End,
		Entities:  opts.Entities,
		Resources: opts.Resources,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	return obs, nil
}

// timeRange formats the span of observation timestamps, ignoring zero ones.
func timeRange(obs []observation.Observation) string {
	var lo, hi time.Time
	for _, o := range obs {
		if o.Timestamp.IsZero() {
			continue
		}
		if lo.IsZero() || o.Timestamp.Before(lo) {
			lo = o.Timestamp
		}
		if o.Timestamp.After(hi) {
			hi = o.Timestamp
		}
	}
	if lo.IsZero() {
		return "empty"
	}
	return fmt.Sprintf("%s to %s", lo.UTC().Format(time.RFC3339), hi.UTC().Format(time.RFC3339))
}
