package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// columnAliases maps accepted CSV header names to observation fields.
// The long names come from the cost report layout the demo data mirrors.
var columnAliases = map[string]string{
	"entity":           "entity",
	"application_name": "entity",
	"resource":         "resource",
	"product_name":     "resource",
	"cost":             "cost",
	"eur_total_costs":  "cost",
	"day":              "day",
	"timestamp":        "timestamp",
}

// Importer handles importing observations from backup files
type Importer struct {
	storage storage.Storage

	// Strict rejects negative costs
	Strict bool
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	ObservationsImported int       `json:"observations_imported"`
	BatchesWritten       int       `json:"batches_written"`
	TimeRange            string    `json:"time_range"`
	ImportedAt           time.Time `json:"imported_at"`
	Errors               []string  `json:"errors,omitempty"`
}

// Import reads observations in the given format and stores the valid ones.
func (im *Importer) Import(ctx context.Context, r io.Reader, format string) (*ImportResult, error) {
	switch format {
	case FormatJSON, "":
		return im.ImportFromJSON(ctx, r)
	case FormatCSV:
		return im.ImportFromCSV(ctx, r)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
}

// ImportFromJSON imports observations from a JSON export document
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return im.store(ctx, doc.Observations, nil)
}

// ImportFromCSV imports observations from CSV with a header row. Entity,
// resource and cost columns are required; day and timestamp are optional.
// Rows that fail to parse are reported and skipped.
func (im *Importer) ImportFromCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var obs []observation.Observation
	var parseErrors []string
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		o, err := parseRecord(rec, cols)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		obs = append(obs, o)
	}
	return im.store(ctx, obs, parseErrors)
}

// store validates and writes observations in batches.
func (im *Importer) store(ctx context.Context, obs []observation.Observation, errs []string) (*ImportResult, error) {
	valid := make([]observation.Observation, 0, len(obs))
	for i, o := range obs {
		if err := observation.Validate(o, im.Strict); err != nil {
			errs = append(errs, fmt.Sprintf("observation %d: %v", i, err))
			continue
		}
		valid = append(valid, o)
	}

	// Write in batches to avoid overwhelming storage
	batchCount := 0
	for i := 0; i < len(valid); i += config.MaxImportBatchSize {
		end := min(i+config.MaxImportBatchSize, len(valid))
		if err := im.storage.Write(ctx, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", batchCount, err)
		}
		batchCount++
	}

	return &ImportResult{
		ObservationsImported: len(valid),
		BatchesWritten:       batchCount,
		TimeRange:            timeRange(valid),
		ImportedAt:           time.Now().UTC(),
		Errors:               errs,
	}, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, h := range header {
		if field, ok := columnAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	for _, req := range []string{"entity", "resource", "cost"} {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}
	return cols, nil
}

func parseRecord(rec []string, cols map[string]int) (observation.Observation, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	o := observation.Observation{Entity: field("entity"), Resource: field("resource")}

	cost, err := strconv.ParseFloat(field("cost"), 64)
	if err != nil {
		return o, fmt.Errorf("invalid cost: %w", err)
	}
	o.Cost = cost

	if v := field("day"); v != "" {
		if o.Day, err = strconv.Atoi(v); err != nil {
			return o, fmt.Errorf("invalid day: %w", err)
		}
	}
	if v := field("timestamp"); v != "" {
		if o.Timestamp, err = time.Parse(time.RFC3339, v); err != nil {
			return o, fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return o, nil
}
