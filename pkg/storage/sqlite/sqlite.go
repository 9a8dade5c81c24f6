package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nicktill/costcluster/pkg/observation"
	"github.com/nicktill/costcluster/pkg/storage"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity TEXT NOT NULL,
	resource TEXT NOT NULL,
	cost REAL NOT NULL,
	day INTEGER NOT NULL,
	ts INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_observations_series ON observations(entity, resource);
CREATE INDEX IF NOT EXISTS idx_observations_ts ON observations(ts);
`

// Storage implements storage.Storage on a SQLite database.
type Storage struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Config holds SQLite configuration
type Config struct {
	// Path to the database file, or MemoryPath
	Path   string
	Logger *zap.Logger
}

// New opens (or creates) the database and ensures the schema exists.
func New(cfg Config) (*Storage, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	path := cfg.Path
	if path == "" {
		path = MemoryPath
	}
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("sqlite storage opened", zap.String("path", path))
	return &Storage{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.path
}

// Write inserts observations in a single transaction.
func (s *Storage) Write(ctx context.Context, obs []observation.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (entity, resource, cost, day, ts) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.Entity, o.Resource, o.Cost, o.Day, toNanos(o.Timestamp)); err != nil {
			return fmt.Errorf("failed to write observation: %w", err)
		}
	}

	return tx.Commit()
}

// Query retrieves observations matching the request in insertion order.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]observation.Observation, error) {
	where, args := whereClause(req.Start, req.End, req.Entities, req.Resources, false)

	q := "SELECT entity, resource, cost, day, ts FROM observations" + where + " ORDER BY id"
	if req.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, req.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var results []observation.Observation
	for rows.Next() {
		var o observation.Observation
		var ts int64
		if err := rows.Scan(&o.Entity, &o.Resource, &o.Cost, &o.Day, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Timestamp = fromNanos(ts)
		results = append(results, o)
	}
	return results, rows.Err()
}

// Delete removes observations matching opts.
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	where, args := whereClause(time.Time{}, opts.Before, opts.Entities, nil, true)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM observations"+where, args...); err != nil {
		return fmt.Errorf("failed to delete observations: %w", err)
	}
	return nil
}

// Stats returns storage statistics.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT entity),
		       MIN(NULLIF(ts, 0)),
		       MAX(NULLIF(ts, 0))
		FROM observations`).Scan(&stats.TotalObservations, &stats.TotalEntities, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT DISTINCT entity, resource FROM observations)`).Scan(&stats.TotalSeries)
	if err != nil {
		return nil, fmt.Errorf("failed to count series: %w", err)
	}

	if oldest.Valid {
		stats.Oldest = fromNanos(oldest.Int64)
	}
	if newest.Valid {
		stats.Newest = fromNanos(newest.Int64)
	}

	if s.path != MemoryPath {
		if fi, err := os.Stat(s.path); err == nil {
			stats.SizeBytes = uint64(fi.Size())
		}
	}
	return stats, nil
}

// Schema returns every user table with its columns and row count.
func (s *Storage) Schema(ctx context.Context) (map[string]storage.TableSchema, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make(map[string]storage.TableSchema, len(tables))
	for _, table := range tables {
		ts, err := s.tableSchema(ctx, table)
		if err != nil {
			return nil, err
		}
		result[table] = ts
	}
	return result, nil
}

func (s *Storage) tableSchema(ctx context.Context, table string) (storage.TableSchema, error) {
	var ts storage.TableSchema
	quoted := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`

	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoted+")")
	if err != nil {
		return ts, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			col       storage.Column
			notNull   int
			dflt      sql.NullString
			pkOrdinal int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pkOrdinal); err != nil {
			return ts, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		col.NotNull = notNull != 0
		col.PrimaryKey = pkOrdinal > 0
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return ts, err
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&ts.Rows); err != nil {
		return ts, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return ts, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// whereClause builds the filter shared by Query and Delete.
// endExclusive selects "ts < end" (delete cutoffs) instead of "ts <= end".
func whereClause(start, end time.Time, entities, resources []string, endExclusive bool) (string, []any) {
	var conds []string
	var args []any

	if !start.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, toNanos(start))
	}
	if !end.IsZero() {
		if endExclusive {
			conds = append(conds, "ts < ?")
		} else {
			conds = append(conds, "ts <= ?")
		}
		args = append(args, toNanos(end))
	}
	if len(entities) > 0 {
		conds = append(conds, "entity IN ("+placeholders(len(entities))+")")
		for _, e := range entities {
			args = append(args, e)
		}
	}
	if len(resources) > 0 {
		conds = append(conds, "resource IN ("+placeholders(len(resources))+")")
		for _, r := range resources {
			args = append(args, r)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
