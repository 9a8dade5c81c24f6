// Package pipeline runs one end-to-end clustering pass: load cost cells,
// pivot them into a matrix, run the analyzer battery, segment, report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/nicktill/costcluster/pkg/cluster"
	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/matrix"
	"github.com/nicktill/costcluster/pkg/report"
)

// Stage names a step of a run.
type Stage string

const (
	StageLoad    Stage = "load"
	StagePivot   Stage = "pivot"
	StageCluster Stage = "cluster"
	StageSegment Stage = "segment"
	StageReport  Stage = "report"
	StageDone    Stage = "done"
	StageFailed  Stage = "failed"
)

// NoBestMethod is recorded when no method produced a valid clustering.
const NoBestMethod = "none"

// Event is published when a run enters a stage.
type Event struct {
	RunID   string    `json:"run_id"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Sink receives run events. Publish must not block for long.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Options configures a runner.
type Options struct {
	Analysis     cluster.Config         `json:"analysis"`
	Caps         cluster.Capabilities   `json:"capabilities"`
	Segmentation *cluster.SegmentConfig `json:"segmentation,omitempty"` // nil skips segmentation
	Normalize    bool                   `json:"normalize"`
	Report       report.Options         `json:"report"`
	WriteReport  bool                   `json:"write_report"`
}

// FromConfig maps the file configuration onto runner options.
func FromConfig(cfg *config.Config) Options {
	a := cfg.Analysis
	opts := Options{
		Analysis: cluster.Config{
			KMin:                  a.KMin,
			KMax:                  a.KMax,
			Restarts:              a.KMeansRestarts,
			Seed:                  a.Seed,
			GMMMaxComponents:      a.GMMMaxComponent,
			DBSCANNeighbors:       a.DBSCANNeighbors,
			DBSCANPercentile:      a.DBSCANPercent,
			DBSCANMinSamples:      a.DBSCANMinPoints,
			HDBSCANMinClusterSize: a.HDBSCANMinSize,
			LouvainThreshold:      a.LouvainCutoff,
		},
		Caps:      cluster.Capabilities{HDBSCAN: a.EnableHDBSCAN, Louvain: a.EnableLouvain},
		Normalize: a.Normalize,
		Report: report.Options{
			OutputDir:    cfg.Report.OutputDir,
			TopN:         cfg.Report.TopN,
			Plots:        cfg.Report.Plots,
			ClusterNames: cfg.Report.ClusterNames,
		},
		WriteReport: cfg.Report.OutputDir != "",
	}
	if s := cfg.Segmentation; s.Enabled {
		opts.Segmentation = &cluster.SegmentConfig{
			CostTierK:     s.CostTierK,
			UsagePatternK: s.UsagePatternK,
			SweepKMin:     s.SweepKMin,
			SweepKMax:     s.SweepKMax,
			Restarts:      a.KMeansRestarts,
		}
	}
	return opts
}

// Run is the record of one pipeline pass.
type Run struct {
	ID           string                `json:"id"`
	Source       string                `json:"source"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	Config       Options               `json:"config"`
	Entities     []string              `json:"entities"`
	Resources    []string              `json:"resources"`
	Results      []cluster.Result      `json:"results"`
	Best         *cluster.Result       `json:"best,omitempty"`
	BestMethod   string                `json:"best_method"`
	Segmentation *cluster.Segmentation `json:"segmentation,omitempty"`
	Files        *report.Files         `json:"files,omitempty"`
	Error        string                `json:"error,omitempty"`

	Matrix *matrix.CostMatrix `json:"-"`
}

// Duration is how long the run took, or zero while it is in flight.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ReportInput returns the run as report input.
func (r *Run) ReportInput() report.Input {
	return report.Input{
		Matrix:       r.Matrix,
		Results:      r.Results,
		Best:         r.Best,
		Segmentation: r.Segmentation,
	}
}

// Runner executes pipeline passes. It holds no per-run state and may be
// reused; callers serialize runs if they share an output directory.
type Runner struct {
	opts   Options
	logger *zap.Logger
	sink   Sink
}

// NewRunner creates a runner. logger and sink may be nil.
func NewRunner(opts Options, logger *zap.Logger, sink Sink) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, logger: logger, sink: sink}
}

// Run executes one pass over src. The returned Run is non-nil even on
// error and carries the failure message. Context cancellation is checked
// between stages.
func (r *Runner) Run(ctx context.Context, src Source) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		Source:     src.Name(),
		StartedAt:  time.Now().UTC(),
		Config:     r.opts,
		BestMethod: NoBestMethod,
	}
	log := r.logger.With(zap.String("run_id", run.ID), zap.String("source", run.Source))

	err := r.execute(ctx, src, run, log)
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Error = err.Error()
		r.emit(run.ID, StageFailed, run.Error)
		log.Error("run failed", zap.Error(err))
		return run, err
	}

	r.emit(run.ID, StageDone, fmt.Sprintf("best method %s", run.BestMethod))
	log.Info("run finished",
		zap.String("best", run.BestMethod),
		zap.Int("entities", len(run.Entities)),
		zap.Duration("took", run.Duration()),
	)
	return run, nil
}

func (r *Runner) execute(ctx context.Context, src Source, run *Run, log *zap.Logger) error {
	r.emit(run.ID, StageLoad, "loading observations from "+src.Name())
	cells, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load observations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.emit(run.ID, StagePivot, fmt.Sprintf("%d cells", len(cells)))
	m, err := matrix.FromCells(cells)
	if err != nil {
		return fmt.Errorf("failed to pivot: %w", err)
	}
	run.Matrix = m
	run.Entities = m.Entities
	run.Resources = m.Resources
	log.Debug("matrix built", zap.Int("entities", m.Rows()), zap.Int("resources", len(m.Resources)))
	if err := ctx.Err(); err != nil {
		return err
	}

	r.emit(run.ID, StageCluster, fmt.Sprintf("%d entities", m.Rows()))
	results, err := cluster.NewAnalyzer(r.opts.Analysis, r.opts.Caps, log).Run(ctx, r.features(m))
	if err != nil {
		return fmt.Errorf("analysis interrupted: %w", err)
	}
	run.Results = results

	best, err := cluster.Best(results)
	switch {
	case errors.Is(err, cluster.ErrNoValidClustering):
		log.Warn("no valid clustering found")
	case err != nil:
		return err
	default:
		run.Best = &best
		run.BestMethod = best.Method
	}

	if r.opts.Segmentation != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.emit(run.ID, StageSegment, "")
		seg, err := cluster.Segment(m, *r.opts.Segmentation)
		if err != nil {
			return fmt.Errorf("segmentation failed: %w", err)
		}
		run.Segmentation = &seg
	}

	if r.opts.WriteReport {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.emit(run.ID, StageReport, r.opts.Report.OutputDir)
		files, err := report.NewWriter(r.opts.Report, log).Write(run.ReportInput())
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		run.Files = &files
	}
	return nil
}

// features returns the standardized clustering input, optionally on
// percentage composition instead of absolute cost.
func (r *Runner) features(m *matrix.CostMatrix) mat.Matrix {
	if r.opts.Normalize {
		return matrix.Standardize(matrix.Normalize(m).Features())
	}
	return matrix.Standardize(m.Features())
}

func (r *Runner) emit(id string, stage Stage, msg string) {
	if r.sink == nil {
		return
	}
	r.sink.Publish(Event{RunID: id, Stage: stage, Message: msg, Time: time.Now().UTC()})
}
