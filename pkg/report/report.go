// Package report turns a clustering run into per-cluster resource
// summaries, CSV files, console tables and silhouette and BIC plots.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/nicktill/costcluster/pkg/cluster"
	"github.com/nicktill/costcluster/pkg/matrix"
)

// Output file names
const (
	SummaryFile      = "cluster_summary.csv"
	TopResourcesFile = "top_resources_per_cluster.csv"
	MethodsFile      = "method_results.csv"
	UsagePatternFile = "top_resources_per_usage_pattern.csv"
)

// NoValidClustering is printed in place of cluster tables when no method
// produced a usable assignment.
const NoValidClustering = "no valid clustering found"

// Options configures report output.
type Options struct {
	OutputDir    string
	TopN         int
	Plots        bool
	ClusterNames map[int]string
}

// Input is everything a report is built from. Best and Segmentation are
// optional.
type Input struct {
	Matrix       *matrix.CostMatrix
	Results      []cluster.Result
	Best         *cluster.Result
	Segmentation *cluster.Segmentation
}

// Files lists the paths a report wrote.
type Files struct {
	Summary      string   `json:"summary,omitempty"`
	TopResources string   `json:"top_resources,omitempty"`
	Methods      string   `json:"methods"`
	UsagePattern string   `json:"usage_pattern,omitempty"`
	Plots        []string `json:"plots,omitempty"`
}

// ResourceShare is one row of the per-cluster dominant resource table.
type ResourceShare struct {
	Cluster        int     `json:"cluster"`
	Name           string  `json:"name,omitempty"`
	Resource       string  `json:"resource"`
	MeanPercentage float64 `json:"mean_percentage"`
}

// TopResources groups entities by label and returns, per cluster in
// ascending label order, the n resources with the highest mean share of
// row-normalized cost. Ties are broken by resource name.
func TopResources(m *matrix.CostMatrix, labels []int, n int, names map[int]string) []ResourceShare {
	if m == nil || len(labels) != m.Rows() || n < 1 {
		return nil
	}
	pct := matrix.Normalize(m)
	nr := len(m.Resources)

	members := make(map[int][]int)
	for i, l := range labels {
		members[l] = append(members[l], i)
	}
	ids := make([]int, 0, len(members))
	for l := range members {
		ids = append(ids, l)
	}
	sort.Ints(ids)

	var out []ResourceShare
	mean := make([]float64, nr)
	for _, l := range ids {
		clear(mean)
		for _, i := range members[l] {
			floats.Add(mean, pct.Data.RawRowView(i)[:nr])
		}
		floats.Scale(1/float64(len(members[l])), mean)

		shares := make([]ResourceShare, nr)
		for j, r := range m.Resources {
			shares[j] = ResourceShare{Cluster: l, Name: ClusterName(names, l), Resource: r, MeanPercentage: mean[j]}
		}
		sort.SliceStable(shares, func(a, b int) bool {
			if shares[a].MeanPercentage != shares[b].MeanPercentage {
				return shares[a].MeanPercentage > shares[b].MeanPercentage
			}
			return shares[a].Resource < shares[b].Resource
		})
		out = append(out, shares[:min(n, nr)]...)
	}
	return out
}

// usageLabels returns the usage-pattern labels of in, or nil when there
// is no segmentation covering every entity.
func usageLabels(in Input) []int {
	if in.Segmentation == nil || in.Matrix == nil || len(in.Segmentation.UsagePattern) != in.Matrix.Rows() {
		return nil
	}
	return in.Segmentation.UsagePattern
}

// ClusterName returns the configured name for a label. Noise is always
// "noise"; unnamed labels are empty.
func ClusterName(names map[int]string, label int) string {
	if label == cluster.Noise {
		return "noise"
	}
	return names[label]
}

// Writer persists reports to a directory.
type Writer struct {
	opts   Options
	logger *zap.Logger
}

// NewWriter creates a report writer. A nil logger discards output.
func NewWriter(opts Options, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopN < 1 {
		opts.TopN = 3
	}
	return &Writer{opts: opts, logger: logger}
}

// Write creates the output directory if needed and writes the method
// table, plus the cluster summary and top resources when a best result
// exists and the top resources per usage pattern when a segmentation
// exists. Writing the same input twice yields identical files.
func (w *Writer) Write(in Input) (Files, error) {
	if err := os.MkdirAll(w.opts.OutputDir, 0755); err != nil {
		return Files{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	files := Files{Methods: filepath.Join(w.opts.OutputDir, MethodsFile)}
	if err := writeCSV(files.Methods, methodRows(in.Results)); err != nil {
		return Files{}, err
	}

	if in.Best == nil {
		w.logger.Warn(NoValidClustering, zap.Int("methods", len(in.Results)))
	} else {
		files.Summary = filepath.Join(w.opts.OutputDir, SummaryFile)
		if err := writeCSV(files.Summary, summaryRows(in, w.opts.ClusterNames)); err != nil {
			return Files{}, err
		}

		files.TopResources = filepath.Join(w.opts.OutputDir, TopResourcesFile)
		top := TopResources(in.Matrix, in.Best.Labels, w.opts.TopN, w.opts.ClusterNames)
		if err := writeCSV(files.TopResources, topRows(top)); err != nil {
			return Files{}, err
		}
	}

	if usage := usageLabels(in); usage != nil {
		files.UsagePattern = filepath.Join(w.opts.OutputDir, UsagePatternFile)
		top := TopResources(in.Matrix, usage, w.opts.TopN, w.opts.ClusterNames)
		if err := writeCSV(files.UsagePattern, usagePatternRows(top)); err != nil {
			return Files{}, err
		}
	}

	if w.opts.Plots {
		plots, err := writePlots(w.opts.OutputDir, in)
		if err != nil {
			return Files{}, err
		}
		files.Plots = plots
	}

	w.logger.Info("report written",
		zap.String("dir", w.opts.OutputDir),
		zap.Bool("best", in.Best != nil),
		zap.Int("plots", len(files.Plots)),
	)
	return files, nil
}
