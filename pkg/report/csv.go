package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/nicktill/costcluster/pkg/cluster"
)

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
func score(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

func param(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func label(labels []int, i int) string {
	if i >= len(labels) {
		return ""
	}
	return strconv.Itoa(labels[i])
}

func methodRows(results []cluster.Result) [][]string {
	rows := [][]string{{"method", "parameter", "score", "clusters", "status", "note"}}
	for _, r := range results {
		rows = append(rows, []string{
			r.Method,
			param(r.Param),
			score(r.Score),
			strconv.Itoa(r.Clusters()),
			string(r.Status),
			r.Note,
		})
	}
	return rows
}

// summaryRows lists every entity with its total cost and labels.
func summaryRows(in Input, names map[int]string) [][]string {
	rows := [][]string{{
		"entity", "total_cost", "method", "cluster", "cost_tier", "usage_pattern", "cluster_name",
	}}

	var tier, usage []int
	if in.Segmentation != nil {
		tier, usage = in.Segmentation.CostTier, in.Segmentation.UsagePattern
	}
	totals := in.Matrix.Totals()
	for i, e := range in.Matrix.Entities {
		l := in.Best.Labels[i]
		rows = append(rows, []string{
			e,
			money(totals[i]),
			in.Best.Method,
			strconv.Itoa(l),
			label(tier, i),
			label(usage, i),
			ClusterName(names, l),
		})
	}
	return rows
}

func topRows(top []ResourceShare) [][]string {
	return shareRows("cluster", top)
}

func usagePatternRows(top []ResourceShare) [][]string {
	return shareRows("usage_pattern", top)
}

func shareRows(key string, top []ResourceShare) [][]string {
	rows := [][]string{{key, "cluster_name", "resource", "mean_percentage"}}
	for _, s := range top {
		rows = append(rows, []string{strconv.Itoa(s.Cluster), s.Name, s.Resource, money(s.MeanPercentage)})
	}
	return rows
}
