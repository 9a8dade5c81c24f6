package report

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nicktill/costcluster/pkg/cluster"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	bestStyle   = cellStyle.Foreground(lipgloss.Color("#2196F3"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2a3850"))
)

// Render formats the method comparison, the dominant resources of each
// cluster of the best result and, with a segmentation, of each usage
// pattern.
func Render(in Input, topN int, names map[int]string) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Clustering methods"))
	sb.WriteString("\n")
	sb.WriteString(methodTable(in.Results, in.Best))
	sb.WriteString("\n")

	if in.Best == nil {
		sb.WriteString(NoValidClustering)
		sb.WriteString("\n")
	} else {
		sb.WriteString(titleStyle.Render("Best: " + in.Best.Method + " (silhouette " + score(in.Best.Score) + ")"))
		sb.WriteString("\n")
		sb.WriteString(shareTable("Cluster", TopResources(in.Matrix, in.Best.Labels, topN, names)))
		sb.WriteString("\n")
	}

	if usage := usageLabels(in); usage != nil {
		sb.WriteString(titleStyle.Render("Usage patterns"))
		sb.WriteString("\n")
		sb.WriteString(shareTable("Pattern", TopResources(in.Matrix, usage, topN, names)))
		sb.WriteString("\n")
	}
	return sb.String()
}

func shareTable(key string, top []ResourceShare) string {
	rows := make([][]string, 0, len(top))
	for _, s := range top {
		rows = append(rows, []string{strconv.Itoa(s.Cluster), s.Name, s.Resource, money(s.MeanPercentage)})
	}
	return newTable(rows, nil, key, "Name", "Resource", "Mean %").Render()
}

func methodTable(results []cluster.Result, best *cluster.Result) string {
	rows := make([][]string, 0, len(results))
	bestRow := -1
	for i, r := range results {
		if best != nil && r.Method == best.Method {
			bestRow = i
		}
		s := score(r.Score)
		if !r.Valid() {
			s = "-"
		}
		rows = append(rows, []string{r.Method, param(r.Param), s, strconv.Itoa(r.Clusters()), string(r.Status)})
	}

	highlight := func(row int) bool { return row == bestRow }
	return newTable(rows, highlight, "Method", "Param", "Score", "Clusters", "Status").Render()
}

func newTable(rows [][]string, highlight func(row int) bool, headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case highlight != nil && highlight(row):
				return bestStyle
			default:
				return cellStyle
			}
		})
}
