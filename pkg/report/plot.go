package report

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/nicktill/costcluster/pkg/cluster"
)

// PlotFile returns the file name of the silhouette plot for name.
func PlotFile(name string) string {
	return "silhouette_" + slug(name) + ".png"
}

// BICFile returns the file name of the BIC plot for name.
func BICFile(name string) string {
	return "bic_" + slug(name) + ".png"
}

func slug(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// writePlots draws silhouette-vs-parameter lines for every method that
// searched over a parameter, then for the segmentation sweeps. Methods
// whose trials carry a BIC (the mixture model) also get a BIC plot.
func writePlots(dir string, in Input) ([]string, error) {
	type series struct {
		name   string
		xLabel string
		trials []cluster.Trial
	}

	var all []series
	for _, r := range in.Results {
		all = append(all, series{name: r.Method, xLabel: "clusters", trials: r.Trials})
	}
	if s := in.Segmentation; s != nil {
		all = append(all,
			series{name: "cost tier", xLabel: "k", trials: s.CostTierSweep},
			series{name: "usage pattern", xLabel: "k", trials: s.UsageSweep},
		)
	}

	var paths []string
	for _, s := range all {
		pts := validPoints(s.trials)
		if len(pts) < 2 {
			continue
		}
		path := filepath.Join(dir, PlotFile(s.name))
		if err := savePlot(path, "Silhouette score: "+s.name, s.xLabel, "silhouette", pts); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	for _, r := range in.Results {
		pts := bicPoints(r.Trials)
		if len(pts) < 2 {
			continue
		}
		path := filepath.Join(dir, BICFile(r.Method))
		if err := savePlot(path, "BIC: "+r.Method, "components", "BIC (lower is better)", pts); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func bicPoints(trials []cluster.Trial) plotter.XYs {
	var pts plotter.XYs
	for _, t := range trials {
		if t.BIC != 0 && !math.IsNaN(t.BIC) && !math.IsInf(t.BIC, 0) {
			pts = append(pts, plotter.XY{X: float64(t.Param), Y: t.BIC})
		}
	}
	return pts
}

func validPoints(trials []cluster.Trial) plotter.XYs {
	var pts plotter.XYs
	for _, t := range trials {
		if cluster.ValidScore(t.Score) {
			pts = append(pts, plotter.XY{X: float64(t.Param), Y: t.Score})
		}
	}
	return pts
}

func savePlot(path, title, xLabel, yLabel string, pts plotter.XYs) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	if err := plotutil.AddLinePoints(p, yLabel, pts); err != nil {
		return fmt.Errorf("failed to plot %s: %w", title, err)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
