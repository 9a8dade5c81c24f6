package cluster

import (
	"fmt"
	"math"

	"github.com/nicktill/costcluster/pkg/matrix"
)

// SegmentConfig sets the fixed cluster counts of the two segmentations
// and the k range of the diagnostic sweep. Restarts applies to every
// k-means fit, fixed or swept.
type SegmentConfig struct {
	CostTierK     int
	UsagePatternK int
	SweepKMin     int
	SweepKMax     int
	Restarts      int
}

// DefaultSegmentConfig returns six tiers, six patterns and a 2..9 sweep.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{CostTierK: 6, UsagePatternK: 6, SweepKMin: 2, SweepKMax: 9, Restarts: 10}
}

// Segmentation labels every entity twice: by how much it spends and by
// how its spend is spread over resources.
type Segmentation struct {
	CostTier      []int   `json:"cost_tier"`
	CostTierK     int     `json:"cost_tier_k"`
	UsagePattern  []int   `json:"usage_pattern"`
	UsagePatternK int     `json:"usage_pattern_k"`
	CostTierSweep []Trial `json:"cost_tier_sweep"`
	UsageSweep    []Trial `json:"usage_sweep"`
}

// Segment computes both segmentations and their silhouette sweeps.
// Negative totals are treated as zero before the log transform.
func Segment(m *matrix.CostMatrix, cfg SegmentConfig) (Segmentation, error) {
	totals := m.Totals()
	for i, v := range totals {
		totals[i] = math.Max(v, 0)
	}
	tier := matrix.Rows2D(matrix.Standardize(matrix.ColumnVector(matrix.Log1p(totals))))
	usage := matrix.Rows2D(matrix.Standardize(matrix.Normalize(m).Features()))

	var (
		s   Segmentation
		err error
	)
	if s.CostTierK, s.CostTier, err = fixedK(tier, cfg.CostTierK, cfg.Restarts); err != nil {
		return Segmentation{}, fmt.Errorf("cost tier: %w", err)
	}
	if s.UsagePatternK, s.UsagePattern, err = fixedK(usage, cfg.UsagePatternK, cfg.Restarts); err != nil {
		return Segmentation{}, fmt.Errorf("usage pattern: %w", err)
	}
	s.CostTierSweep = Sweep(tier, cfg.SweepKMin, cfg.SweepKMax, cfg.Restarts)
	s.UsageSweep = Sweep(usage, cfg.SweepKMin, cfg.SweepKMax, cfg.Restarts)
	return s, nil
}

// fixedK clips k to n-1 (at least 1) and fits k-means.
func fixedK(points [][]float64, k, restarts int) (int, []int, error) {
	k = max(min(k, len(points)-1), 1)
	km := DefaultKMeans(k)
	km.Restarts = max(restarts, 1)
	fit, err := km.Fit(points)
	if err != nil {
		return k, nil, err
	}
	return k, fit.Labels, nil
}

// Sweep fits k-means for every k in [kmin, kmax] clipped to n-1 and
// returns the silhouette of each. A failed fit scores InvalidScore.
func Sweep(points [][]float64, kmin, kmax, restarts int) []Trial {
	dist := Distances(points)
	hi := min(kmax, len(points)-1)

	var out []Trial
	for k := max(kmin, 2); k <= hi; k++ {
		km := DefaultKMeans(k)
		km.Restarts = max(restarts, 1)
		score := InvalidScore
		if fit, err := km.Fit(points); err == nil {
			score = SilhouetteFromDistances(dist, fit.Labels)
		}
		out = append(out, Trial{Param: k, Score: score})
	}
	return out
}
