package cluster

import (
	"fmt"

	"github.com/mpraski/clusters"
)

// KMeans configures the k-means clusterer.
type KMeans struct {
	K        int
	Restarts int // independent fits; lowest inertia wins
	MaxIter  int // per fit
}

// KMeansResult is the best restart of a fit.
type KMeansResult struct {
	Labels    []int
	Centroids [][]float64
	Inertia   float64
}

// DefaultKMeans returns the settings used across the analyzer.
func DefaultKMeans(k int) KMeans {
	return KMeans{K: k, Restarts: 10, MaxIter: 300}
}

// Fit clusters points into at most K groups. K is clipped to
// [1, len(points)]. Labels are numbered by first appearance, so equal
// partitions from different restarts compare equal.
func (km KMeans) Fit(points [][]float64) (KMeansResult, error) {
	n := len(points)
	if n == 0 {
		return KMeansResult{}, nil
	}
	k := min(max(km.K, 1), n)
	if k == 1 {
		// The library needs two clusters
		return summarize(points, make([]int, n)), nil
	}

	var best KMeansResult
	for r := 0; r < max(km.Restarts, 1); r++ {
		c, err := clusters.KMeans(max(km.MaxIter, 1), k, clusters.EuclideanDistance)
		if err != nil {
			return KMeansResult{}, fmt.Errorf("k=%d: %w", k, err)
		}
		if err := c.Learn(points); err != nil {
			return KMeansResult{}, fmt.Errorf("k=%d: %w", k, err)
		}

		res := summarize(points, fromGuesses(c.Guesses()))
		if r == 0 || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// fromGuesses converts 1-based cluster guesses to labels numbered by
// first appearance. Guesses below 1 are noise.
func fromGuesses(guesses []int) []int {
	raw := make([]int, len(guesses))
	for i, g := range guesses {
		if g < 1 {
			raw[i] = Noise
			continue
		}
		raw[i] = g - 1
	}
	return relabel(raw)
}

// summarize computes the centroid of every label and the inertia of the
// assignment. Labels are numbered 0..k-1; noise points are skipped.
func summarize(points [][]float64, labels []int) KMeansResult {
	k := CountClusters(labels)
	d := len(points[0])
	centroids := make([][]float64, k)
	counts := make([]int, k)
	for c := range centroids {
		centroids[c] = make([]float64, d)
	}
	for i, p := range points {
		c := labels[i]
		if c == Noise {
			continue
		}
		counts[c]++
		for j, v := range p {
			centroids[c][j] += v
		}
	}
	for c := range centroids {
		for j := range centroids[c] {
			centroids[c][j] /= float64(counts[c])
		}
	}

	var inertia float64
	for i, p := range points {
		if labels[i] != Noise {
			inertia += sqDist(p, centroids[labels[i]])
		}
	}
	return KMeansResult{Labels: labels, Centroids: centroids, Inertia: inertia}
}
