package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Distances returns the symmetric Euclidean distance matrix of points.
func Distances(points [][]float64) [][]float64 {
	n := len(points)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := floats.Distance(points[i], points[j], 2)
			d[i][j] = v
			d[j][i] = v
		}
	}
	return d
}

// KthNeighborDistances returns, for every point, the distance to its k-th
// nearest neighbour counting the point itself as the first (k >= 1).
func KthNeighborDistances(dist [][]float64, k int) []float64 {
	out := make([]float64, len(dist))
	row := make([]float64, len(dist))
	for i := range dist {
		copy(row, dist[i])
		sort.Float64s(row)
		idx := k - 1
		if idx >= len(row) {
			idx = len(row) - 1
		}
		out[i] = row[idx]
	}
	return out
}

// CosineSimilarity returns the pairwise cosine similarity of points.
// Zero vectors have similarity 0 with everything.
func CosineSimilarity(points [][]float64) [][]float64 {
	n := len(points)
	norms := make([]float64, n)
	for i, p := range points {
		norms[i] = floats.Norm(p, 2)
	}

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var v float64
			if norms[i] > 0 && norms[j] > 0 {
				v = floats.Dot(points[i], points[j]) / (norms[i] * norms[j])
			}
			sim[i][j] = v
			sim[j][i] = v
		}
	}
	return sim
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
