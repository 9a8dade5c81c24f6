package cluster

import "math"

// InvalidScore is reported when a labelling admits no silhouette.
const InvalidScore = -1.0

// Noise is the label density methods give to unassigned points.
const Noise = -1

// Silhouette returns the mean silhouette coefficient of labels over points
// using Euclidean distance. Every label value, including Noise, is treated
// as a cluster; callers filter noise first when it should not count.
// Members of singleton clusters score 0. The result is InvalidScore unless
// 2 <= distinct labels <= n-1.
func Silhouette(points [][]float64, labels []int) float64 {
	return SilhouetteFromDistances(Distances(points), labels)
}

// SilhouetteFromDistances is Silhouette over a precomputed distance matrix.
func SilhouetteFromDistances(dist [][]float64, labels []int) float64 {
	n := len(labels)
	k := distinct(labels)
	if n == 0 || k < 2 || k > n-1 {
		return InvalidScore
	}

	sizes := make(map[int]int, k)
	for _, l := range labels {
		sizes[l]++
	}

	var total float64
	sums := make(map[int]float64, k)
	for i := 0; i < n; i++ {
		if sizes[labels[i]] == 1 {
			continue
		}
		clear(sums)
		for j := 0; j < n; j++ {
			if i != j {
				sums[labels[j]] += dist[i][j]
			}
		}

		a := sums[labels[i]] / float64(sizes[labels[i]]-1)
		b := math.Inf(1)
		for l, s := range sums {
			if l == labels[i] {
				continue
			}
			if m := s / float64(sizes[l]); m < b {
				b = m
			}
		}

		if denom := math.Max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(n)
}

// ValidScore reports whether s is a real silhouette value.
func ValidScore(s float64) bool {
	return isFinite(s) && s > InvalidScore
}

func distinct(labels []int) int {
	seen := make(map[int]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// CountClusters returns the number of distinct non-noise labels.
func CountClusters(labels []int) int {
	seen := make(map[int]struct{}, len(labels))
	for _, l := range labels {
		if l != Noise {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

func hasNoise(labels []int) bool {
	for _, l := range labels {
		if l == Noise {
			return true
		}
	}
	return false
}
