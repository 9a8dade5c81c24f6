package cluster

import (
	"fmt"

	"github.com/humilityai/hdbscan"
)

// HDBSCAN clusters points hierarchically by density and returns labels
// with Noise for points outside every selected cluster. Clusters are
// numbered by their lowest-indexed point.
func HDBSCAN(points [][]float64, minClusterSize int) ([]int, error) {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = Noise
	}
	// No cluster can form
	if len(points) < max(minClusterSize, 2) {
		return labels, nil
	}

	c, err := hdbscan.NewClustering(points, minClusterSize)
	if err != nil {
		return labels, fmt.Errorf("hdbscan: %w", err)
	}
	if err := c.Run(hdbscan.EuclideanDistance, hdbscan.VarianceScore, true); err != nil {
		return labels, fmt.Errorf("hdbscan: %w", err)
	}

	// A point claimed by two clusters keeps the first
	for id, cl := range c.Clusters {
		for _, p := range cl.Points {
			if p >= 0 && p < len(labels) && labels[p] == Noise {
				labels[p] = id
			}
		}
	}
	return relabel(labels), nil
}
