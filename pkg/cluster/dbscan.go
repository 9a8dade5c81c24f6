package cluster

import (
	"fmt"

	"github.com/mpraski/clusters"
)

// DBSCAN labels points by density reachability within eps, with
// minSamples neighbours making a core point. Points reachable from no
// core point are Noise. Clusters are numbered by first appearance.
func DBSCAN(points [][]float64, eps float64, minSamples int) ([]int, error) {
	if len(points) == 0 {
		return nil, nil
	}
	c, err := clusters.DBSCAN(max(minSamples, 1), eps, 1, clusters.EuclideanDistance)
	if err != nil {
		return nil, fmt.Errorf("dbscan: %w", err)
	}
	if err := c.Learn(points); err != nil {
		return nil, fmt.Errorf("dbscan: %w", err)
	}
	return fromGuesses(c.Guesses()), nil
}
