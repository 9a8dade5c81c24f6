package cluster

import "math"

// Ward runs agglomerative clustering with Ward linkage until k clusters
// remain. The merge cost of clusters a and b is the increase in total
// within-cluster variance, na*nb/(na+nb) * ||ca-cb||^2. Ties merge the
// lowest-indexed pair. Labels are numbered by first appearance.
func Ward(points [][]float64, k int) []int {
	n := len(points)
	if n == 0 {
		return nil
	}
	k = min(max(k, 1), n)

	type node struct {
		centroid []float64
		size     int
		members  []int
	}

	active := make([]*node, n)
	for i, p := range points {
		active[i] = &node{centroid: clone(p), size: 1, members: []int{i}}
	}

	for len(active) > k {
		bi, bj, best := 0, 1, math.Inf(1)
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				a, b := active[i], active[j]
				na, nb := float64(a.size), float64(b.size)
				cost := na * nb / (na + nb) * sqDist(a.centroid, b.centroid)
				if cost < best {
					bi, bj, best = i, j, cost
				}
			}
		}

		a, b := active[bi], active[bj]
		total := float64(a.size + b.size)
		for d := range a.centroid {
			a.centroid[d] = (a.centroid[d]*float64(a.size) + b.centroid[d]*float64(b.size)) / total
		}
		a.size += b.size
		a.members = append(a.members, b.members...)
		active = append(active[:bj], active[bj+1:]...)
	}

	raw := make([]int, n)
	for c, nd := range active {
		for _, m := range nd.members {
			raw[m] = c
		}
	}
	return relabel(raw)
}

// relabel renumbers labels 0, 1, ... in order of first appearance,
// leaving Noise untouched.
func relabel(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == Noise {
			out[i] = Noise
			continue
		}
		m, ok := mapping[l]
		if !ok {
			m = len(mapping)
			mapping[l] = m
		}
		out[i] = m
	}
	return out
}
