package cluster

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
)

// SimilarityGraph connects every pair of points whose cosine similarity is
// strictly above threshold, weighted by that similarity. Node ids are point
// indices; points without an edge are absent from the graph.
func SimilarityGraph(points [][]float64, threshold float64) *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	sim := CosineSimilarity(points)
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			if sim[i][j] > threshold {
				g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), sim[i][j]))
			}
		}
	}
	return g
}

// Louvain partitions the similarity graph by modularity at resolution 1.
// It returns nil when the graph has no edges. Points outside the graph are
// labelled Noise. Communities are numbered by their lowest point index.
func Louvain(points [][]float64, threshold float64, seed uint64) []int {
	g := SimilarityGraph(points, threshold)
	if g.Edges().Len() == 0 {
		return nil
	}

	reduced := community.Modularize(sortedGraph{g}, 1, rand.NewPCG(seed, seed))
	comms := reduced.Communities()

	groups := make([][]int, 0, len(comms))
	for _, c := range comms {
		ids := nodeIDs(c)
		if len(ids) > 0 {
			groups = append(groups, ids)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = Noise
	}
	for l, ids := range groups {
		for _, id := range ids {
			labels[id] = l
		}
	}
	return labels
}

// sortedGraph yields neighbours in id order so that modularity moves do
// not depend on map iteration.
type sortedGraph struct {
	*simple.WeightedUndirectedGraph
}

func (g sortedGraph) From(id int64) graph.Nodes {
	nodes := graph.NodesOf(g.WeightedUndirectedGraph.From(id))
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	return iterator.NewOrderedNodes(nodes)
}

func nodeIDs(nodes []graph.Node) []int {
	ids := make([]int, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, int(n.ID()))
	}
	sort.Ints(ids)
	return ids
}
