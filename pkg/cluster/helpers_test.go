package cluster

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// blobs returns per points around each centre with standard deviation
// spread, in centre order.
func blobs(centres [][]float64, per int, spread float64, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	var out [][]float64
	for _, c := range centres {
		for i := 0; i < per; i++ {
			p := make([]float64, len(c))
			for j := range c {
				p[j] = c[j] + rng.NormFloat64()*spread
			}
			out = append(out, p)
		}
	}
	return out
}

// requireBlobPartition checks that labels group exactly the consecutive
// runs of per points.
func requireBlobPartition(t *testing.T, labels []int, per int) {
	t.Helper()
	require.Zero(t, len(labels)%per)

	seen := make(map[int]bool)
	for start := 0; start < len(labels); start += per {
		l := labels[start]
		require.NotEqual(t, Noise, l, "blob at %d labelled noise", start)
		require.False(t, seen[l], "label %d reused across blobs", l)
		seen[l] = true
		for i := start; i < start+per; i++ {
			require.Equal(t, l, labels[i], "point %d split from its blob", i)
		}
	}
}

func line(vals ...float64) [][]float64 {
	out := make([][]float64, len(vals))
	for i, v := range vals {
		out[i] = []float64{v}
	}
	return out
}
