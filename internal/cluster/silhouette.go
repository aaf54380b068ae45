package cluster

import (
	"math"

	"github.com/civitas-io/agora/internal/pca"
)

// Silhouette computes the mean silhouette coefficient of a partition.
// Reported for observability only — no control flow gates on it.
func Silhouette(points []pca.Point, assign []int, k int) float64 {
	n := len(points)
	if k < 2 || n < 2 {
		return 0
	}

	sizes := make([]int, k)
	for _, c := range assign {
		sizes[c]++
	}

	total := 0.0
	counted := 0
	for i := range points {
		own := assign[i]
		if sizes[own] < 2 {
			// Singleton clusters contribute 0 by convention.
			counted++
			continue
		}

		intra := 0.0
		inter := make([]float64, k)
		for j := range points {
			if i == j {
				continue
			}
			d := math.Sqrt(sqDist(points[i], points[j]))
			if assign[j] == own {
				intra += d
			} else {
				inter[assign[j]] += d
			}
		}

		a := intra / float64(sizes[own]-1)
		b := math.MaxFloat64
		for c := 0; c < k; c++ {
			if c == own || sizes[c] == 0 {
				continue
			}
			if avg := inter[c] / float64(sizes[c]); avg < b {
				b = avg
			}
		}

		if maxAB := math.Max(a, b); maxAB > 0 {
			total += (b - a) / maxAB
		}
		counted++
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}
