// Package cluster partitions projected users into opinion groups using
// two stages: a fine k-means pass producing many small tight clusters,
// then agglomerative merging of fine clusters into a handful of coarse
// groups.
package cluster

import (
	"math"
	"sort"

	"github.com/civitas-io/agora/internal/pca"
)

const (
	// minFineClusters / maxFineClusters bound the adaptive fine k.
	minFineClusters = 2
	maxFineClusters = 12

	// maxIterations caps the k-means refinement loop.
	maxIterations = 50

	// degenerateSpread is the squared-distance threshold below which all
	// points are treated as coincident and clustering collapses to a
	// single cluster.
	degenerateSpread = 1e-18
)

// FineCluster is an intermediate tight grouping of users. IDs are only
// stable within one computation run.
type FineCluster struct {
	ID       int
	Centroid pca.Point
	Members  []int // row indices into the vote matrix
}

// FineResult holds the fine clustering of one run.
type FineResult struct {
	// Assignments maps each user (by row index) to a fine cluster ID.
	Assignments []int
	Clusters    []FineCluster
	Silhouette  float64
	Degenerate  bool
}

// AdaptiveK chooses the fine cluster count for n users: proportional to
// √n, clamped to a sane range. Poll sizes run from the eligibility
// minimum (20) to thousands.
func AdaptiveK(n int) int {
	k := int(math.Round(math.Sqrt(float64(n))))
	if k < minFineClusters {
		k = minFineClusters
	}
	if k > maxFineClusters {
		k = maxFineClusters
	}
	if k > n {
		k = n
	}
	return k
}

// Fine runs deterministic k-means over the projected points.
//
// Seeding is farthest-point from the first row (no randomness), ties
// break toward the lowest index, and empty clusters are dropped, so the
// same input always yields the same partition.
func Fine(points []pca.Point) *FineResult {
	n := len(points)
	if n == 0 {
		return &FineResult{Assignments: []int{}, Degenerate: true}
	}

	if spread(points) < degenerateSpread {
		return singleCluster(points)
	}

	k := AdaptiveK(n)
	centroids := seedCentroids(points, k)
	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			best := 0
			bestDist := math.MaxFloat64
			for c, centroid := range centroids {
				if d := sqDist(p, centroid); d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		for c := range centroids {
			var sumX, sumY float64
			count := 0
			for i, p := range points {
				if assign[i] != c {
					continue
				}
				sumX += p.PC1
				sumY += p.PC2
				count++
			}
			if count > 0 {
				centroids[c] = pca.Point{PC1: sumX / float64(count), PC2: sumY / float64(count)}
			}
		}

		if !changed {
			break
		}
	}

	return collect(points, assign, len(centroids))
}

// seedCentroids picks k starting centroids deterministically: the first
// point, then repeatedly the point farthest from all chosen centroids.
func seedCentroids(points []pca.Point, k int) []pca.Point {
	centroids := make([]pca.Point, 0, k)
	centroids = append(centroids, points[0])
	for len(centroids) < k {
		bestIdx := 0
		bestDist := -1.0
		for i, p := range points {
			minDist := math.MaxFloat64
			for _, c := range centroids {
				if d := sqDist(p, c); d < minDist {
					minDist = d
				}
			}
			if minDist > bestDist {
				bestDist = minDist
				bestIdx = i
			}
		}
		if bestDist <= 0 {
			// Remaining points coincide with existing centroids.
			break
		}
		centroids = append(centroids, points[bestIdx])
	}
	return centroids
}

// collect drops empty clusters, reindexes IDs by ascending first member,
// and computes the silhouette score.
func collect(points []pca.Point, assign []int, k int) *FineResult {
	members := make([][]int, k)
	for i, c := range assign {
		members[c] = append(members[c], i)
	}

	type occupied struct {
		first   int
		indices []int
	}
	kept := make([]occupied, 0, k)
	for _, m := range members {
		if len(m) == 0 {
			continue
		}
		kept = append(kept, occupied{first: m[0], indices: m})
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].first < kept[j].first })

	result := &FineResult{
		Assignments: make([]int, len(points)),
		Clusters:    make([]FineCluster, 0, len(kept)),
	}
	for id, o := range kept {
		var sumX, sumY float64
		for _, i := range o.indices {
			result.Assignments[i] = id
			sumX += points[i].PC1
			sumY += points[i].PC2
		}
		count := float64(len(o.indices))
		result.Clusters = append(result.Clusters, FineCluster{
			ID:       id,
			Centroid: pca.Point{PC1: sumX / count, PC2: sumY / count},
			Members:  o.indices,
		})
	}

	result.Silhouette = Silhouette(points, result.Assignments, len(result.Clusters))
	return result
}

func singleCluster(points []pca.Point) *FineResult {
	members := make([]int, len(points))
	assignments := make([]int, len(points))
	var sumX, sumY float64
	for i, p := range points {
		members[i] = i
		sumX += p.PC1
		sumY += p.PC2
	}
	count := float64(len(points))
	return &FineResult{
		Assignments: assignments,
		Clusters: []FineCluster{{
			ID:       0,
			Centroid: pca.Point{PC1: sumX / count, PC2: sumY / count},
			Members:  members,
		}},
		Degenerate: true,
	}
}

func spread(points []pca.Point) float64 {
	var meanX, meanY float64
	for _, p := range points {
		meanX += p.PC1
		meanY += p.PC2
	}
	meanX /= float64(len(points))
	meanY /= float64(len(points))

	total := 0.0
	for _, p := range points {
		dx := p.PC1 - meanX
		dy := p.PC2 - meanY
		total += dx*dx + dy*dy
	}
	return total
}

func sqDist(a, b pca.Point) float64 {
	dx := a.PC1 - b.PC1
	dy := a.PC2 - b.PC2
	return dx*dx + dy*dy
}
