package cluster

import (
	"math"
	"sort"

	"github.com/civitas-io/agora/internal/pca"
)

const (
	// minCoarseGroups / maxCoarseGroups bound the number of opinion
	// groups shown to end users.
	minCoarseGroups = 2
	maxCoarseGroups = 5
)

// Group is a final coarse opinion group. Labels are assigned by callers;
// this layer only produces IDs, centroids, and membership.
type Group struct {
	ID             int
	Centroid       pca.Point
	FineClusterIDs []int
	UserCount      int
}

// CoarseResult maps fine clusters into coarse groups. Groups partition
// the eligible user set: every fine cluster, and hence every user,
// belongs to exactly one group.
type CoarseResult struct {
	Groups []Group

	// GroupOfFine maps fine cluster ID to coarse group ID.
	GroupOfFine []int
}

// coarseTarget picks how many groups to merge down to. Observed target
// is 2–5 interpretable groups; a single fine cluster (degenerate input)
// stays a single group.
func coarseTarget(fineCount int) int {
	if fineCount <= 1 {
		return fineCount
	}
	target := fineCount / 2
	if target < minCoarseGroups {
		target = minCoarseGroups
	}
	if target > maxCoarseGroups {
		target = maxCoarseGroups
	}
	if target > fineCount {
		target = fineCount
	}
	return target
}

// Coarse agglomeratively merges fine clusters into coarse groups by
// centroid distance. Each merge recomputes the centroid as the
// size-weighted mean of the merged members, and ties break toward the
// lowest pair of indices so runs are deterministic.
func Coarse(fine []FineCluster) *CoarseResult {
	if len(fine) == 0 {
		return &CoarseResult{Groups: []Group{}, GroupOfFine: []int{}}
	}

	groups := make([]*protoGroup, 0, len(fine))
	for _, fc := range fine {
		groups = append(groups, &protoGroup{
			centroid: fc.Centroid,
			fineIDs:  []int{fc.ID},
			users:    len(fc.Members),
		})
	}

	target := coarseTarget(len(fine))
	for len(groups) > target {
		bestA, bestB := 0, 1
		bestDist := math.MaxFloat64
		for a := 0; a < len(groups)-1; a++ {
			for b := a + 1; b < len(groups); b++ {
				if d := sqDist(groups[a].centroid, groups[b].centroid); d < bestDist {
					bestDist = d
					bestA, bestB = a, b
				}
			}
		}

		merged := mergeProto(groups[bestA], groups[bestB])
		groups[bestA] = merged
		groups = append(groups[:bestB], groups[bestB+1:]...)
	}

	// Stable final IDs: largest group first, ties by lowest fine ID.
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].users != groups[j].users {
			return groups[i].users > groups[j].users
		}
		return groups[i].fineIDs[0] < groups[j].fineIDs[0]
	})

	result := &CoarseResult{
		Groups:      make([]Group, 0, len(groups)),
		GroupOfFine: make([]int, len(fine)),
	}
	for id, g := range groups {
		sort.Ints(g.fineIDs)
		result.Groups = append(result.Groups, Group{
			ID:             id,
			Centroid:       g.centroid,
			FineClusterIDs: g.fineIDs,
			UserCount:      g.users,
		})
		for _, fineID := range g.fineIDs {
			result.GroupOfFine[fineID] = id
		}
	}
	return result
}

// UserGroups maps per-user fine assignments through the coarse merge,
// returning each user's coarse group ID.
func UserGroups(fineAssignments []int, coarse *CoarseResult) []int {
	out := make([]int, len(fineAssignments))
	for i, fineID := range fineAssignments {
		out[i] = coarse.GroupOfFine[fineID]
	}
	return out
}

// protoGroup is a coarse group under construction during merging.
type protoGroup struct {
	centroid pca.Point
	fineIDs  []int
	users    int
}

func mergeProto(a, b *protoGroup) *protoGroup {
	total := float64(a.users + b.users)
	wa := float64(a.users) / total
	wb := float64(b.users) / total
	return &protoGroup{
		centroid: pca.Point{
			PC1: a.centroid.PC1*wa + b.centroid.PC1*wb,
			PC2: a.centroid.PC2*wa + b.centroid.PC2*wb,
		},
		fineIDs: append(append([]int{}, a.fineIDs...), b.fineIDs...),
		users:   a.users + b.users,
	}
}
