package cluster

import (
	"testing"

	"github.com/civitas-io/agora/internal/pca"
)

// twoCampPoints places 10 users at (-2, 0) and 10 at (2, 0) with slight
// deterministic jitter so the camps are tight but not coincident.
func twoCampPoints() []pca.Point {
	points := make([]pca.Point, 20)
	for i := 0; i < 10; i++ {
		jitter := float64(i) * 0.01
		points[i] = pca.Point{PC1: -2 + jitter, PC2: jitter}
		points[i+10] = pca.Point{PC1: 2 - jitter, PC2: -jitter}
	}
	return points
}

func TestAdaptiveK(t *testing.T) {
	cases := []struct {
		n, want int
	}{
		{20, 4},
		{100, 10},
		{10000, 12}, // clamped to max
		{4, 2},
		{2, 2},
		{1, 1}, // k can never exceed n
	}
	for _, c := range cases {
		if got := AdaptiveK(c.n); got != c.want {
			t.Errorf("AdaptiveK(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestFineSeparatesCamps(t *testing.T) {
	result := Fine(twoCampPoints())
	if result.Degenerate {
		t.Fatal("two camps must not be degenerate")
	}

	// No fine cluster may straddle the camps
	for _, fc := range result.Clusters {
		leftCount := 0
		for _, i := range fc.Members {
			if i < 10 {
				leftCount++
			}
		}
		if leftCount != 0 && leftCount != len(fc.Members) {
			t.Errorf("fine cluster %d mixes camps: %v", fc.ID, fc.Members)
		}
	}
}

func TestFineDeterminism(t *testing.T) {
	points := twoCampPoints()
	first := Fine(points)
	second := Fine(points)

	if len(first.Assignments) != len(second.Assignments) {
		t.Fatal("assignment lengths differ across runs")
	}
	for i := range first.Assignments {
		if first.Assignments[i] != second.Assignments[i] {
			t.Fatalf("assignment differs at user %d", i)
		}
	}
	if first.Silhouette != second.Silhouette {
		t.Errorf("silhouette differs: %v vs %v", first.Silhouette, second.Silhouette)
	}
}

func TestFineDegenerateCollapses(t *testing.T) {
	points := make([]pca.Point, 20)
	result := Fine(points)
	if !result.Degenerate {
		t.Fatal("coincident points must be degenerate")
	}
	if len(result.Clusters) != 1 {
		t.Fatalf("expected single cluster, got %d", len(result.Clusters))
	}
	if len(result.Clusters[0].Members) != 20 {
		t.Errorf("single cluster must hold all users, got %d", len(result.Clusters[0].Members))
	}
}

func TestFineSilhouetteBounds(t *testing.T) {
	result := Fine(twoCampPoints())
	if result.Silhouette < -1 || result.Silhouette > 1 {
		t.Errorf("silhouette out of [-1,1]: %v", result.Silhouette)
	}
	// Well-separated camps should score positive
	if result.Silhouette <= 0 {
		t.Errorf("expected positive silhouette for separated camps, got %v", result.Silhouette)
	}

	// Over the coarse camp partition the separation is near-perfect
	assign := make([]int, 20)
	for i := 10; i < 20; i++ {
		assign[i] = 1
	}
	if s := Silhouette(twoCampPoints(), assign, 2); s < 0.9 {
		t.Errorf("expected near-perfect coarse silhouette, got %v", s)
	}
}

func TestCoarseTwoCamps(t *testing.T) {
	fineResult := Fine(twoCampPoints())
	coarse := Coarse(fineResult.Clusters)

	if len(coarse.Groups) != 2 {
		t.Fatalf("expected 2 coarse groups, got %d", len(coarse.Groups))
	}

	userGroups := UserGroups(fineResult.Assignments, coarse)
	for i := 1; i < 10; i++ {
		if userGroups[i] != userGroups[0] {
			t.Errorf("camp A user %d split from camp A group", i)
		}
	}
	for i := 10; i < 20; i++ {
		if userGroups[i] == userGroups[0] {
			t.Errorf("camp B user %d merged into camp A group", i)
		}
	}

	for _, g := range coarse.Groups {
		if g.UserCount != 10 {
			t.Errorf("expected group size 10, got %d", g.UserCount)
		}
	}
}

func TestCoarsePartitionInvariant(t *testing.T) {
	// Spread users across several distinct positions
	points := make([]pca.Point, 60)
	for i := range points {
		points[i] = pca.Point{
			PC1: float64(i%6) * 1.5,
			PC2: float64(i%4) * -1.2,
		}
	}

	fineResult := Fine(points)
	coarse := Coarse(fineResult.Clusters)
	userGroups := UserGroups(fineResult.Assignments, coarse)

	seen := make(map[int]int)
	for _, g := range userGroups {
		if g < 0 || g >= len(coarse.Groups) {
			t.Fatalf("user assigned to unknown group %d", g)
		}
		seen[g]++
	}

	total := 0
	for _, g := range coarse.Groups {
		if seen[g.ID] != g.UserCount {
			t.Errorf("group %d reports %d users but holds %d", g.ID, g.UserCount, seen[g.ID])
		}
		total += g.UserCount
	}
	if total != len(points) {
		t.Errorf("groups do not partition users: %d != %d", total, len(points))
	}

	if len(coarse.Groups) < 2 || len(coarse.Groups) > 5 {
		t.Errorf("expected 2-5 coarse groups, got %d", len(coarse.Groups))
	}
}

func TestCoarseSingleFineCluster(t *testing.T) {
	fineResult := Fine(make([]pca.Point, 20)) // degenerate → 1 fine cluster
	coarse := Coarse(fineResult.Clusters)
	if len(coarse.Groups) != 1 {
		t.Fatalf("expected 1 group for degenerate input, got %d", len(coarse.Groups))
	}
	if coarse.Groups[0].UserCount != 20 {
		t.Errorf("expected all 20 users in the single group, got %d", coarse.Groups[0].UserCount)
	}
}

func TestCoarseWeightedCentroid(t *testing.T) {
	fine := []FineCluster{
		{ID: 0, Centroid: pca.Point{PC1: 0, PC2: 0}, Members: []int{0, 1, 2}},
		{ID: 1, Centroid: pca.Point{PC1: 1, PC2: 0}, Members: []int{3}},
		{ID: 2, Centroid: pca.Point{PC1: 10, PC2: 0}, Members: []int{4, 5}},
		{ID: 3, Centroid: pca.Point{PC1: 11, PC2: 0}, Members: []int{6}},
	}
	coarse := Coarse(fine)
	if len(coarse.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(coarse.Groups))
	}

	// Largest group first: clusters 0+1 (4 users), centroid weighted 3:1
	g := coarse.Groups[0]
	if g.UserCount != 4 {
		t.Fatalf("expected group of 4 first, got %d", g.UserCount)
	}
	if want := 0.25; g.Centroid.PC1 != want {
		t.Errorf("expected weighted centroid PC1 %v, got %v", want, g.Centroid.PC1)
	}
}
