// Package matrix assembles the dense vote matrix that feeds the opinion
// landscape pipeline.
//
// Rows are users with at least one vote, columns are approved statements,
// cells are {-1, 0, 1}. Missing cells (no vote cast) are imputed as 0 for
// projection purposes but tracked separately so per-user participation
// stats never confuse imputed zeros with real neutral votes.
package matrix

import "sort"

// Vote is one (user, statement, value) triple. Value is -1, 0, or 1.
type Vote struct {
	UserID      string
	StatementID string
	Value       int
}

// VoteMatrix is the dense users × statements matrix with stable index
// ordering. UserIDs and StatementIDs map matrix indices back to entities.
type VoteMatrix struct {
	UserIDs      []string
	StatementIDs []string

	// Values is the imputed matrix: Values[i][j] is user i's vote on
	// statement j, 0 when no vote was cast.
	Values [][]float64

	// Cast marks which cells hold a real vote rather than an imputed 0.
	Cast [][]bool

	// VoteCounts is the number of actual votes each user cast.
	VoteCounts []int
}

// Build assembles a VoteMatrix from raw vote triples. Row and column
// ordering is deterministic (sorted by ID), so identical input always
// produces an identical matrix. Later duplicates for the same
// (user, statement) overwrite earlier ones, matching the storage layer's
// latest-wins revote policy.
func Build(votes []Vote) *VoteMatrix {
	userSet := make(map[string]struct{})
	stmtSet := make(map[string]struct{})
	latest := make(map[[2]string]int, len(votes))

	for _, v := range votes {
		if v.UserID == "" || v.StatementID == "" {
			continue
		}
		userSet[v.UserID] = struct{}{}
		stmtSet[v.StatementID] = struct{}{}
		latest[[2]string{v.UserID, v.StatementID}] = clampVote(v.Value)
	}

	m := &VoteMatrix{
		UserIDs:      sortedKeys(userSet),
		StatementIDs: sortedKeys(stmtSet),
	}

	userIdx := indexOf(m.UserIDs)
	stmtIdx := indexOf(m.StatementIDs)

	m.Values = make([][]float64, len(m.UserIDs))
	m.Cast = make([][]bool, len(m.UserIDs))
	m.VoteCounts = make([]int, len(m.UserIDs))
	for i := range m.Values {
		m.Values[i] = make([]float64, len(m.StatementIDs))
		m.Cast[i] = make([]bool, len(m.StatementIDs))
	}

	for key, value := range latest {
		i := userIdx[key[0]]
		j := stmtIdx[key[1]]
		m.Values[i][j] = float64(value)
		m.Cast[i][j] = true
		m.VoteCounts[i]++
	}

	return m
}

// Empty reports whether the matrix has no eligible users or statements.
// Emptiness is a valid state checked by the eligibility gate, not an
// error.
func (m *VoteMatrix) Empty() bool {
	return len(m.UserIDs) == 0 || len(m.StatementIDs) == 0
}

// UserCount returns the number of matrix rows.
func (m *VoteMatrix) UserCount() int { return len(m.UserIDs) }

// StatementCount returns the number of matrix columns.
func (m *VoteMatrix) StatementCount() int { return len(m.StatementIDs) }

func clampVote(v int) int {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(ids []string) map[string]int {
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	return idx
}
