// Package coalition computes pairwise inter-group alignment and an
// overall polarization score for a computed opinion landscape.
package coalition

import (
	"sort"

	"github.com/civitas-io/agora/internal/matrix"
)

// PolarizationLevel buckets the overall polarization score.
type PolarizationLevel string

const (
	PolarizationLow    PolarizationLevel = "low"
	PolarizationMedium PolarizationLevel = "medium"
	PolarizationHigh   PolarizationLevel = "high"
)

// Thresholds are the polarization bucket boundaries. Inferred from
// observed behavior and pinned by tests; treat as constants, not
// rationale.
type Thresholds struct {
	// MediumPolarization is the score at which polarization stops being
	// low (inclusive).
	MediumPolarization float64 `yaml:"medium_polarization"`

	// HighPolarization is the score at which polarization becomes high
	// (inclusive).
	HighPolarization float64 `yaml:"high_polarization"`

	// TopCoalitions is how many strongest pairs to report.
	TopCoalitions int `yaml:"top_coalitions"`
}

// DefaultThresholds returns the observed default constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MediumPolarization: 15,
		HighPolarization:   30,
		TopCoalitions:      3,
	}
}

// PairAlignment is the agreement profile of one unordered group pair,
// computed over the statements both groups voted on.
type PairAlignment struct {
	GroupA            int     `json:"group_a"`
	GroupB            int     `json:"group_b"`
	AgreementCount    int     `json:"agreement_count"`
	DisagreementCount int     `json:"disagreement_count"`
	NeutralCount      int     `json:"neutral_count"`
	AlignmentPct      float64 `json:"alignment_pct"`
}

// statements compared for this pair.
func (p PairAlignment) statements() int {
	return p.AgreementCount + p.DisagreementCount + p.NeutralCount
}

// Analysis is the full coalition report for one landscape run.
type Analysis struct {
	Pairs               []PairAlignment   `json:"pairs"`
	StrongestCoalitions []PairAlignment   `json:"strongest_coalitions"`
	PolarizationScore   float64           `json:"polarization_score"`
	PolarizationLevel   PolarizationLevel `json:"polarization_level"`
}

// Analyze computes every unordered group pair's alignment. For each
// statement both groups voted on, the pair scores an agreement when the
// signs of the two groups' average votes match (both nonzero), a
// disagreement when they oppose, and a neutral otherwise.
func Analyze(m *matrix.VoteMatrix, userGroups []int, groupCount int, th Thresholds) *Analysis {
	stances := groupStances(m, userGroups, groupCount)

	analysis := &Analysis{Pairs: make([]PairAlignment, 0, groupCount*(groupCount-1)/2)}
	totalDisagreements := 0
	totalComparisons := 0

	for a := 0; a < groupCount-1; a++ {
		for b := a + 1; b < groupCount; b++ {
			pair := PairAlignment{GroupA: a, GroupB: b}
			for j := 0; j < m.StatementCount(); j++ {
				sa, aVoted := stances[a][j], stances[a][j] != stanceAbsent
				sb, bVoted := stances[b][j], stances[b][j] != stanceAbsent
				if !aVoted || !bVoted {
					continue
				}
				switch {
				case sa != stanceNeutral && sa == sb:
					pair.AgreementCount++
				case sa != stanceNeutral && sb != stanceNeutral && sa != sb:
					pair.DisagreementCount++
				default:
					pair.NeutralCount++
				}
			}

			if total := pair.statements(); total > 0 {
				pair.AlignmentPct = float64(pair.AgreementCount) / float64(total) * 100
			}
			totalDisagreements += pair.DisagreementCount
			totalComparisons += pair.statements()
			analysis.Pairs = append(analysis.Pairs, pair)
		}
	}

	analysis.StrongestCoalitions = strongest(analysis.Pairs, th.TopCoalitions)

	if totalComparisons > 0 {
		analysis.PolarizationScore = float64(totalDisagreements) / float64(totalComparisons) * 100
	}
	analysis.PolarizationLevel = bucket(analysis.PolarizationScore, th)

	return analysis
}

type stance int8

const (
	stanceAbsent   stance = 0
	stanceNeutral  stance = 1
	stanceAgree    stance = 2
	stanceDisagree stance = 3
)

// groupStances computes each group's net stance per statement: the sign
// of the group's average cast vote. Imputed cells are excluded; a group
// with no votes on a statement is absent from that comparison.
func groupStances(m *matrix.VoteMatrix, userGroups []int, groupCount int) [][]stance {
	stances := make([][]stance, groupCount)
	for g := range stances {
		stances[g] = make([]stance, m.StatementCount())
	}

	for j := 0; j < m.StatementCount(); j++ {
		sums := make([]float64, groupCount)
		counts := make([]int, groupCount)
		for i := range m.UserIDs {
			if !m.Cast[i][j] {
				continue
			}
			g := userGroups[i]
			sums[g] += m.Values[i][j]
			counts[g]++
		}
		for g := 0; g < groupCount; g++ {
			if counts[g] == 0 {
				continue
			}
			switch avg := sums[g] / float64(counts[g]); {
			case avg > 0:
				stances[g][j] = stanceAgree
			case avg < 0:
				stances[g][j] = stanceDisagree
			default:
				stances[g][j] = stanceNeutral
			}
		}
	}
	return stances
}

// strongest returns the top N pairs by alignment percentage. Ties break
// by lower group indices so output ordering is deterministic.
func strongest(pairs []PairAlignment, n int) []PairAlignment {
	ranked := append([]PairAlignment(nil), pairs...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].AlignmentPct != ranked[j].AlignmentPct {
			return ranked[i].AlignmentPct > ranked[j].AlignmentPct
		}
		if ranked[i].GroupA != ranked[j].GroupA {
			return ranked[i].GroupA < ranked[j].GroupA
		}
		return ranked[i].GroupB < ranked[j].GroupB
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// bucket maps a polarization score to its level:
// low < medium threshold ≤ medium < high threshold ≤ high.
func bucket(score float64, th Thresholds) PolarizationLevel {
	switch {
	case score >= th.HighPolarization:
		return PolarizationHigh
	case score >= th.MediumPolarization:
		return PolarizationMedium
	default:
		return PolarizationLow
	}
}
