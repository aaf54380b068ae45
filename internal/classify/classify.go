// Package classify assigns each statement a role in the opinion
// landscape based on how the coarse opinion groups voted on it.
package classify

import (
	"math"

	"github.com/civitas-io/agora/internal/matrix"
)

// Category is a statement's classified role. Categories are applied in
// priority order; the first match wins.
type Category string

const (
	FullConsensus    Category = "full_consensus"
	PartialConsensus Category = "partial_consensus"
	Bridge           Category = "bridge"
	Divisive         Category = "divisive"
	SplitDecision    Category = "split_decision"
	Normal           Category = "normal"
)

// Thresholds are the tunable classification constants. The defaults are
// pinned by tests; they are configuration, not rationale — do not
// silently "improve" them.
type Thresholds struct {
	// Consensus is the |agreement| a group must exceed to count as a
	// strong signal.
	Consensus float64 `yaml:"consensus"`

	// DivisiveStdDev is the cross-group agreement spread above which a
	// statement is a divisiveness candidate.
	DivisiveStdDev float64 `yaml:"divisive_std_dev"`

	// BridgeMaxStdDev is the cross-group spread below which groups are
	// considered to agree with each other.
	BridgeMaxStdDev float64 `yaml:"bridge_max_std_dev"`

	// BridgeMinAgreement is the minimum per-group (and mean) agreement
	// for a statement to connect groups.
	BridgeMinAgreement float64 `yaml:"bridge_min_agreement"`
}

// DefaultThresholds returns the observed default constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Consensus:          60,
		DivisiveStdDev:     40,
		BridgeMaxStdDev:    20,
		BridgeMinAgreement: 30,
	}
}

// GroupStat is one group's voting breakdown on one statement.
type GroupStat struct {
	GroupID  int `json:"group_id"`
	Agree    int `json:"agree"`
	Disagree int `json:"disagree"`
	Neutral  int `json:"neutral"`

	// AgreementPct is the signed net agreement:
	// (agree − disagree) / total × 100. A 50/50 split yields 0, not a
	// neutral-looking 50.
	AgreementPct float64 `json:"agreement_pct"`
}

// StatementClassification is the classified role of one statement plus
// the full per-group breakdown the heatmap consumer needs.
type StatementClassification struct {
	StatementID      string      `json:"statement_id"`
	Category         Category    `json:"category"`
	AverageAgreement float64     `json:"average_agreement"`
	StdDev           float64     `json:"std_dev"`
	BridgeScore      float64     `json:"bridge_score,omitempty"`
	ConnectedGroups  []int       `json:"connected_groups,omitempty"`
	Groups           []GroupStat `json:"groups"`
}

// Classify computes per-group agreement statistics for every statement
// and assigns each a category. Only cast votes count: imputed zeros
// never inflate a group's neutral tally. Groups with no votes on a
// statement do not participate in its classification.
func Classify(m *matrix.VoteMatrix, userGroups []int, groupCount int, th Thresholds) []StatementClassification {
	out := make([]StatementClassification, 0, m.StatementCount())

	for j, stmtID := range m.StatementIDs {
		stats := groupStats(m, userGroups, groupCount, j)
		out = append(out, classifyStatement(stmtID, stats, th))
	}

	return out
}

func groupStats(m *matrix.VoteMatrix, userGroups []int, groupCount, col int) []GroupStat {
	counts := make([]GroupStat, groupCount)
	for g := range counts {
		counts[g].GroupID = g
	}

	for i := range m.UserIDs {
		if !m.Cast[i][col] {
			continue
		}
		g := userGroups[i]
		switch {
		case m.Values[i][col] > 0:
			counts[g].Agree++
		case m.Values[i][col] < 0:
			counts[g].Disagree++
		default:
			counts[g].Neutral++
		}
	}

	// Keep only participating groups, with their net agreement
	stats := make([]GroupStat, 0, groupCount)
	for _, gs := range counts {
		total := gs.Agree + gs.Disagree + gs.Neutral
		if total == 0 {
			continue
		}
		gs.AgreementPct = float64(gs.Agree-gs.Disagree) / float64(total) * 100
		stats = append(stats, gs)
	}
	return stats
}

func classifyStatement(stmtID string, stats []GroupStat, th Thresholds) StatementClassification {
	sc := StatementClassification{
		StatementID: stmtID,
		Category:    Normal,
		Groups:      stats,
	}
	if len(stats) == 0 {
		return sc
	}

	pcts := make([]float64, len(stats))
	for i, gs := range stats {
		pcts[i] = gs.AgreementPct
	}
	sc.AverageAgreement = mean(pcts)
	sc.StdDev = stdDev(pcts, sc.AverageAgreement)

	strongPos, strongNeg := 0, 0
	allPos, allNeg := true, true
	maxAbs := 0.0
	for _, pct := range pcts {
		if pct > th.Consensus {
			strongPos++
		}
		if pct < -th.Consensus {
			strongNeg++
		}
		if pct <= 0 {
			allPos = false
		}
		if pct >= 0 {
			allNeg = false
		}
		if abs := math.Abs(pct); abs > maxAbs {
			maxAbs = abs
		}
	}

	groups := len(stats)
	switch {
	case (allPos && strongPos == groups) || (allNeg && strongNeg == groups):
		sc.Category = FullConsensus

	case strongPos*2 > groups && strongPos < groups && strongNeg == 0,
		strongNeg*2 > groups && strongNeg < groups && strongPos == 0:
		sc.Category = PartialConsensus

	case groups >= 2 && allPos &&
		sc.StdDev < th.BridgeMaxStdDev &&
		sc.AverageAgreement > th.BridgeMinAgreement &&
		minOf(pcts) > th.BridgeMinAgreement:
		sc.Category = Bridge
		sc.BridgeScore = sc.AverageAgreement - sc.StdDev
		for _, gs := range stats {
			if gs.AgreementPct > th.BridgeMinAgreement {
				sc.ConnectedGroups = append(sc.ConnectedGroups, gs.GroupID)
			}
		}

	case sc.StdDev > th.DivisiveStdDev && strongPos > 0 && strongNeg > 0:
		sc.Category = Divisive

	case maxAbs <= th.Consensus && sc.StdDev <= th.DivisiveStdDev:
		sc.Category = SplitDecision
	}

	return sc
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		d := v - mean
		total += d * d
	}
	return math.Sqrt(total / float64(len(values)))
}

func minOf(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
