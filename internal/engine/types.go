package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/civitas-io/agora/internal/classify"
	"github.com/civitas-io/agora/internal/coalition"
	"github.com/civitas-io/agora/internal/pca"
)

// Eligibility is the result of the minimum-data precondition check.
// Ineligibility is a legitimate outcome, never an error.
type Eligibility struct {
	Eligible       bool   `json:"eligible"`
	Reason         string `json:"reason,omitempty"`
	UserCount      int    `json:"user_count"`
	StatementCount int    `json:"statement_count"`
}

// UserPosition is one user's place in the computed landscape.
type UserPosition struct {
	UserID        string  `json:"user_id"`
	PC1           float64 `json:"pc1"`
	PC2           float64 `json:"pc2"`
	FineClusterID int     `json:"fine_cluster_id"`
	GroupID       int     `json:"group_id"`
	VoteCount     int     `json:"vote_count"`
}

// OpinionGroup is a final coarse group. Labels are assigned by the
// caller, not this engine.
type OpinionGroup struct {
	ID             int       `json:"id"`
	Centroid       pca.Point `json:"centroid"`
	FineClusterIDs []int     `json:"fine_cluster_ids"`
	UserCount      int       `json:"user_count"`
}

// Landscape is the full output of one clustering run. When Eligibility
// reports ineligible, all other fields are empty.
type Landscape struct {
	RunID      string    `json:"run_id,omitempty"`
	PollID     string    `json:"poll_id"`
	ComputedAt time.Time `json:"computed_at"`

	Eligibility Eligibility `json:"eligibility"`

	Users      []UserPosition                     `json:"users,omitempty"`
	Groups     []OpinionGroup                     `json:"groups,omitempty"`
	Statements []classify.StatementClassification `json:"statements,omitempty"`
	Coalitions *coalition.Analysis                `json:"coalitions,omitempty"`

	// Variance and silhouette are reporting-only observability fields.
	VarianceExplained  float64    `json:"variance_explained"`
	ComponentVariance  [2]float64 `json:"component_variance"`
	Silhouette         float64    `json:"silhouette"`
	DegenerateGeometry bool       `json:"degenerate_geometry,omitempty"`
}

// Eligible reports whether the landscape was actually computed.
func (l *Landscape) Eligible() bool {
	return l.Eligibility.Eligible
}

// DecodeLandscape parses a persisted snapshot payload.
func DecodeLandscape(payload []byte) (*Landscape, error) {
	var l Landscape
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("decoding landscape payload: %w", err)
	}
	return &l, nil
}
