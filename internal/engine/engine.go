// Package engine orchestrates the opinion landscape pipeline: the
// eligibility gate, vote matrix assembly, PCA projection, two-stage
// clustering, statement classification, and coalition analysis.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/civitas-io/agora/internal/classify"
	"github.com/civitas-io/agora/internal/cluster"
	"github.com/civitas-io/agora/internal/coalition"
	"github.com/civitas-io/agora/internal/matrix"
	"github.com/civitas-io/agora/internal/pca"
	"github.com/civitas-io/agora/internal/store"
)

// Config holds the engine's tunable constants. Zero values are replaced
// by defaults in NewEngine.
type Config struct {
	// MinUsers and MinStatements are the eligibility gate thresholds.
	MinUsers      int `yaml:"min_users"`
	MinStatements int `yaml:"min_statements"`

	Classify  classify.Thresholds  `yaml:"classify"`
	Coalition coalition.Thresholds `yaml:"coalition"`

	// CacheTTL bounds how long a computed landscape is served from
	// memory before callers fall back to the persisted snapshot.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the observed default constants.
func DefaultConfig() Config {
	return Config{
		MinUsers:      20,
		MinStatements: 6,
		Classify:      classify.DefaultThresholds(),
		Coalition:     coalition.DefaultThresholds(),
		CacheTTL:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinUsers <= 0 {
		c.MinUsers = d.MinUsers
	}
	if c.MinStatements <= 0 {
		c.MinStatements = d.MinStatements
	}
	if c.Classify == (classify.Thresholds{}) {
		c.Classify = d.Classify
	}
	if c.Coalition == (coalition.Thresholds{}) {
		c.Coalition = d.Coalition
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}

// Engine computes opinion landscapes for polls. It is safe for
// concurrent use; per-poll serialization is the job queue's
// responsibility, not internal locking.
type Engine struct {
	st    store.Store
	cfg   Config
	cache *gocache.Cache
}

// NewEngine creates an engine over the given store.
func NewEngine(st store.Store, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		st:    st,
		cfg:   cfg,
		cache: gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// Config returns the engine's resolved configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// IsEligible checks whether the poll has enough participation to
// cluster. Count queries only — it runs before any matrix work so tiny
// polls cost nothing.
func (e *Engine) IsEligible(ctx context.Context, pollID string) (Eligibility, error) {
	users, err := e.st.CountDistinctVoters(ctx, pollID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("eligibility check for poll %s: %w", pollID, err)
	}
	statements, err := e.st.CountApprovedStatements(ctx, pollID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("eligibility check for poll %s: %w", pollID, err)
	}

	elig := Eligibility{
		UserCount:      users,
		StatementCount: statements,
	}

	var reasons []string
	if users < e.cfg.MinUsers {
		reasons = append(reasons, fmt.Sprintf("needs at least %d voting users, currently %d", e.cfg.MinUsers, users))
	}
	if statements < e.cfg.MinStatements {
		reasons = append(reasons, fmt.Sprintf("needs at least %d approved statements, currently %d", e.cfg.MinStatements, statements))
	}

	if len(reasons) == 0 {
		elig.Eligible = true
	} else {
		elig.Reason = strings.Join(reasons, "; ")
	}
	return elig, nil
}

// ComputeLandscape runs the full pipeline for a poll.
//
// An ineligible poll returns a landscape carrying only the eligibility
// result — not an error, so callers can't mistake "too small to
// cluster" for a crash. Unexpected pipeline failures return a
// *ComputationError, which the queue treats as retryable. Running twice
// on unchanged votes produces identical partitions and coordinates.
func (e *Engine) ComputeLandscape(ctx context.Context, pollID string) (*Landscape, error) {
	elig, err := e.IsEligible(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return &Landscape{
			PollID:      pollID,
			ComputedAt:  time.Now().UTC(),
			Eligibility: elig,
		}, nil
	}

	rawVotes, err := e.st.PollVotes(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("loading votes for poll %s: %w", pollID, err)
	}

	triples := make([]matrix.Vote, len(rawVotes))
	for i, v := range rawVotes {
		triples[i] = matrix.Vote{UserID: v.UserID, StatementID: v.StatementID, Value: v.Value}
	}

	m := matrix.Build(triples)
	if m.Empty() {
		// The gate counted enough voters, so an empty matrix means the
		// votes vanished between the two reads.
		return nil, &ComputationError{Stage: "matrix", Err: fmt.Errorf("vote matrix empty after eligibility passed")}
	}

	proj, err := pca.Project(m.Values)
	if err != nil {
		return nil, &ComputationError{Stage: "pca", Err: err}
	}

	fine := cluster.Fine(proj.Points)
	coarse := cluster.Coarse(fine.Clusters)
	userGroups := cluster.UserGroups(fine.Assignments, coarse)

	classifications := classify.Classify(m, userGroups, len(coarse.Groups), e.cfg.Classify)
	analysis := coalition.Analyze(m, userGroups, len(coarse.Groups), e.cfg.Coalition)

	landscape := e.assemble(pollID, m, proj, fine, coarse, userGroups, classifications, analysis)

	if err := e.persist(ctx, landscape); err != nil {
		return nil, err
	}
	e.cache.Set(pollID, landscape, gocache.DefaultExpiration)

	return landscape, nil
}

// CachedLandscape returns a recently computed landscape, if one is
// still within its TTL.
func (e *Engine) CachedLandscape(pollID string) (*Landscape, bool) {
	if v, ok := e.cache.Get(pollID); ok {
		return v.(*Landscape), true
	}
	return nil, false
}

// LatestLandscape loads the most recent persisted landscape, preferring
// the in-memory cache.
func (e *Engine) LatestLandscape(ctx context.Context, pollID string) (*Landscape, error) {
	if l, ok := e.CachedLandscape(pollID); ok {
		return l, nil
	}
	snap, err := e.st.LatestSnapshot(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return DecodeLandscape(snap.Payload)
}

func (e *Engine) assemble(
	pollID string,
	m *matrix.VoteMatrix,
	proj *pca.Projection,
	fine *cluster.FineResult,
	coarse *cluster.CoarseResult,
	userGroups []int,
	classifications []classify.StatementClassification,
	analysis *coalition.Analysis,
) *Landscape {
	landscape := &Landscape{
		RunID:      uuid.NewString(),
		PollID:     pollID,
		ComputedAt: time.Now().UTC(),
		Eligibility: Eligibility{
			Eligible:       true,
			UserCount:      m.UserCount(),
			StatementCount: m.StatementCount(),
		},
		Statements:         classifications,
		Coalitions:         analysis,
		VarianceExplained:  proj.TotalVarianceExplained,
		ComponentVariance:  proj.ComponentVariance,
		Silhouette:         cluster.Silhouette(proj.Points, userGroups, len(coarse.Groups)),
		DegenerateGeometry: proj.Degenerate || fine.Degenerate,
	}

	landscape.Users = make([]UserPosition, m.UserCount())
	for i, userID := range m.UserIDs {
		landscape.Users[i] = UserPosition{
			UserID:        userID,
			PC1:           proj.Points[i].PC1,
			PC2:           proj.Points[i].PC2,
			FineClusterID: fine.Assignments[i],
			GroupID:       userGroups[i],
			VoteCount:     m.VoteCounts[i],
		}
	}

	landscape.Groups = make([]OpinionGroup, len(coarse.Groups))
	for i, g := range coarse.Groups {
		landscape.Groups[i] = OpinionGroup{
			ID:             g.ID,
			Centroid:       g.Centroid,
			FineClusterIDs: g.FineClusterIDs,
			UserCount:      g.UserCount,
		}
	}

	return landscape
}

func (e *Engine) persist(ctx context.Context, landscape *Landscape) error {
	payload, err := json.Marshal(landscape)
	if err != nil {
		return fmt.Errorf("encoding landscape for poll %s: %w", landscape.PollID, err)
	}
	snap := &store.Snapshot{
		RunID:          landscape.RunID,
		PollID:         landscape.PollID,
		UserCount:      landscape.Eligibility.UserCount,
		StatementCount: landscape.Eligibility.StatementCount,
		GroupCount:     len(landscape.Groups),
		Payload:        payload,
		ComputedAt:     landscape.ComputedAt,
	}
	if err := e.st.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("persisting landscape for poll %s: %w", landscape.PollID, err)
	}
	return nil
}
