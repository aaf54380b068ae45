package store

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedPoll creates a poll with the given number of approved statements
// and returns the statement IDs.
func seedPoll(t *testing.T, s Store, pollID string, statements int) []string {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertPoll(ctx, &Poll{ID: pollID, Title: "test poll"}); err != nil {
		t.Fatalf("upserting poll: %v", err)
	}
	ids := make([]string, 0, statements)
	for i := 0; i < statements; i++ {
		id := fmt.Sprintf("%s-st-%02d", pollID, i)
		err := s.AddStatement(ctx, &Statement{
			ID:       id,
			PollID:   pollID,
			Text:     fmt.Sprintf("statement %d", i),
			Approved: true,
		})
		if err != nil {
			t.Fatalf("adding statement: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	// Verify tables exist by querying sqlite_master
	ss := s.(*SQLiteStore)
	tables := []string{"polls", "statements", "votes", "landscape_snapshots",
		"clustering_jobs", "meta"}
	for _, table := range tables {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMaxAttemptsColumnExists(t *testing.T) {
	s := newTestStore(t)
	ss := s.(*SQLiteStore)

	var count int
	err := ss.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('clustering_jobs') WHERE name='max_attempts'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("checking max_attempts column: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected max_attempts column, found %d", count)
	}
}

func TestCastVoteRevoteOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stmts := seedPoll(t, s, "p1", 1)

	vote := &Vote{UserID: "u1", StatementID: stmts[0], PollID: "p1", Value: VoteAgree}
	if err := s.CastVote(ctx, vote); err != nil {
		t.Fatalf("casting vote: %v", err)
	}
	vote.Value = VoteDisagree
	if err := s.CastVote(ctx, vote); err != nil {
		t.Fatalf("revoting: %v", err)
	}

	votes, err := s.PollVotes(ctx, "p1")
	if err != nil {
		t.Fatalf("reading votes: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("expected 1 vote after revote, got %d", len(votes))
	}
	if votes[0].Value != VoteDisagree {
		t.Errorf("expected latest value -1, got %d", votes[0].Value)
	}
}

func TestCastVoteRejectsOutOfRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stmts := seedPoll(t, s, "p1", 1)

	err := s.CastVote(ctx, &Vote{UserID: "u1", StatementID: stmts[0], PollID: "p1", Value: 2})
	if err == nil {
		t.Fatal("expected error for out-of-range vote value")
	}
}

func TestPollVotesExcludesUnapproved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stmts := seedPoll(t, s, "p1", 2)

	// One unapproved statement with a vote on it
	if err := s.AddStatement(ctx, &Statement{ID: "p1-raw", PollID: "p1", Text: "pending moderation"}); err != nil {
		t.Fatalf("adding unapproved statement: %v", err)
	}
	for _, stID := range append(stmts, "p1-raw") {
		err := s.CastVote(ctx, &Vote{UserID: "u1", StatementID: stID, PollID: "p1", Value: VoteAgree})
		if err != nil {
			t.Fatalf("casting vote: %v", err)
		}
	}

	votes, err := s.PollVotes(ctx, "p1")
	if err != nil {
		t.Fatalf("reading votes: %v", err)
	}
	if len(votes) != 2 {
		t.Fatalf("expected 2 votes on approved statements, got %d", len(votes))
	}
	for _, v := range votes {
		if v.StatementID == "p1-raw" {
			t.Error("vote on unapproved statement leaked into PollVotes")
		}
	}
}

func TestEligibilityCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stmts := seedPoll(t, s, "p1", 6)

	for u := 0; u < 15; u++ {
		err := s.CastVote(ctx, &Vote{
			UserID:      fmt.Sprintf("u%02d", u),
			StatementID: stmts[u%len(stmts)],
			PollID:      "p1",
			Value:       VoteAgree,
		})
		if err != nil {
			t.Fatalf("casting vote: %v", err)
		}
	}

	voters, err := s.CountDistinctVoters(ctx, "p1")
	if err != nil {
		t.Fatalf("counting voters: %v", err)
	}
	if voters != 15 {
		t.Errorf("expected 15 distinct voters, got %d", voters)
	}

	approved, err := s.CountApprovedStatements(ctx, "p1")
	if err != nil {
		t.Fatalf("counting statements: %v", err)
	}
	if approved != 6 {
		t.Errorf("expected 6 approved statements, got %d", approved)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPoll(t, s, "p1", 1)

	snap := &Snapshot{
		RunID:          "run-1",
		PollID:         "p1",
		UserCount:      20,
		StatementCount: 6,
		GroupCount:     2,
		Payload:        []byte(`{"groups":2}`),
	}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("saving snapshot: %v", err)
	}
	if snap.ID == 0 {
		t.Error("expected snapshot ID to be assigned")
	}

	// A later run supersedes the first
	later := &Snapshot{
		RunID:          "run-2",
		PollID:         "p1",
		UserCount:      25,
		StatementCount: 6,
		GroupCount:     3,
		Payload:        []byte(`{"groups":3}`),
		ComputedAt:     time.Now().UTC().Add(time.Minute),
	}
	if err := s.SaveSnapshot(ctx, later); err != nil {
		t.Fatalf("saving later snapshot: %v", err)
	}

	got, err := s.LatestSnapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("loading latest snapshot: %v", err)
	}
	if got.RunID != "run-2" {
		t.Errorf("expected latest run-2, got %s", got.RunID)
	}
	if string(got.Payload) != `{"groups":3}` {
		t.Errorf("payload did not round-trip: %s", got.Payload)
	}
}

func TestLatestSnapshotMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LatestSnapshot(context.Background(), "nope")
	if err != ErrNoSnapshot {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stmts := seedPoll(t, s, "p1", 3)
	for _, stID := range stmts {
		err := s.CastVote(ctx, &Vote{UserID: "u1", StatementID: stID, PollID: "p1", Value: VoteNeutral})
		if err != nil {
			t.Fatalf("casting vote: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("reading stats: %v", err)
	}
	if stats.PollCount != 1 || stats.StatementCount != 3 || stats.VoteCount != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
