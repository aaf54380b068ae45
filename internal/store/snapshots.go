package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoSnapshot is returned when a poll has no persisted landscape yet.
var ErrNoSnapshot = errors.New("no landscape snapshot for poll")

// SaveSnapshot persists one landscape computation. The payload is the
// full JSON-encoded landscape result; metadata columns exist so the
// queue and CLI can report on snapshots without decoding payloads.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.RunID == "" || snap.PollID == "" {
		return fmt.Errorf("snapshot run id and poll id are required")
	}
	computedAt := snap.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO landscape_snapshots
			(run_id, poll_id, user_count, statement_count, group_count, payload, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.RunID, snap.PollID, snap.UserCount, snap.StatementCount,
		snap.GroupCount, string(snap.Payload), computedAt,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot for poll %s: %w", snap.PollID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading snapshot insert id: %w", err)
	}
	snap.ID = id
	snap.ComputedAt = computedAt
	return nil
}

// LatestSnapshot returns the most recent snapshot for a poll, or
// ErrNoSnapshot when none exists.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, pollID string) (*Snapshot, error) {
	var snap Snapshot
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, poll_id, user_count, statement_count, group_count, payload, computed_at
		 FROM landscape_snapshots
		 WHERE poll_id = ?
		 ORDER BY computed_at DESC, id DESC
		 LIMIT 1`,
		pollID,
	).Scan(&snap.ID, &snap.RunID, &snap.PollID, &snap.UserCount,
		&snap.StatementCount, &snap.GroupCount, &payload, &snap.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot for poll %s: %w", pollID, err)
	}
	snap.Payload = []byte(payload)
	return &snap, nil
}
