package store

import (
	"context"
	"fmt"
	"time"
)

// UpsertPoll inserts a poll or updates its title.
func (s *SQLiteStore) UpsertPoll(ctx context.Context, p *Poll) error {
	if p.ID == "" {
		return fmt.Errorf("poll id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO polls (id, title) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		p.ID, p.Title,
	)
	if err != nil {
		return fmt.Errorf("upserting poll %s: %w", p.ID, err)
	}
	return nil
}

// AddStatement inserts a statement. Statements start unapproved unless
// the caller sets Approved.
func (s *SQLiteStore) AddStatement(ctx context.Context, st *Statement) error {
	if st.ID == "" || st.PollID == "" {
		return fmt.Errorf("statement id and poll id are required")
	}
	approved := 0
	if st.Approved {
		approved = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statements (id, poll_id, text, approved) VALUES (?, ?, ?, ?)`,
		st.ID, st.PollID, st.Text, approved,
	)
	if err != nil {
		return fmt.Errorf("adding statement %s: %w", st.ID, err)
	}
	return nil
}

// SetStatementApproved flips the moderation flag on a statement.
func (s *SQLiteStore) SetStatementApproved(ctx context.Context, statementID string, approved bool) error {
	val := 0
	if approved {
		val = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE statements SET approved = ? WHERE id = ?`,
		val, statementID,
	)
	if err != nil {
		return fmt.Errorf("updating statement approval: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("statement %s not found", statementID)
	}
	return nil
}

// CastVote records a vote. A revote by the same user on the same
// statement overwrites the previous value (latest wins, no history).
func (s *SQLiteStore) CastVote(ctx context.Context, v *Vote) error {
	if v.Value < -1 || v.Value > 1 {
		return fmt.Errorf("vote value must be -1, 0, or 1, got %d", v.Value)
	}
	castAt := v.CastAt
	if castAt.IsZero() {
		castAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO votes (user_id, statement_id, poll_id, value, cast_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, statement_id) DO UPDATE SET
			value = excluded.value,
			cast_at = excluded.cast_at`,
		v.UserID, v.StatementID, v.PollID, v.Value, castAt,
	)
	if err != nil {
		return fmt.Errorf("casting vote: %w", err)
	}
	return nil
}

// PollVotes returns all votes for a poll's approved, non-deleted
// statements in one bulk read. Ordering is deterministic (user, statement)
// so repeated reads produce identical slices for identical data.
func (s *SQLiteStore) PollVotes(ctx context.Context, pollID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.user_id, v.statement_id, v.poll_id, v.value, v.cast_at
		 FROM votes v
		 JOIN statements st ON st.id = v.statement_id
		 WHERE v.poll_id = ?
		   AND st.approved = 1
		   AND st.deleted_at IS NULL
		 ORDER BY v.user_id, v.statement_id`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying poll votes: %w", err)
	}
	defer rows.Close()

	votes := make([]Vote, 0, 256)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.UserID, &v.StatementID, &v.PollID, &v.Value, &v.CastAt); err != nil {
			return nil, fmt.Errorf("scanning vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating poll votes: %w", err)
	}
	return votes, nil
}

// CountDistinctVoters returns how many distinct users voted on the poll's
// approved statements. Cheap count for the eligibility gate.
func (s *SQLiteStore) CountDistinctVoters(ctx context.Context, pollID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT v.user_id)
		 FROM votes v
		 JOIN statements st ON st.id = v.statement_id
		 WHERE v.poll_id = ?
		   AND st.approved = 1
		   AND st.deleted_at IS NULL`,
		pollID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting distinct voters: %w", err)
	}
	return count, nil
}

// CountApprovedStatements returns the number of approved, non-deleted
// statements in the poll.
func (s *SQLiteStore) CountApprovedStatements(ctx context.Context, pollID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM statements
		 WHERE poll_id = ?
		   AND approved = 1
		   AND deleted_at IS NULL`,
		pollID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting approved statements: %w", err)
	}
	return count, nil
}
