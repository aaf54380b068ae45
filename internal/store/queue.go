package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a clustering job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxAttempts is the default retry budget for a clustering job.
const DefaultMaxAttempts = 3

// Job is one row in the clustering job queue.
type Job struct {
	ID           int64
	PollID       string
	Status       JobStatus
	AttemptCount int
	MaxAttempts  int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}

// QueueStats holds job counts by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// EnqueueJob inserts a pending job for the poll. Returns false without
// error when a pending or processing job already exists — the partial
// unique index on (poll_id) makes the dedup check atomic, so two
// concurrent enqueues can never both insert.
func (s *SQLiteStore) EnqueueJob(ctx context.Context, pollID string, maxAttempts int) (bool, error) {
	if pollID == "" {
		return false, fmt.Errorf("poll id is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO clustering_jobs (poll_id, status, max_attempts)
		 VALUES (?, 'pending', ?)
		 ON CONFLICT(poll_id) WHERE status IN ('pending', 'processing') DO NOTHING`,
		pollID, maxAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("enqueueing job for poll %s: %w", pollID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading enqueue result: %w", err)
	}
	return affected > 0, nil
}

// ClaimNextJob atomically claims the oldest pending job: marks it
// processing and increments its attempt count in one conditional UPDATE.
// Returns (nil, nil) when the queue has no pending jobs.
func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE clustering_jobs
		 SET status = 'processing',
		     attempt_count = attempt_count + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = (
			SELECT id FROM clustering_jobs
			WHERE status = 'pending'
			ORDER BY created_at, id
			LIMIT 1
		 )
		   AND status = 'pending'
		 RETURNING id, poll_id, status, attempt_count, max_attempts,
		           error_message, created_at, updated_at, processed_at`,
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming next job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a processing job completed. The message records why
// (empty for a normal success, an explanation for "not eligible").
func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID int64, message string) error {
	return s.transitionJob(ctx, jobID, JobStatusProcessing, JobStatusCompleted, message, true)
}

// RetryJob reverts a processing job to pending so a later queue drain
// picks it up again. The error message from the failed attempt is kept.
func (s *SQLiteStore) RetryJob(ctx context.Context, jobID int64, errMessage string) error {
	return s.transitionJob(ctx, jobID, JobStatusProcessing, JobStatusPending, errMessage, false)
}

// FailJob marks a processing job permanently failed.
func (s *SQLiteStore) FailJob(ctx context.Context, jobID int64, errMessage string) error {
	return s.transitionJob(ctx, jobID, JobStatusProcessing, JobStatusFailed, errMessage, true)
}

// transitionJob performs a conditional status update. The WHERE clause
// on the current status means two workers can never double-apply the
// same transition.
func (s *SQLiteStore) transitionJob(ctx context.Context, jobID int64, from, to JobStatus, message string, terminal bool) error {
	processedAt := any(nil)
	if terminal {
		processedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE clustering_jobs
		 SET status = ?,
		     error_message = ?,
		     updated_at = CURRENT_TIMESTAMP,
		     processed_at = ?
		 WHERE id = ? AND status = ?`,
		to, message, processedAt, jobID, from,
	)
	if err != nil {
		return fmt.Errorf("transitioning job %d to %s: %w", jobID, to, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading transition result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d is not %s", jobID, from)
	}
	return nil
}

// QueueStats returns job counts grouped by status.
func (s *SQLiteStore) QueueStats(ctx context.Context) (*QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM clustering_jobs GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying queue stats: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning queue stats: %w", err)
		}
		switch JobStatus(status) {
		case JobStatusPending:
			stats.Pending = count
		case JobStatusProcessing:
			stats.Processing = count
		case JobStatusCompleted:
			stats.Completed = count
		case JobStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue stats: %w", err)
	}
	return stats, nil
}

// CleanupOldJobs deletes terminal (completed/failed) jobs older than
// daysToKeep days. Pending and processing jobs are never touched.
func (s *SQLiteStore) CleanupOldJobs(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		return 0, fmt.Errorf("daysToKeep must be >= 0, got %d", daysToKeep)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM clustering_jobs
		 WHERE status IN ('completed', 'failed')
		   AND created_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up old jobs: %w", err)
	}
	return result.RowsAffected()
}

// RequeueStuckJobs reverts processing jobs whose last update is older
// than olderThan back to pending. Intended for an external
// reconciliation tick after a worker crash; nothing calls it
// automatically.
func (s *SQLiteStore) RequeueStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := s.db.ExecContext(ctx,
		`UPDATE clustering_jobs
		 SET status = 'pending',
		     error_message = 'requeued after stuck processing',
		     updated_at = CURRENT_TIMESTAMP
		 WHERE status = 'processing'
		   AND updated_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("requeueing stuck jobs: %w", err)
	}
	return result.RowsAffected()
}

// JobByID fetches a job row. Used by tests and the queue service to
// inspect state after transitions.
func (s *SQLiteStore) JobByID(ctx context.Context, jobID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, poll_id, status, attempt_count, max_attempts,
		        error_message, created_at, updated_at, processed_at
		 FROM clustering_jobs WHERE id = ?`,
		jobID,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("loading job %d: %w", jobID, err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var status string
	var processedAt sql.NullTime
	err := row.Scan(&job.ID, &job.PollID, &status, &job.AttemptCount,
		&job.MaxAttempts, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
		&processedAt)
	if err != nil {
		return nil, err
	}
	job.Status = JobStatus(strings.TrimSpace(status))
	if processedAt.Valid {
		t := processedAt.Time
		job.ProcessedAt = &t
	}
	return &job, nil
}
