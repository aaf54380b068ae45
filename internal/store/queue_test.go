package store

import (
	"context"
	"testing"
	"time"
)

func TestEnqueueDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queued, err := s.EnqueueJob(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if !queued {
		t.Fatal("expected first enqueue to insert")
	}

	queued, err = s.EnqueueJob(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if queued {
		t.Fatal("expected second enqueue to dedup")
	}

	// A different poll is not deduped
	queued, err = s.EnqueueJob(ctx, "p2", 0)
	if err != nil {
		t.Fatalf("enqueue other poll: %v", err)
	}
	if !queued {
		t.Fatal("expected enqueue for other poll to insert")
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats.Pending != 2 {
		t.Errorf("expected 2 pending jobs, got %d", stats.Pending)
	}
}

func TestDedupSpansProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "p1", 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := s.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.Status != JobStatusProcessing {
		t.Fatalf("expected processing job, got %+v", job)
	}

	// Still deduped while processing
	queued, err := s.EnqueueJob(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("enqueue while processing: %v", err)
	}
	if queued {
		t.Fatal("expected dedup while job is processing")
	}

	// After completion a new job may be queued
	if err := s.CompleteJob(ctx, job.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	queued, err = s.EnqueueJob(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("enqueue after completion: %v", err)
	}
	if !queued {
		t.Fatal("expected enqueue to succeed after previous job completed")
	}
}

func TestClaimNextJobFIFO(t *testing.T) {
	s := newTestStore(t)
	ss := s.(*SQLiteStore)
	ctx := context.Background()

	// Insert with explicit creation times so ordering is unambiguous
	base := time.Now().UTC().Add(-time.Hour)
	for i, pollID := range []string{"old", "mid", "new"} {
		_, err := ss.db.ExecContext(ctx,
			`INSERT INTO clustering_jobs (poll_id, status, max_attempts, created_at)
			 VALUES (?, 'pending', 3, ?)`,
			pollID, base.Add(time.Duration(i)*time.Minute),
		)
		if err != nil {
			t.Fatalf("inserting job: %v", err)
		}
	}

	for _, want := range []string{"old", "mid", "new"} {
		job, err := s.ClaimNextJob(ctx)
		if err != nil {
			t.Fatalf("claiming job: %v", err)
		}
		if job == nil {
			t.Fatalf("expected a job for poll %s", want)
		}
		if job.PollID != want {
			t.Errorf("expected oldest pending poll %s, got %s", want, job.PollID)
		}
		if job.AttemptCount != 1 {
			t.Errorf("expected attempt count 1 on first claim, got %d", job.AttemptCount)
		}
	}

	job, err := s.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claiming from empty queue: %v", err)
	}
	if job != nil {
		t.Fatalf("expected empty queue, got job for %s", job.PollID)
	}
}

func TestRetryIncrementsAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "p1", 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var jobID int64
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := s.ClaimNextJob(ctx)
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if job == nil {
			t.Fatalf("expected pending job on attempt %d", attempt)
		}
		jobID = job.ID
		if job.AttemptCount != attempt {
			t.Fatalf("expected attempt count %d, got %d", attempt, job.AttemptCount)
		}
		if attempt < 3 {
			if err := s.RetryJob(ctx, job.ID, "pca blew up"); err != nil {
				t.Fatalf("retry: %v", err)
			}
		}
	}

	if err := s.FailJob(ctx, jobID, "pca blew up"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	ss := s.(*SQLiteStore)
	job, err := ss.JobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Errorf("expected failed status, got %s", job.Status)
	}
	if job.ErrorMessage != "pca blew up" {
		t.Errorf("expected captured error message, got %q", job.ErrorMessage)
	}
	if job.ProcessedAt == nil {
		t.Error("expected processed_at to be set on terminal job")
	}
}

func TestTransitionRequiresProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "p1", 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := s.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CompleteJob(ctx, job.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Double-complete is rejected: the conditional update finds no
	// processing row.
	if err := s.CompleteJob(ctx, job.ID, ""); err == nil {
		t.Fatal("expected error completing an already-completed job")
	}
}

func TestCleanupOldJobs(t *testing.T) {
	s := newTestStore(t)
	ss := s.(*SQLiteStore)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10)
	rowSpecs := []struct {
		pollID    string
		status    string
		createdAt time.Time
	}{
		{"terminal-old", "completed", old},
		{"failed-old", "failed", old},
		{"terminal-new", "completed", time.Now().UTC()},
		{"pending-old", "pending", old},
	}
	for _, spec := range rowSpecs {
		_, err := ss.db.ExecContext(ctx,
			`INSERT INTO clustering_jobs (poll_id, status, max_attempts, created_at)
			 VALUES (?, ?, 3, ?)`,
			spec.pollID, spec.status, spec.createdAt,
		)
		if err != nil {
			t.Fatalf("inserting job: %v", err)
		}
	}

	deleted, err := s.CleanupOldJobs(ctx, 7)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted jobs, got %d", deleted)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Completed != 1 {
		t.Errorf("unexpected post-cleanup stats: %+v", stats)
	}
}

func TestRequeueStuckJobs(t *testing.T) {
	s := newTestStore(t)
	ss := s.(*SQLiteStore)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-2 * time.Hour)
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO clustering_jobs (poll_id, status, max_attempts, created_at, updated_at)
		 VALUES ('stuck', 'processing', 3, ?, ?)`,
		stale, stale,
	)
	if err != nil {
		t.Fatalf("inserting stuck job: %v", err)
	}
	if _, err := s.EnqueueJob(ctx, "fresh", 0); err != nil {
		t.Fatalf("enqueue fresh: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	requeued, err := s.RequeueStuckJobs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued != 1 {
		t.Errorf("expected 1 requeued job, got %d", requeued)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Processing != 1 {
		t.Errorf("unexpected stats after requeue: %+v", stats)
	}
}
