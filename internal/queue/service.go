// Package queue drains the durable clustering job queue: it claims
// pending jobs, runs the landscape pipeline for each, and applies the
// retry bookkeeping.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/civitas-io/agora/internal/engine"
	"github.com/civitas-io/agora/internal/store"
)

// Computer runs the clustering pipeline for one poll. *engine.Engine is
// the production implementation.
type Computer interface {
	ComputeLandscape(ctx context.Context, pollID string) (*engine.Landscape, error)
}

// Outcome describes what happened to one claimed job.
type Outcome struct {
	JobID   int64             `json:"job_id"`
	PollID  string            `json:"poll_id"`
	Status  store.JobStatus   `json:"status"`
	Attempt int               `json:"attempt"`
	Message string            `json:"message,omitempty"`
	Result  *engine.Landscape `json:"-"`
}

// Report summarizes one queue drain.
type Report struct {
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Retried    int      `json:"retried"`
	Errors     []string `json:"errors,omitempty"`
}

// Service processes clustering jobs against a store.
type Service struct {
	st  store.Store
	eng Computer
	log *slog.Logger

	// MaxAttempts is the retry budget stamped on newly enqueued jobs.
	MaxAttempts int
}

// NewService creates a queue service. A nil logger falls back to
// slog.Default().
func NewService(st store.Store, eng Computer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{st: st, eng: eng, log: log, MaxAttempts: store.DefaultMaxAttempts}
}

// Enqueue adds a clustering job for the poll. Returns false when a
// pending or processing job for the poll already exists.
func (s *Service) Enqueue(ctx context.Context, pollID string) (bool, error) {
	enqueued, err := s.st.EnqueueJob(ctx, pollID, s.MaxAttempts)
	if err != nil {
		return false, err
	}
	if !enqueued {
		s.log.Debug("enqueue deduplicated", "poll", pollID)
	}
	return enqueued, nil
}

// ProcessNext claims and processes the oldest pending job. Returns
// (nil, nil) when the queue is empty.
//
// A failed computation is retried until the job's attempt budget is
// spent, then the job is marked failed. An ineligible poll is a normal
// completion, with the eligibility reason recorded on the job.
func (s *Service) ProcessNext(ctx context.Context) (*Outcome, error) {
	job, err := s.st.ClaimNextJob(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	outcome := &Outcome{JobID: job.ID, PollID: job.PollID, Attempt: job.AttemptCount}

	landscape, err := s.eng.ComputeLandscape(ctx, job.PollID)
	if err != nil {
		return s.handleFailure(ctx, job, outcome, err)
	}

	message := ""
	if !landscape.Eligible() {
		message = landscape.Eligibility.Reason
		s.log.Info("poll not eligible for clustering",
			"poll", job.PollID, "job", job.ID, "reason", message)
	} else {
		s.log.Info("landscape computed",
			"poll", job.PollID, "job", job.ID,
			"users", landscape.Eligibility.UserCount,
			"groups", len(landscape.Groups))
	}

	if err := s.st.CompleteJob(ctx, job.ID, message); err != nil {
		return nil, fmt.Errorf("completing job %d: %w", job.ID, err)
	}
	outcome.Status = store.JobStatusCompleted
	outcome.Message = message
	outcome.Result = landscape
	return outcome, nil
}

func (s *Service) handleFailure(ctx context.Context, job *store.Job, outcome *Outcome, computeErr error) (*Outcome, error) {
	outcome.Message = computeErr.Error()

	if job.AttemptCount < job.MaxAttempts {
		s.log.Warn("clustering attempt failed, will retry",
			"poll", job.PollID, "job", job.ID,
			"attempt", job.AttemptCount, "max_attempts", job.MaxAttempts,
			"error", computeErr)
		if err := s.st.RetryJob(ctx, job.ID, computeErr.Error()); err != nil {
			return nil, fmt.Errorf("retrying job %d: %w", job.ID, err)
		}
		outcome.Status = store.JobStatusPending
		return outcome, nil
	}

	s.log.Error("clustering job failed permanently",
		"poll", job.PollID, "job", job.ID,
		"attempts", job.AttemptCount, "error", computeErr)
	if err := s.st.FailJob(ctx, job.ID, computeErr.Error()); err != nil {
		return nil, fmt.Errorf("failing job %d: %w", job.ID, err)
	}
	outcome.Status = store.JobStatusFailed
	return outcome, nil
}

// ProcessQueue drains up to maxJobs pending jobs (all of them when
// maxJobs <= 0) and reports the aggregate outcome. Store-level errors
// abort the drain; per-job computation failures are accounted in the
// report and do not.
func (s *Service) ProcessQueue(ctx context.Context, maxJobs int) (*Report, error) {
	report := &Report{}
	for maxJobs <= 0 || report.Processed < maxJobs {
		outcome, err := s.ProcessNext(ctx)
		if err != nil {
			return report, err
		}
		if outcome == nil {
			break
		}
		report.Processed++
		switch outcome.Status {
		case store.JobStatusCompleted:
			report.Successful++
		case store.JobStatusPending:
			report.Retried++
			report.Errors = append(report.Errors,
				fmt.Sprintf("poll %s attempt %d: %s", outcome.PollID, outcome.Attempt, outcome.Message))
		case store.JobStatusFailed:
			report.Failed++
			report.Errors = append(report.Errors,
				fmt.Sprintf("poll %s failed after %d attempts: %s", outcome.PollID, outcome.Attempt, outcome.Message))
		}
	}
	return report, nil
}

// Stats returns job counts by status.
func (s *Service) Stats(ctx context.Context) (*store.QueueStats, error) {
	return s.st.QueueStats(ctx)
}

// Cleanup deletes terminal jobs older than daysToKeep days.
func (s *Service) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	removed, err := s.st.CleanupOldJobs(ctx, daysToKeep)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("cleaned up old jobs", "removed", removed, "days_kept", daysToKeep)
	}
	return removed, nil
}
