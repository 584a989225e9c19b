package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/technoshare-commentator/internal/domain"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// A processing job counts as stuck once it has outlived the worker's
	// job timeout plus this margin for writing its terminal state.
	stuckMargin       = time.Minute
	defaultJobTimeout = 5 * time.Minute
)

// JobsRepository is the durable message ledger and job queue shared by the
// gateway and workers. All coordination between them goes through it.
type JobsRepository interface {
	// SaveMessage stores the message and its pending job in one transaction.
	// It returns false without error when (channel, ts) was already stored.
	SaveMessage(ctx context.Context, message domain.Message) (bool, error)
	// ClaimNextJob moves the oldest pending job to processing. It returns
	// nil, nil when nothing is pending.
	ClaimNextJob(ctx context.Context) (*domain.ClaimedJob, error)
	MarkJobDone(ctx context.Context, jobID int64) error
	MarkJobFailed(ctx context.Context, jobID int64, reason string) error

	GetJob(ctx context.Context, jobID int64) (*domain.JobDetail, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, error)
	RequeueJob(ctx context.Context, jobID int64) error
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	Ping(ctx context.Context) error
	Close() error
}

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func stuckAfter(jobTimeout time.Duration) time.Duration {
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return jobTimeout + stuckMargin
}

// checkRequeue allows failed jobs, and processing jobs whose worker can no
// longer be running.
func checkRequeue(status domain.JobStatus, updatedAt, now time.Time, stuckAfter time.Duration) error {
	switch status {
	case domain.JobStatusFailed:
		return nil
	case domain.JobStatusProcessing:
		age := now.Sub(updatedAt)
		if age >= stuckAfter {
			return nil
		}
		return fmt.Errorf("%w: job has been processing for %s, requeue allowed after %s",
			ErrInvalidTransition, age.Truncate(time.Second), stuckAfter)
	default:
		return fmt.Errorf("%w: cannot requeue job in status %s", ErrInvalidTransition, status)
	}
}
