package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/pipeline"
	"github.com/iago/technoshare-commentator/internal/queue"
)

var ErrJobPanicked = errors.New("job processing panicked")

const (
	defaultPollInterval = 5 * time.Second
	defaultErrorBackoff = 5 * time.Second
	defaultJobTimeout   = 5 * time.Minute
	finishTimeout       = 10 * time.Second
)

// JobSource hands out pending jobs and records failures the processor could not.
type JobSource interface {
	ClaimNextJob(ctx context.Context) (*domain.ClaimedJob, error)
	MarkJobFailed(ctx context.Context, jobID int64, reason string) error
}

type Processor interface {
	Process(ctx context.Context, job domain.ClaimedJob) (pipeline.Result, error)
}

type Config struct {
	ID           string
	PollInterval time.Duration
	ErrorBackoff time.Duration
	JobTimeout   time.Duration
}

// Worker claims one job at a time and runs it to a terminal state.
type Worker struct {
	id           string
	jobs         JobSource
	processor    Processor
	waiter       queue.Waiter
	pollInterval time.Duration
	errorBackoff time.Duration
	jobTimeout   time.Duration
	logger       *logger.Logger
}

func New(jobs JobSource, processor Processor, waiter queue.Waiter, cfg Config, log *logger.Logger) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.NewString()[:8]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		id:           cfg.ID,
		jobs:         jobs,
		processor:    processor,
		waiter:       waiter,
		pollInterval: cfg.PollInterval,
		errorBackoff: cfg.ErrorBackoff,
		jobTimeout:   cfg.JobTimeout,
		logger:       log.With("worker_id", cfg.ID),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// Run polls until ctx is cancelled. A job in flight when ctx is cancelled
// still runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll_interval", w.pollInterval.String())
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		claimed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
			w.sleep(ctx, w.errorBackoff)
			continue
		}
		if !claimed {
			w.idle(ctx)
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, w.process(ctx, *job)
}

func (w *Worker) process(ctx context.Context, job domain.ClaimedJob) (err error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		reason := fmt.Sprintf("panic: %v", recovered)
		w.logger.Error("job panicked", "job_id", job.ID, "panic", recovered, "stack", string(debug.Stack()))

		finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer finishCancel()
		if markErr := w.jobs.MarkJobFailed(finishCtx, job.ID, reason); markErr != nil {
			err = fmt.Errorf("%w: job %d: mark failed: %v", ErrJobPanicked, job.ID, markErr)
			return
		}
		err = fmt.Errorf("%w: job %d: %v", ErrJobPanicked, job.ID, recovered)
	}()

	w.logger.Info("job claimed", "job_id", job.ID, "channel_id", job.ChannelID, "message_ts", job.MessageTS)
	if _, err := w.processor.Process(jobCtx, job); err != nil {
		return fmt.Errorf("process job %d: %w", job.ID, err)
	}
	return nil
}

func (w *Worker) idle(ctx context.Context) {
	if w.waiter == nil {
		w.sleep(ctx, w.pollInterval)
		return
	}
	w.waiter.Wait(ctx, w.pollInterval)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
