package service

import (
	"context"
	"fmt"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/queue"
	"github.com/iago/technoshare-commentator/internal/repository"
)

// JobsService backs the operator API.
type JobsService struct {
	repo     repository.JobsRepository
	notifier queue.Notifier
}

func NewJobsService(repo repository.JobsRepository, notifier queue.Notifier) *JobsService {
	return &JobsService{repo: repo, notifier: notifier}
}

func (s *JobsService) GetJob(ctx context.Context, jobID int64) (*domain.JobDetail, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, error) {
	return s.repo.ListJobs(ctx, filter)
}

// RequeueJob returns a failed or stuck job to pending and wakes the workers.
func (s *JobsService) RequeueJob(ctx context.Context, jobID int64) (*domain.JobDetail, error) {
	if err := s.repo.RequeueJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("requeue job %d: %w", jobID, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx)
	}
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

func (s *JobsService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
