package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/pipeline"
	"github.com/iago/technoshare-commentator/internal/queue"
	"github.com/iago/technoshare-commentator/internal/repository"
)

type processFunc func(ctx context.Context, job domain.ClaimedJob) (pipeline.Result, error)

func (f processFunc) Process(ctx context.Context, job domain.ClaimedJob) (pipeline.Result, error) {
	return f(ctx, job)
}

func newTestRepository(t *testing.T) *repository.SQLiteJobsRepository {
	t.Helper()
	repo, err := repository.OpenSQLiteJobsRepository(context.Background(), filepath.Join(t.TempDir(), "jobs.sqlite"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedMessages(t *testing.T, repo *repository.SQLiteJobsRepository, texts ...string) {
	t.Helper()
	for i, text := range texts {
		created, err := repo.SaveMessage(context.Background(), domain.Message{
			ChannelID: "C1",
			TS:        "1700000000.00000" + string(rune('1'+i)),
			UserID:    "U1",
			Text:      text,
		})
		if err != nil || !created {
			t.Fatalf("seed message %d: created=%v err=%v", i, created, err)
		}
	}
}

func waitForTerminal(t *testing.T, repo *repository.SQLiteJobsRepository, count int) map[domain.JobStatus]int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := repo.CountByStatus(context.Background())
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if counts[domain.JobStatusDone]+counts[domain.JobStatusFailed] == count {
			return counts
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("jobs did not reach a terminal state in time")
	return nil
}

func TestWorkerSurvivesPanickingJob(t *testing.T) {
	repo := newTestRepository(t)
	seedMessages(t, repo, "first https://a.dev", "boom https://b.dev", "third https://c.dev")

	processor := processFunc(func(ctx context.Context, job domain.ClaimedJob) (pipeline.Result, error) {
		if strings.HasPrefix(job.Text, "boom") {
			panic("adapter exploded")
		}
		return pipeline.Result{JobID: job.ID, Status: domain.JobStatusDone}, repo.MarkJobDone(ctx, job.ID)
	})
	w := New(repo, processor, nil, Config{PollInterval: 10 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	counts := waitForTerminal(t, repo, 3)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}

	if counts[domain.JobStatusDone] != 2 || counts[domain.JobStatusFailed] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	failed, err := repo.ListJobs(context.Background(), domain.JobListFilter{Status: domain.JobStatusFailed})
	if err != nil || len(failed) != 1 {
		t.Fatalf("list failed jobs: %v %v", failed, err)
	}
	if !strings.Contains(failed[0].LastError, "panic: adapter exploded") {
		t.Fatalf("unexpected last error %q", failed[0].LastError)
	}
}

func TestRunOnceReportsPanic(t *testing.T) {
	repo := newTestRepository(t)
	seedMessages(t, repo, "https://a.dev")
	w := New(repo, processFunc(func(context.Context, domain.ClaimedJob) (pipeline.Result, error) {
		panic("bad")
	}), nil, Config{}, nil)

	claimed, err := w.RunOnce(context.Background())
	if !claimed || !errors.Is(err, ErrJobPanicked) {
		t.Fatalf("expected panic error, got claimed=%v err=%v", claimed, err)
	}
}

func TestRunOnceWithoutPendingJobs(t *testing.T) {
	repo := newTestRepository(t)
	w := New(repo, processFunc(func(context.Context, domain.ClaimedJob) (pipeline.Result, error) {
		t.Fatal("processor must not run")
		return pipeline.Result{}, nil
	}), nil, Config{}, nil)

	claimed, err := w.RunOnce(context.Background())
	if claimed || err != nil {
		t.Fatalf("expected idle iteration, got claimed=%v err=%v", claimed, err)
	}
}

func TestInFlightJobFinishesAfterShutdown(t *testing.T) {
	repo := newTestRepository(t)
	seedMessages(t, repo, "https://a.dev")

	ctx, cancel := context.WithCancel(context.Background())
	processor := processFunc(func(jobCtx context.Context, job domain.ClaimedJob) (pipeline.Result, error) {
		cancel()
		time.Sleep(20 * time.Millisecond)
		if jobCtx.Err() != nil {
			return pipeline.Result{}, jobCtx.Err()
		}
		return pipeline.Result{}, repo.MarkJobDone(jobCtx, job.ID)
	})
	w := New(repo, processor, nil, Config{PollInterval: time.Hour}, nil)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	counts, err := repo.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.JobStatusDone] != 1 {
		t.Fatalf("expected in-flight job to finish, got %v", counts)
	}
}

func TestWorkerWakesOnSignal(t *testing.T) {
	repo := newTestRepository(t)
	signal := queue.NewLocalSignal()

	var mu sync.Mutex
	var processed []int64
	processor := processFunc(func(ctx context.Context, job domain.ClaimedJob) (pipeline.Result, error) {
		mu.Lock()
		processed = append(processed, job.ID)
		mu.Unlock()
		return pipeline.Result{}, repo.MarkJobDone(ctx, job.ID)
	})
	w := New(repo, processor, signal, Config{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	seedMessages(t, repo, "https://a.dev")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		signal.Notify(ctx)
		mu.Lock()
		n := len(processed)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("worker did not wake on signal")
}
