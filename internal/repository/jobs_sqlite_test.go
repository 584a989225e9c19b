package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iago/technoshare-commentator/internal/domain"
)

func newTestRepository(t *testing.T) *SQLiteJobsRepository {
	t.Helper()
	repo, err := OpenSQLiteJobsRepository(context.Background(), filepath.Join(t.TempDir(), "jobs.sqlite"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testMessage(ts string) domain.Message {
	return domain.Message{
		ChannelID: "C123",
		TS:        ts,
		UserID:    "U1",
		Text:      "look at https://example.com/" + ts,
	}
}

func TestSaveMessageIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.SaveMessage(ctx, testMessage("1700000000.000100"))
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	second, err := repo.SaveMessage(ctx, testMessage("1700000000.000100"))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if !first || second {
		t.Fatalf("expected (true, false), got (%v, %v)", first, second)
	}

	var messages, jobs int
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&messages); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&jobs); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if messages != 1 || jobs != 1 {
		t.Fatalf("expected one message and one job, got %d and %d", messages, jobs)
	}
}

func TestSaveMessageSameTimestampOtherChannel(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	message := testMessage("1.1")
	if created, err := repo.SaveMessage(ctx, message); err != nil || !created {
		t.Fatalf("expected first channel saved, created=%v err=%v", created, err)
	}
	message.ChannelID = "C999"
	if created, err := repo.SaveMessage(ctx, message); err != nil || !created {
		t.Fatalf("expected second channel saved, created=%v err=%v", created, err)
	}
}

func TestClaimNextJobReturnsPayloadThenNone(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	message := testMessage("1.2")
	message.ThreadTS = "1.0"
	if _, err := repo.SaveMessage(ctx, message); err != nil {
		t.Fatalf("save: %v", err)
	}

	job, err := repo.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatalf("expected a claimed job")
	}
	if job.Text != message.Text || job.ChannelID != "C123" || job.MessageTS != "1.2" {
		t.Fatalf("unexpected claimed payload %+v", job)
	}
	if job.ReplyThreadTS() != "1.0" {
		t.Fatalf("expected reply in existing thread, got %q", job.ReplyThreadTS())
	}

	detail, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if detail.Status != domain.JobStatusProcessing {
		t.Fatalf("expected processing, got %s", detail.Status)
	}

	next, err := repo.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if next != nil {
		t.Fatalf("expected no pending job, got %+v", next)
	}
}

func TestClaimNextJobIsFIFO(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, ts := range []string{"10.1", "10.2", "10.3"} {
		if _, err := repo.SaveMessage(ctx, testMessage(ts)); err != nil {
			t.Fatalf("save %s: %v", ts, err)
		}
	}
	for _, want := range []string{"10.1", "10.2", "10.3"} {
		job, err := repo.ClaimNextJob(ctx)
		if err != nil || job == nil {
			t.Fatalf("claim: job=%v err=%v", job, err)
		}
		if job.MessageTS != want {
			t.Fatalf("expected %s next, got %s", want, job.MessageTS)
		}
	}
}

func TestClaimNextJobConcurrentSingleWinner(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	if _, err := repo.SaveMessage(ctx, testMessage("2.1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	const claimants = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
		start   = make(chan struct{})
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := repo.ClaimNextJob(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if job != nil {
				winners++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected claim errors: %v", errs)
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claimant, got %d", winners)
	}
}

func TestClaimNextJobConcurrentDrainsEachJobOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		if _, err := repo.SaveMessage(ctx, testMessage(fmt.Sprintf("3.%03d", i))); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.ClaimNextJob(ctx)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct jobs, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %d claimed %d times", id, count)
		}
	}
}

func TestMarkJobDoneTwiceIsBenign(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	if _, err := repo.SaveMessage(ctx, testMessage("4.1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	job, err := repo.ClaimNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	for i := 0; i < 2; i++ {
		if err := repo.MarkJobDone(ctx, job.ID); err != nil {
			t.Fatalf("mark done call %d: %v", i+1, err)
		}
	}
	detail, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if detail.Status != domain.JobStatusDone {
		t.Fatalf("expected done, got %s", detail.Status)
	}
	if detail.Attempts != 0 {
		t.Fatalf("expected attempts untouched, got %d", detail.Attempts)
	}
}

func TestMarkJobFailedCapsReason(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	if _, err := repo.SaveMessage(ctx, testMessage("5.1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	job, err := repo.ClaimNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	if err := repo.MarkJobFailed(ctx, job.ID, strings.Repeat("x", 10000)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	detail, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if detail.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", detail.Status)
	}
	if len(detail.LastError) > 2000 {
		t.Fatalf("expected capped reason, got %d chars", len(detail.LastError))
	}
}

func TestMarkUnknownJobReturnsNotFound(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.MarkJobDone(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetJob(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequeueJob(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	if _, err := repo.SaveMessage(ctx, testMessage("6.1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	pending, err := repo.ListJobs(ctx, domain.JobListFilter{Status: domain.JobStatusPending})
	if err != nil || len(pending) != 1 {
		t.Fatalf("list pending: jobs=%v err=%v", pending, err)
	}
	if err := repo.RequeueJob(ctx, pending[0].ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pending job requeue to be rejected, got %v", err)
	}

	job, err := repo.ClaimNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	if err := repo.MarkJobFailed(ctx, job.ID, "analysis: boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.RequeueJob(ctx, job.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	detail, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if detail.Status != domain.JobStatusPending || detail.Attempts != 1 {
		t.Fatalf("expected pending with 1 attempt, got %s/%d", detail.Status, detail.Attempts)
	}
	if detail.LastError != "analysis: boom" {
		t.Fatalf("expected last error kept for audit, got %q", detail.LastError)
	}

	again, err := repo.ClaimNextJob(ctx)
	if err != nil || again == nil || again.ID != job.ID {
		t.Fatalf("expected requeued job to be claimable, got %v err=%v", again, err)
	}
}

func TestRequeueLeavesRunningJobAlone(t *testing.T) {
	repo := newTestRepository(t)
	repo.SetJobTimeout(30 * time.Second)
	ctx := context.Background()
	if _, err := repo.SaveMessage(ctx, testMessage("6.2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, err := repo.ClaimNextJob(ctx)
	if err != nil || first == nil {
		t.Fatalf("claim: job=%v err=%v", first, err)
	}

	if err := repo.RequeueJob(ctx, first.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected freshly claimed job requeue to be rejected, got %v", err)
	}
	if second, err := repo.ClaimNextJob(ctx); err != nil || second != nil {
		t.Fatalf("expected no second claim while the first run is live, got %v err=%v", second, err)
	}

	// The worker is presumed dead once the job outlives its timeout plus margin.
	repo.now = func() time.Time { return time.Now().UTC().Add(30*time.Second + stuckMargin + time.Second) }
	if err := repo.RequeueJob(ctx, first.ID); err != nil {
		t.Fatalf("expected stuck job requeue to succeed, got %v", err)
	}

	if err := repo.MarkJobDone(ctx, first.ID); err != nil {
		t.Fatalf("late finish from the abandoned run: %v", err)
	}
	detail, err := repo.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if detail.Status != domain.JobStatusPending {
		t.Fatalf("expected late finish to leave the requeued job pending, got %s", detail.Status)
	}

	again, err := repo.ClaimNextJob(ctx)
	if err != nil || again == nil || again.ID != first.ID {
		t.Fatalf("expected requeued job to be claimable, got %v err=%v", again, err)
	}
}

func TestCheckRequeue(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limit := stuckAfter(time.Minute)
	cases := []struct {
		name      string
		status    domain.JobStatus
		updatedAt time.Time
		wantErr   bool
	}{
		{name: "failed", status: domain.JobStatusFailed, updatedAt: now},
		{name: "fresh processing", status: domain.JobStatusProcessing, updatedAt: now.Add(-time.Minute), wantErr: true},
		{name: "stuck processing", status: domain.JobStatusProcessing, updatedAt: now.Add(-limit)},
		{name: "pending", status: domain.JobStatusPending, updatedAt: now.Add(-time.Hour), wantErr: true},
		{name: "done", status: domain.JobStatusDone, updatedAt: now.Add(-time.Hour), wantErr: true},
	}
	for _, tc := range cases {
		err := checkRequeue(tc.status, tc.updatedAt, now, limit)
		if tc.wantErr && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: expected requeue allowed, got %v", tc.name, err)
		}
	}
}

func TestCountByStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	for _, ts := range []string{"7.1", "7.2"} {
		if _, err := repo.SaveMessage(ctx, testMessage(ts)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if _, err := repo.ClaimNextJob(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.JobStatusPending] != 1 || counts[domain.JobStatusProcessing] != 1 || counts[domain.JobStatusDone] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}
