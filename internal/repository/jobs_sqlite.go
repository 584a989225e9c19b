package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/policy"
	"github.com/iago/technoshare-commentator/internal/store"
)

type SQLiteJobsRepository struct {
	db         *sql.DB
	builder    sq.StatementBuilderType
	now        func() time.Time
	stuckAfter time.Duration
}

func NewSQLiteJobsRepository(db *sql.DB) *SQLiteJobsRepository {
	return &SQLiteJobsRepository{
		db:         db,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:        func() time.Time { return time.Now().UTC() },
		stuckAfter: stuckAfter(0),
	}
}

// SetJobTimeout tells the repository how long a worker may hold a job, so
// requeue can tell a stuck job from a running one.
func (r *SQLiteJobsRepository) SetJobTimeout(timeout time.Duration) {
	r.stuckAfter = stuckAfter(timeout)
}

// OpenSQLiteJobsRepository opens the file, ensures the schema and returns a ready repository.
func OpenSQLiteJobsRepository(ctx context.Context, path string) (*SQLiteJobsRepository, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSQLiteSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLiteJobsRepository(db), nil
}

func (r *SQLiteJobsRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteJobsRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteJobsRepository) SaveMessage(ctx context.Context, message domain.Message) (bool, error) {
	now := r.now()
	receivedAt := message.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	status := message.Status
	if status == "" {
		status = domain.MessageStatusReceived
	}

	created := false
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query, args, err := r.builder.Insert("messages").
			Columns("channel_id", "message_ts", "thread_ts", "user_id", "text", "received_at", "status").
			Values(message.ChannelID, message.TS, nullString(message.ThreadTS), nullString(message.UserID), message.Text, receivedAt.UTC(), status).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if store.IsUniqueViolation(err) {
				return nil
			}
			return fmt.Errorf("insert message: %w", err)
		}

		query, args, err = r.builder.Insert("jobs").
			Columns("channel_id", "message_ts", "status", "attempts", "created_at", "updated_at").
			Values(message.ChannelID, message.TS, string(domain.JobStatusPending), 0, now, now).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *SQLiteJobsRepository) ClaimNextJob(ctx context.Context) (*domain.ClaimedJob, error) {
	var claimed *domain.ClaimedJob
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query, args, err := r.builder.
			Select("j.id", "j.channel_id", "j.message_ts", "COALESCE(m.thread_ts, '')", "m.text").
			From("jobs j").
			Join("messages m ON m.channel_id = j.channel_id AND m.message_ts = j.message_ts").
			Where(sq.Eq{"j.status": string(domain.JobStatusPending)}).
			OrderBy("j.created_at ASC", "j.id ASC").
			Limit(1).
			ToSql()
		if err != nil {
			return fmt.Errorf("build claim select: %w", err)
		}

		var job domain.ClaimedJob
		err = tx.QueryRowContext(ctx, query, args...).Scan(&job.ID, &job.ChannelID, &job.MessageTS, &job.ThreadTS, &job.Text)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select pending job: %w", err)
		}

		query, args, err = r.builder.Update("jobs").
			Set("status", string(domain.JobStatusProcessing)).
			Set("updated_at", r.now()).
			Where(sq.Eq{"id": job.ID, "status": string(domain.JobStatusPending)}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build claim update: %w", err)
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("mark job processing: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 1 {
			claimed = &job
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *SQLiteJobsRepository) MarkJobDone(ctx context.Context, jobID int64) error {
	return r.finish(ctx, jobID, domain.JobStatusDone, nil)
}

func (r *SQLiteJobsRepository) MarkJobFailed(ctx context.Context, jobID int64, reason string) error {
	sanitized := policy.SanitizeErrorText(reason, policy.MaxErrorTextLength)
	return r.finish(ctx, jobID, domain.JobStatusFailed, &sanitized)
}

// finish only moves a processing job. A job that was already finished or
// requeued is left alone, which keeps a late writer from clobbering a newer run.
func (r *SQLiteJobsRepository) finish(ctx context.Context, jobID int64, status domain.JobStatus, lastError *string) error {
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		update := r.builder.Update("jobs").
			Set("status", string(status)).
			Set("updated_at", r.now()).
			Where(sq.Eq{"id": jobID, "status": string(domain.JobStatusProcessing)})
		if lastError != nil {
			update = update.Set("last_error", *lastError)
		} else {
			update = update.Set("last_error", nil)
		}
		query, args, err := update.ToSql()
		if err != nil {
			return fmt.Errorf("build mark %s: %w", status, err)
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("mark job %s: %w", status, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark job %s rows affected: %w", status, err)
		}
		if affected == 0 {
			return r.requireJob(ctx, tx, jobID)
		}
		return nil
	})
}

func (r *SQLiteJobsRepository) requireJob(ctx context.Context, tx *sql.Tx, jobID int64) error {
	query, args, err := r.builder.Select("1").From("jobs").Where(sq.Eq{"id": jobID}).ToSql()
	if err != nil {
		return fmt.Errorf("build job lookup: %w", err)
	}
	var one int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup job: %w", err)
	}
	return nil
}

func (r *SQLiteJobsRepository) GetJob(ctx context.Context, jobID int64) (*domain.JobDetail, error) {
	query, args, err := r.builder.
		Select("j.id", "j.channel_id", "j.message_ts", "j.status", "j.attempts", "COALESCE(j.last_error, '')",
			"j.created_at", "j.updated_at", "COALESCE(m.user_id, '')", "m.text").
		From("jobs j").
		Join("messages m ON m.channel_id = j.channel_id AND m.message_ts = j.message_ts").
		Where(sq.Eq{"j.id": jobID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get job: %w", err)
	}

	var (
		detail domain.JobDetail
		status string
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&detail.ID,
		&detail.ChannelID,
		&detail.MessageTS,
		&status,
		&detail.Attempts,
		&detail.LastError,
		&detail.CreatedAt,
		&detail.UpdatedAt,
		&detail.UserID,
		&detail.Text,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	detail.Status = domain.JobStatus(status)
	return &detail, nil
}

func (r *SQLiteJobsRepository) ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, error) {
	selectJobs := r.builder.
		Select("id", "channel_id", "message_ts", "status", "attempts", "COALESCE(last_error, '')", "created_at", "updated_at").
		From("jobs").
		OrderBy("id DESC").
		Limit(uint64(normalizeListLimit(filter.Limit)))
	if filter.Status != "" {
		selectJobs = selectJobs.Where(sq.Eq{"status": string(filter.Status)})
	}
	query, args, err := selectJobs.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		var (
			job    domain.Job
			status string
		)
		if err := rows.Scan(&job.ID, &job.ChannelID, &job.MessageTS, &status, &job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (r *SQLiteJobsRepository) RequeueJob(ctx context.Context, jobID int64) error {
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query, args, err := r.builder.Select("status", "updated_at").From("jobs").Where(sq.Eq{"id": jobID}).ToSql()
		if err != nil {
			return fmt.Errorf("build requeue select: %w", err)
		}
		var (
			status    string
			updatedAt time.Time
		)
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&status, &updatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select job status: %w", err)
		}
		now := r.now()
		if err := checkRequeue(domain.JobStatus(status), updatedAt, now, r.stuckAfter); err != nil {
			return err
		}

		query, args, err = r.builder.Update("jobs").
			Set("status", string(domain.JobStatusPending)).
			Set("attempts", sq.Expr("attempts + 1")).
			Set("updated_at", now).
			Where(sq.Eq{"id": jobID, "status": status}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build requeue update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		return nil
	})
}

func (r *SQLiteJobsRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query, args, err := r.builder.Select("status", "COUNT(*)").From("jobs").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count jobs: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[domain.JobStatus]int{
		domain.JobStatusPending:    0,
		domain.JobStatusProcessing: 0,
		domain.JobStatusDone:       0,
		domain.JobStatusFailed:     0,
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[domain.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	return counts, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
