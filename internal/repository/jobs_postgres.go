package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/policy"
	"github.com/iago/technoshare-commentator/internal/store"
)

// PostgresJobsRepository is the server-backed alternative to the embedded
// store. Claims lock the selected row with FOR UPDATE SKIP LOCKED.
type PostgresJobsRepository struct {
	pool       *pgxpool.Pool
	builder    sq.StatementBuilderType
	now        func() time.Time
	stuckAfter time.Duration
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := store.OpenPostgres(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.InitPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresJobsRepository{
		pool:       pool,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:        func() time.Time { return time.Now().UTC() },
		stuckAfter: stuckAfter(0),
	}, nil
}

func (r *PostgresJobsRepository) SetJobTimeout(timeout time.Duration) {
	r.stuckAfter = stuckAfter(timeout)
}

func (r *PostgresJobsRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresJobsRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresJobsRepository) SaveMessage(ctx context.Context, message domain.Message) (bool, error) {
	now := r.now()
	receivedAt := message.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	status := message.Status
	if status == "" {
		status = domain.MessageStatusReceived
	}

	query, args, err := r.builder.Insert("messages").
		Columns("channel_id", "message_ts", "thread_ts", "user_id", "text", "received_at", "status").
		Values(message.ChannelID, message.TS, nullString(message.ThreadTS), nullString(message.UserID), message.Text, receivedAt.UTC(), status).
		Suffix("ON CONFLICT (channel_id, message_ts) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert message: %w", err)
	}
	jobQuery, jobArgs, err := r.builder.Insert("jobs").
		Columns("channel_id", "message_ts", "status", "attempts", "created_at", "updated_at").
		Values(message.ChannelID, message.TS, string(domain.JobStatusPending), 0, now, now).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert job: %w", err)
	}

	created := false
	err = store.WithPgxTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			if store.IsPgUniqueViolation(err) {
				return nil
			}
			return fmt.Errorf("insert message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, jobQuery, jobArgs...); err != nil {
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

func (r *PostgresJobsRepository) ClaimNextJob(ctx context.Context) (*domain.ClaimedJob, error) {
	selectQuery, selectArgs, err := r.builder.
		Select("j.id", "j.channel_id", "j.message_ts", "COALESCE(m.thread_ts, '')", "m.text").
		From("jobs j").
		Join("messages m ON m.channel_id = j.channel_id AND m.message_ts = j.message_ts").
		Where(sq.Eq{"j.status": string(domain.JobStatusPending)}).
		OrderBy("j.created_at ASC", "j.id ASC").
		Limit(1).
		Suffix("FOR UPDATE OF j SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim select: %w", err)
	}

	var claimed *domain.ClaimedJob
	err = store.WithPgxTx(ctx, r.pool, func(tx pgx.Tx) error {
		var job domain.ClaimedJob
		err := tx.QueryRow(ctx, selectQuery, selectArgs...).Scan(&job.ID, &job.ChannelID, &job.MessageTS, &job.ThreadTS, &job.Text)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select pending job: %w", err)
		}

		query, args, err := r.builder.Update("jobs").
			Set("status", string(domain.JobStatusProcessing)).
			Set("updated_at", r.now()).
			Where(sq.Eq{"id": job.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build claim update: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("mark job processing: %w", err)
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *PostgresJobsRepository) MarkJobDone(ctx context.Context, jobID int64) error {
	return r.finish(ctx, jobID, domain.JobStatusDone, nil)
}

func (r *PostgresJobsRepository) MarkJobFailed(ctx context.Context, jobID int64, reason string) error {
	sanitized := policy.SanitizeErrorText(reason, policy.MaxErrorTextLength)
	return r.finish(ctx, jobID, domain.JobStatusFailed, &sanitized)
}

func (r *PostgresJobsRepository) finish(ctx context.Context, jobID int64, status domain.JobStatus, lastError *string) error {
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

	return store.WithPgxTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("mark job %s: %w", status, err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)", jobID).Scan(&exists); err != nil {
			return fmt.Errorf("lookup job: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return nil
	})
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID int64) (*domain.JobDetail, error) {
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
	err = r.pool.QueryRow(ctx, query, args...).Scan(
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	detail.Status = domain.JobStatus(status)
	return &detail, nil
}

func (r *PostgresJobsRepository) ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, error) {
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

	rows, err := r.pool.Query(ctx, query, args...)
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
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}

func (r *PostgresJobsRepository) RequeueJob(ctx context.Context, jobID int64) error {
	selectQuery, selectArgs, err := r.builder.Select("status", "updated_at").From("jobs").Where(sq.Eq{"id": jobID}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return fmt.Errorf("build requeue select: %w", err)
	}
	now := r.now()
	updateQuery, updateArgs, err := r.builder.Update("jobs").
		Set("status", string(domain.JobStatusPending)).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("updated_at", now).
		Where(sq.Eq{"id": jobID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build requeue update: %w", err)
	}

	return store.WithPgxTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			status    string
			updatedAt time.Time
		)
		if err := tx.QueryRow(ctx, selectQuery, selectArgs...).Scan(&status, &updatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select job status: %w", err)
		}
		if err := checkRequeue(domain.JobStatus(status), updatedAt, now, r.stuckAfter); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateQuery, updateArgs...); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		return nil
	})
}

func (r *PostgresJobsRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	query, args, err := r.builder.Select("status", "COUNT(*)").From("jobs").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count jobs: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
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
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate job counts: %w", rows.Err())
	}
	return counts, nil
}

var (
	_ JobsRepository = (*SQLiteJobsRepository)(nil)
	_ JobsRepository = (*PostgresJobsRepository)(nil)
)
