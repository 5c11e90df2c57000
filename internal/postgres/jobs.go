package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Job is a queued background job.
type Job struct {
	ID             pgtype.UUID
	TenantID       pgtype.UUID
	JobType        string
	Queue          string
	Payload        []byte
	Priority       int32
	RetryCount     int32
	MaxRetries     int32
	TimeoutSeconds int32
	Status         string
	ScheduledAt    pgtype.Timestamptz
	StartedAt      pgtype.Timestamptz
	CompletedAt    pgtype.Timestamptz
	WorkerID       pgtype.Text
	ErrorMessage   pgtype.Text
}

// EnqueueJobParams contains parameters for enqueueing a job.
type EnqueueJobParams struct {
	TenantID       pgtype.UUID
	JobType        string
	Queue          string
	Payload        []byte
	Priority       int32
	MaxRetries     int32
	ScheduledAt    time.Time
	TimeoutSeconds int32
}

// ErrNoJob is returned by ClaimNextJob when the queue is empty.
var ErrNoJob = errors.New("no job available")

// JobStore persists the background job queue.
type JobStore struct {
	db *pgxpool.Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *pgxpool.Pool) *JobStore {
	return &JobStore{db: db}
}

// EnqueueJob inserts a pending job.
func (s *JobStore) EnqueueJob(ctx context.Context, params EnqueueJobParams) (pgtype.UUID, error) {
	scheduledAt := params.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}
	timeout := params.TimeoutSeconds
	if timeout == 0 {
		timeout = 30
	}

	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO jobs (tenant_id, job_type, queue, payload, priority, max_retries, scheduled_at, timeout_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		params.TenantID, params.JobType, params.Queue, params.Payload,
		params.Priority, params.MaxRetries, timestamptz(scheduledAt), timeout,
	).Scan(&id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// ClaimNextJob atomically claims the highest-priority due job. SKIP LOCKED
// lets concurrent workers claim different jobs without blocking each other.
// Returns ErrNoJob when nothing is due.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID, queue string) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running',
		    started_at = now(),
		    worker_id = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND scheduled_at <= now()
			  AND ($2 = '' OR queue = $2)
			ORDER BY priority DESC, scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, tenant_id, job_type, queue, payload, priority, retry_count,
		          max_retries, timeout_seconds, status, scheduled_at, started_at,
		          completed_at, worker_id, error_message`,
		workerID, queue,
	)

	var j Job
	err := row.Scan(
		&j.ID, &j.TenantID, &j.JobType, &j.Queue, &j.Payload, &j.Priority, &j.RetryCount,
		&j.MaxRetries, &j.TimeoutSeconds, &j.Status, &j.ScheduledAt, &j.StartedAt,
		&j.CompletedAt, &j.WorkerID, &j.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoJob
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return &j, nil
}

// CompleteJob marks a job completed.
func (s *JobStore) CompleteJob(ctx context.Context, id pgtype.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob records a failure. Jobs with retries left go back to pending with
// exponential backoff; exhausted jobs are marked failed.
func (s *JobStore) FailJob(ctx context.Context, id pgtype.UUID, errorMessage string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET retry_count = retry_count + 1,
		    error_message = $2,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at
		                        ELSE now() + (interval '1 minute' * power(2, retry_count)) END,
		    worker_id = NULL
		WHERE id = $1`,
		id, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	return nil
}

// PurgeCompletedJobs removes completed jobs older than the cutoff.
func (s *JobStore) PurgeCompletedJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM jobs
		WHERE status = 'completed' AND completed_at < $1`,
		timestamptz(before),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
