// Package worker provides background job processing for Wrenchly.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wrenchly/wrenchly/internal/email"
	"github.com/wrenchly/wrenchly/internal/jobs"
	"github.com/wrenchly/wrenchly/internal/postgres"
	"github.com/wrenchly/wrenchly/internal/service"
	"github.com/wrenchly/wrenchly/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for new jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// Queue name to process (empty string = all queues)
	Queue string

	// SweepInterval is how often to run the grace period sweep
	SweepInterval time.Duration
}

// Worker processes background jobs and runs the periodic grace sweep.
type Worker struct {
	config       Config
	store        *postgres.JobStore
	ledger       *postgres.LedgerStore
	emailService *email.Service
	lifecycle    service.LifecycleService
	logger       *slog.Logger
}

// NewWorker creates a new background job worker
func NewWorker(
	store *postgres.JobStore,
	ledger *postgres.LedgerStore,
	emailService *email.Service,
	lifecycle service.LifecycleService,
	config Config,
	logger *slog.Logger,
) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:       config,
		store:        store,
		ledger:       ledger,
		emailService: emailService,
		lifecycle:    lifecycle,
		logger:       logger.With("worker_id", config.WorkerID),
	}
}

// Start begins processing jobs until the context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"queue", w.config.Queue,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
		"sweep_interval", w.config.SweepInterval,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	sweep := time.NewTicker(w.config.SweepInterval)
	defer sweep.Stop()

	cleanup := time.NewTicker(24 * time.Hour)
	defer cleanup.Stop()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return ctx.Err()

		case <-sweep.C:
			if _, err := w.lifecycle.ExpireGracePeriods(ctx); err != nil {
				w.logger.Error("grace period sweep failed", "error", err)
			}
			w.reportStuckWebhooks(ctx)

		case <-cleanup.C:
			if err := jobs.EnqueuePurgeCompletedJobs(ctx, w.store); err != nil {
				w.logger.Error("failed to queue job purge", "error", err)
			}

		case <-ticker.C:
			// Try to claim a job
			select {
			case sem <- struct{}{}:
				go func() {
					defer func() { <-sem }()
					w.claimAndProcess(ctx)
				}()
			default:
				// At max concurrency, skip this poll
			}
		}
	}
}

// reportStuckWebhooks logs webhook deliveries that were recorded but whose
// side effects never completed. The provider retries those deliveries, so
// this is visibility only.
func (w *Worker) reportStuckWebhooks(ctx context.Context) {
	stuck, err := w.ledger.ListUnprocessed(ctx, time.Now().Add(-1*time.Hour))
	if err != nil {
		w.logger.Error("failed to list unprocessed webhook events", "error", err)
		return
	}

	for _, e := range stuck {
		w.logger.Warn("webhook event never finished processing",
			"event_id", e.EventID,
			"event_type", e.EventType,
			"received_at", e.ReceivedAt.Time,
		)
	}
}

// claimAndProcess claims and processes a single job
func (w *Worker) claimAndProcess(ctx context.Context) {
	job, err := w.store.ClaimNextJob(ctx, w.config.WorkerID, w.config.Queue)
	if err != nil {
		if !errors.Is(err, postgres.ErrNoJob) {
			w.logger.Error("failed to claim job", "error", err)
		}
		return
	}

	w.logger.Info("processing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"retry_count", job.RetryCount,
	)

	start := time.Now()
	err = w.processJob(ctx, job)
	if telemetry.Business != nil {
		telemetry.Business.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		w.logger.Error("job failed",
			"job_id", job.ID,
			"job_type", job.JobType,
			"error", err,
		)
		if telemetry.Business != nil {
			telemetry.Business.JobsFailed.WithLabelValues(job.JobType, "processing_error").Inc()
		}
		// Goes back to pending with backoff, or to failed once retries run out
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	w.logger.Info("job completed",
		"job_id", job.ID,
		"job_type", job.JobType,
	)

	if telemetry.Business != nil {
		telemetry.Business.JobsProcessed.WithLabelValues(job.JobType).Inc()
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		w.logger.Error("failed to mark job complete", "job_id", job.ID, "error", err)
	}
}

// processJob processes a single job
func (w *Worker) processJob(ctx context.Context, job *postgres.Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	defer cancel()

	if jobs.IsEmailJob(job.JobType) {
		return jobs.ProcessEmailJob(jobCtx, job, w.emailService)
	}

	if jobs.IsCleanupJob(job.JobType) {
		purged, err := jobs.ProcessCleanupJob(jobCtx, job, w.store)
		if err != nil {
			return err
		}
		if purged > 0 {
			w.logger.Info("purged completed jobs", "count", purged)
		}
		return nil
	}

	return fmt.Errorf("unknown job type: %s", job.JobType)
}
