package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wrenchly/wrenchly/internal/postgres"
)

// Job type constants for cleanup jobs
const (
	JobTypePurgeCompletedJobs = "cleanup:purge_completed_jobs"
)

// CompletedJobRetention is how long completed jobs are kept before purging.
const CompletedJobRetention = 30 * 24 * time.Hour

// EnqueuePurgeCompletedJobs enqueues a job to purge old completed jobs.
// Run on a schedule; a missed run just means the next one purges more.
func EnqueuePurgeCompletedJobs(ctx context.Context, q Queuer) error {
	_, err := q.EnqueueJob(ctx, postgres.EnqueueJobParams{
		JobType:        JobTypePurgeCompletedJobs,
		Queue:          "cleanup",
		Payload:        []byte("{}"),
		Priority:       10,
		MaxRetries:     1,
		ScheduledAt:    time.Now(),
		TimeoutSeconds: 60,
	})

	return err
}

// IsCleanupJob checks if a job type is a cleanup job
func IsCleanupJob(jobType string) bool {
	return jobType == JobTypePurgeCompletedJobs
}

// ProcessCleanupJob processes a cleanup job based on its type
func ProcessCleanupJob(ctx context.Context, job *postgres.Job, store *postgres.JobStore) (int64, error) {
	switch job.JobType {
	case JobTypePurgeCompletedJobs:
		return store.PurgeCompletedJobs(ctx, time.Now().Add(-CompletedJobRetention))
	default:
		return 0, fmt.Errorf("unknown cleanup job type: %s", job.JobType)
	}
}
