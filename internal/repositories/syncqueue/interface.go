package syncqueue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

// Repository is the persistence of the per-job ordered sync queue. Entries
// are append-only: after Enqueue only status, attempts and last error change.
type Repository interface {
	// Enqueue appends e to its job's queue, assigning the next sequence
	// number, the row id and the timestamps.
	Enqueue(ctx context.Context, e *models.SyncQueueEntry, at time.Time) error
	Get(ctx context.Context, id int64) (*models.SyncQueueEntry, error)
	ListForJob(ctx context.Context, jobID int64) ([]*models.SyncQueueEntry, error)

	// JobsReady returns the ids of jobs with entries ListReady would return,
	// lowest first.
	JobsReady(ctx context.Context) ([]int64, error)
	// ListReady returns the job's pending and in-progress entries that sit
	// ahead of its first failed entry, in sequence order. A failed entry
	// holds back everything queued after it until it is retried, and a job
	// with an unresolved conflict has no ready entries.
	ListReady(ctx context.Context, jobID int64) ([]*models.SyncQueueEntry, error)

	MarkInProgress(ctx context.Context, id int64, at time.Time) error
	MarkCompleted(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error
	// RecordAttempt counts a retryable failure. The entry returns to pending,
	// or becomes failed once maxAttempts is reached. The resulting status is
	// returned.
	RecordAttempt(ctx context.Context, id int64, reason string, maxAttempts int, at time.Time) (models.QueueStatus, error)

	// RetryFailed returns the job's failed entries to pending with a fresh
	// attempt budget.
	RetryFailed(ctx context.Context, jobID int64, at time.Time) (int, error)
	// FailOpen fails every open entry of the job.
	FailOpen(ctx context.Context, jobID int64, reason string, at time.Time) (int, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)

	CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error)
	Count(ctx context.Context) (int, error)
}
