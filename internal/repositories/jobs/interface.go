package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

// Repository describes persistence of Job records.
type Repository interface {
	// Create inserts a new job. A soft-deleted row with the same server id
	// is revived in place.
	Create(ctx context.Context, job *models.Job) error

	// Update overwrites every mutable column of the job identified by ID.
	Update(ctx context.Context, job *models.Job) error

	// GetByServerID returns the live job with the given server id or
	// common.ErrNotFound.
	GetByServerID(ctx context.Context, serverID int64) (*models.Job, error)

	// List returns all live jobs ordered by scheduled time.
	List(ctx context.Context) ([]*models.Job, error)

	// ListCompletedSynced returns live completed jobs with no pending local
	// changes whose completion happened before the cutoff.
	ListCompletedSynced(ctx context.Context, completedBefore time.Time) ([]*models.Job, error)

	// MarkSynced clears requires_sync.
	MarkSynced(ctx context.Context, serverID int64, at time.Time) error
	// MarkSyncedIfSettled clears requires_sync only while every queue entry
	// of the job is completed, and reports whether it did. The check and the
	// write are one statement, so an entry enqueued concurrently keeps the
	// flag set.
	MarkSyncedIfSettled(ctx context.Context, serverID int64, at time.Time) (bool, error)

	// MarkDeleted soft-deletes the job.
	MarkDeleted(ctx context.Context, id string, at time.Time) error

	// Count returns the number of live jobs.
	Count(ctx context.Context) (int, error)
}
