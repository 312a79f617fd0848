package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	// Update overwrites type, status, content, recipient and sync bookkeeping
	// provided the stored row still has the given status and content. A row
	// that has moved on yields common.ErrStale, a missing one
	// common.ErrNotFound.
	Update(ctx context.Context, m *models.Message, status models.MessageStatus, content string) error
	Delete(ctx context.Context, id string) error

	// ListForJob returns the job's messages oldest first.
	ListForJob(ctx context.Context, jobID int64) ([]*models.Message, error)
	CountByStatus(ctx context.Context, statuses ...models.MessageStatus) (int, error)
	// DeleteSyncedBefore removes synced messages whose sync happened before
	// the cutoff and returns how many were removed.
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}
