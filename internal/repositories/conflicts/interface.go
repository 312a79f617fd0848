package conflicts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.SyncConflict) error
	Get(ctx context.Context, id string) (*models.SyncConflict, error)
	// Resolve records the outcome of a conflict. Only unresolved conflicts
	// can be resolved; a resolved one yields common.ErrAlreadyResolved.
	Resolve(ctx context.Context, id string, res models.Resolution, reason string, at time.Time) error
	// AddReason updates the explanation of a still unresolved conflict.
	AddReason(ctx context.Context, id string, reason string, at time.Time) error

	ListUnresolved(ctx context.Context) ([]*models.SyncConflict, error)
	ListForJob(ctx context.Context, jobID int64) ([]*models.SyncConflict, error)
	CountUnresolvedByType(ctx context.Context) (map[models.ConflictType]int, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}
