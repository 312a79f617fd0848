package checklist

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	// Upsert inserts the item or refreshes its label and section. A stored
	// completion is never cleared by an incoming incomplete item.
	Upsert(ctx context.Context, jobID int64, item *models.ChecklistItem, at time.Time) error
	Get(ctx context.Context, jobID int64, id string) (*models.ChecklistItem, error)
	ListForJob(ctx context.Context, jobID int64) ([]*models.ChecklistItem, error)
	// MarkComplete sets the completion latch. It reports false when the item
	// was already complete.
	MarkComplete(ctx context.Context, jobID int64, id string, at time.Time) (bool, error)
	Count(ctx context.Context) (int, error)
}
