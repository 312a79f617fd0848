package photos

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Photo) error
	Get(ctx context.Context, id string) (*models.Photo, error)
	ListForJob(ctx context.Context, jobID int64) ([]*models.Photo, error)

	// ListUnuploaded returns file-backed photos still waiting for upload.
	ListUnuploaded(ctx context.Context) ([]*models.Photo, error)
	ListUploaded(ctx context.Context) ([]*models.Photo, error)
	ListUploadedForJob(ctx context.Context, jobID int64) ([]*models.Photo, error)
	// ListExhausted returns unuploaded photos with at least maxAttempts
	// failed uploads.
	ListExhausted(ctx context.Context, maxAttempts int) ([]*models.Photo, error)

	MarkUploaded(ctx context.Context, id string, at time.Time) error
	IncrementAttempts(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error

	// CountByType counts captured (not N/A) photos of one type for a job.
	CountByType(ctx context.Context, jobID int64, t models.PhotoType) (int, error)
	Count(ctx context.Context) (int, error)
}
