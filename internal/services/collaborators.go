package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

// Connectivity is the process-wide online signal.
type Connectivity interface {
	IsOnline() bool
}

// FetchOptions narrows a job fetch.
type FetchOptions struct {
	Upcoming bool
}

// RemoteChecklistItem is a checklist item as sent by the server.
type RemoteChecklistItem struct {
	ID          string     `json:"id"`
	ServerID    int64      `json:"serverId,omitempty"`
	Section     string     `json:"section"`
	Label       string     `json:"label"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RemoteJob is an assignment as sent by the server.
type RemoteJob struct {
	ServerID  int64                 `json:"id"`
	Status    models.JobStatus      `json:"status"`
	Data      models.JobData        `json:"jobData"`
	Checklist []RemoteChecklistItem `json:"checklist,omitempty"`
}

// JobFetcher fetches the jobs assigned to the token's owner.
type JobFetcher interface {
	GetMyJobs(ctx context.Context, token string, opts FetchOptions) ([]RemoteJob, error)
}

// MessageSender delivers notes and coworker messages.
type MessageSender interface {
	SendJobNote(ctx context.Context, jobID int64, m *models.Message) error
	SendCoworkerMessage(ctx context.Context, jobID int64, m *models.Message) error
}

// SyncClient is the set of server sync endpoints, one per operation type.
// Failures wrapped with common.NewRetryableError are transient; a
// *common.ConflictError reports divergence; anything else is terminal.
type SyncClient interface {
	MessageSender

	StartJob(ctx context.Context, p models.StartPayload) error
	UpdateChecklist(ctx context.Context, p models.ChecklistPayload) error
	CompleteJob(ctx context.Context, p models.CompletePayload) error
	UploadPhoto(ctx context.Context, p *models.Photo) error
}
