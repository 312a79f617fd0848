package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const (
	reasonStartedBeforeCancel = "job was started before cancellation"
	reasonCancelledFirst      = "job was cancelled before it was started"
	reasonMultiCleaner        = "contributions of several cleaners are merged"
	reasonLocalNewer          = "local data is more recent"
	reasonServerNewer         = "server data is more recent"
	reasonManual              = "resolved manually"
)

// ConflictResolver applies the resolution policy to sync conflicts.
type ConflictResolver struct {
	db    *sql.DB
	repos store.Manager
	clock timex.Clock
	log   logging.Logger
}

func NewConflictResolver(db *sql.DB, repos store.Manager, clock timex.Clock, log logging.Logger) *ConflictResolver {
	return &ConflictResolver{db: db, repos: repos, clock: clock, log: log.With("component", "conflicts")}
}

// ResolutionResult is the outcome of resolving one conflict. Resolved is
// false when no policy applies and the conflict is left for manual
// resolution.
type ResolutionResult struct {
	ConflictID string
	Resolved   bool
	Resolution models.Resolution
	Reason     string
}

// Record stores a new conflict using db, which may be the transaction that
// also fails the diverging queue entry.
func (r *ConflictResolver) Record(ctx context.Context, db dbx.DBTX, jobID int64, t models.ConflictType,
	local, server models.ConflictSnapshot) (*models.SyncConflict, error) {
	c := &models.SyncConflict{
		ID:           uuid.NewString(),
		JobID:        jobID,
		ConflictType: t,
		LocalData:    local,
		ServerData:   server,
		CreatedAt:    r.clock.Now().UTC(),
	}
	if err := r.repos.Conflicts(db).Create(ctx, c); err != nil {
		return nil, err
	}
	r.log.Info(ctx, "sync conflict recorded", "conflict_id", c.ID, "job_id", jobID, "type", t)
	return c, nil
}

// decide picks the automatic resolution for c. ok is false for shapes with
// no policy.
func decide(c *models.SyncConflict) (res models.Resolution, reason string, ok bool) {
	switch s := c.Shape().(type) {
	case models.Cancellation:
		if s.LocalStartedAt != nil && s.ServerCancelledAt != nil && s.LocalStartedAt.Before(*s.ServerCancelledAt) {
			return models.ResolutionLocalWins, reasonStartedBeforeCancel, true
		}
		return models.ResolutionServerWins, reasonCancelledFirst, true

	case models.MultiCleaner:
		return models.ResolutionMerged, reasonMultiCleaner, true

	case models.DataMismatch:
		if newer(s.LocalUpdatedAt, s.ServerUpdatedAt) {
			return models.ResolutionLocalWins, reasonLocalNewer, true
		}
		return models.ResolutionServerWins, reasonServerNewer, true

	case models.Unknown:
		return "", fmt.Sprintf("no automatic resolution for conflict type %q", s.Tag), false
	}
	panic(fmt.Sprintf("unhandled conflict shape %T", c.Shape()))
}

// newer reports whether a is strictly after b. A missing timestamp is never
// newer; ties go to b.
func newer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

// AutoResolve resolves c by its type's policy and applies the outcome to
// the local job and queue.
func (r *ConflictResolver) AutoResolve(ctx context.Context, c *models.SyncConflict) (ResolutionResult, error) {
	result := ResolutionResult{ConflictID: c.ID}
	if c.Resolved {
		return result, fmt.Errorf("conflict %s: %w", c.ID, common.ErrAlreadyResolved)
	}

	res, reason, ok := decide(c)
	result.Reason = reason
	if !ok {
		if err := r.repos.Conflicts(r.db).AddReason(ctx, c.ID, reason, r.clock.Now()); err != nil {
			return result, err
		}
		r.log.Warn(ctx, "conflict left for manual resolution", "conflict_id", c.ID, "type", c.ConflictType)
		return result, nil
	}

	if err := r.resolve(ctx, c, res, reason); err != nil {
		return result, err
	}
	result.Resolved = true
	result.Resolution = res
	return result, nil
}

// ManualResolve applies a caller-chosen resolution to the conflict with the
// given id.
func (r *ConflictResolver) ManualResolve(ctx context.Context, id string, res models.Resolution) error {
	if !res.Valid() {
		return fmt.Errorf("resolution %q: %w", res, common.ErrInvalidState)
	}

	c, err := r.repos.Conflicts(r.db).Get(ctx, id)
	if err != nil {
		return fmt.Errorf("manual resolve: %w", err)
	}
	if c.Resolved {
		return fmt.Errorf("manual resolve %s: %w", id, common.ErrAlreadyResolved)
	}
	return r.resolve(ctx, c, res, reasonManual)
}

func (r *ConflictResolver) resolve(ctx context.Context, c *models.SyncConflict, res models.Resolution, reason string) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		now := r.clock.Now().UTC()
		if err := r.apply(ctx, tx, c, res, now); err != nil {
			return err
		}
		return r.repos.Conflicts(tx).Resolve(ctx, c.ID, res, reason, now)
	})
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", c.ID, err)
	}
	r.log.Info(ctx, "conflict resolved", "conflict_id", c.ID, "job_id", c.JobID,
		"type", c.ConflictType, "resolution", res)
	return nil
}

// apply brings the local job and its queue in line with res. A missing
// local job is not an error: there is nothing left to update.
func (r *ConflictResolver) apply(ctx context.Context, tx dbx.DBTX, c *models.SyncConflict, res models.Resolution, now time.Time) error {
	jobs := r.repos.Jobs(tx)
	queue := r.repos.Queue(tx)

	job, err := jobs.GetByServerID(ctx, c.JobID)
	if errors.Is(err, common.ErrNotFound) {
		job = nil
	} else if err != nil {
		return err
	}

	switch res {
	case models.ResolutionServerWins:
		if job != nil {
			applyServer(job, c, now)
			if err := jobs.Update(ctx, job); err != nil {
				return err
			}
		}
		_, err := queue.FailOpen(ctx, c.JobID, fmt.Sprintf("superseded by server (%s)", c.ConflictType), now)
		return err

	case models.ResolutionMerged:
		if job != nil {
			job.ChecklistProgress.Merge(c.ServerData.ChecklistProgress)
			job.UpdatedAt = now
			if err := jobs.Update(ctx, job); err != nil {
				return err
			}
		}
		_, err := queue.RetryFailed(ctx, c.JobID, now)
		return err

	case models.ResolutionLocalWins:
		_, err := queue.RetryFailed(ctx, c.JobID, now)
		return err
	}
	return fmt.Errorf("resolution %q: %w", res, common.ErrInvalidState)
}

// applyServer overwrites the local job with the server side of c. The
// resolver is the one writer allowed to touch a locked job.
func applyServer(job *models.Job, c *models.SyncConflict, now time.Time) {
	server := c.ServerData

	if c.ConflictType == models.ConflictCancellation {
		job.Status = models.JobStatusCancelled
	} else if server.Status != "" {
		job.Status = server.Status
	}
	if server.Data != nil {
		job.Data = *server.Data
		job.ScheduledAt = server.Data.ScheduledAt
	}
	if server.ChecklistProgress != nil {
		job.ChecklistProgress = models.ChecklistProgress{}
		job.ChecklistProgress.Merge(server.ChecklistProgress)
	}
	if server.StartedAt != nil {
		job.StartedAt = server.StartedAt
	}

	job.Locked = job.Status == models.JobStatusCompleted || job.Status == models.JobStatusCancelled
	job.RequiresSync = false
	job.UpdatedAt = now
}

func (r *ConflictResolver) GetUnresolvedConflicts(ctx context.Context) ([]*models.SyncConflict, error) {
	return r.repos.Conflicts(r.db).ListUnresolved(ctx)
}

func (r *ConflictResolver) GetConflictsForJob(ctx context.Context, jobID int64) ([]*models.SyncConflict, error) {
	return r.repos.Conflicts(r.db).ListForJob(ctx, jobID)
}

// ConflictSummary counts unresolved conflicts.
type ConflictSummary struct {
	Total  int
	ByType map[models.ConflictType]int
}

func (r *ConflictResolver) GetConflictSummary(ctx context.Context) (ConflictSummary, error) {
	byType, err := r.repos.Conflicts(r.db).CountUnresolvedByType(ctx)
	if err != nil {
		return ConflictSummary{}, err
	}
	s := ConflictSummary{ByType: byType}
	for _, n := range byType {
		s.Total += n
	}
	return s, nil
}

// AutoResolveAll runs AutoResolve over every unresolved conflict. A failing
// conflict does not stop the others; the errors are joined.
func (r *ConflictResolver) AutoResolveAll(ctx context.Context) ([]ResolutionResult, error) {
	list, err := r.GetUnresolvedConflicts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ResolutionResult, 0, len(list))
	var errs []error
	for _, c := range list {
		res, err := r.AutoResolve(ctx, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
