package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fieldsync/internal/auth"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/photostore"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// OfflineManager runs the job lifecycle against the local store and records
// every change in the sync queue.
type OfflineManager struct {
	db      *sql.DB
	repos   store.Manager
	photos  *photostore.PhotoStorage
	net     Connectivity
	fetcher JobFetcher
	clock   timex.Clock
	log     logging.Logger

	mu          sync.Mutex
	initialized bool
	token       string
}

func NewOfflineManager(db *sql.DB, repos store.Manager, photos *photostore.PhotoStorage,
	net Connectivity, fetcher JobFetcher, clock timex.Clock, log logging.Logger) *OfflineManager {
	return &OfflineManager{
		db:      db,
		repos:   repos,
		photos:  photos,
		net:     net,
		fetcher: fetcher,
		clock:   clock,
		log:     log.With("component", "offline_manager"),
	}
}

// Initialize prepares photo storage and, when online, preloads jobs. Later
// calls only replace the auth token.
func (m *OfflineManager) Initialize(ctx context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	first := !m.initialized
	m.initialized = true
	m.mu.Unlock()

	if err := m.repos.Metadata(m.db).Set(ctx, metadata.KeyAuthToken, []byte(token)); err != nil {
		return err
	}
	if !first {
		return nil
	}

	if err := m.photos.Init(); err != nil {
		m.mu.Lock()
		m.initialized = false
		m.mu.Unlock()
		return err
	}

	// opaque tokens are passed through; only a readable, expired JWT stops
	// the preload
	info, err := auth.ParseToken(token)
	if err == nil && info.Expired(m.clock.Now()) {
		m.log.Warn(ctx, "auth token expired, skipping preload", "subject", info.Subject)
		return nil
	}

	if !m.net.IsOnline() {
		m.log.Info(ctx, "offline at startup, using cached jobs")
		return nil
	}
	if _, err := m.PreloadJobs(ctx); err != nil {
		m.log.Warn(ctx, "preload failed", "error", err)
	}
	return nil
}

func (m *OfflineManager) authToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// PreloadResult counts what a preload did.
type PreloadResult struct {
	Created    int
	Updated    int
	Skipped    int
	OutOfRange int
}

// PreloadJobs caches the jobs scheduled today or tomorrow. A job with local
// changes waiting for sync, or a locked job, is never overwritten.
func (m *OfflineManager) PreloadJobs(ctx context.Context) (PreloadResult, error) {
	var res PreloadResult

	remote, err := m.fetcher.GetMyJobs(ctx, m.authToken(), FetchOptions{Upcoming: true})
	if err != nil {
		return res, fmt.Errorf("fetch jobs: %w", err)
	}

	now := m.clock.Now()
	from, to := preloadWindow(now)

	for _, rj := range remote {
		at := rj.Data.ScheduledAt
		if at.Before(from) || !at.Before(to) {
			res.OutOfRange++
			continue
		}

		var created, skipped bool
		err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			created, skipped, err = m.storeRemoteJob(ctx, tx, rj, now)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("store job %d: %w", rj.ServerID, err)
		}

		switch {
		case created:
			res.Created++
		case skipped:
			res.Skipped++
			m.log.Debug(ctx, "kept local job with pending changes", "server_id", rj.ServerID)
		default:
			res.Updated++
		}
	}

	if err := m.repos.Metadata(m.db).SetTime(ctx, metadata.KeyLastPreloadAt, now); err != nil {
		return res, err
	}

	m.log.Info(ctx, "preload finished", "created", res.Created, "updated", res.Updated,
		"skipped", res.Skipped, "out_of_range", res.OutOfRange)
	return res, nil
}

// preloadWindow spans today and tomorrow in now's location.
func preloadWindow(now time.Time) (time.Time, time.Time) {
	y, mo, d := now.Date()
	from := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 0, 2)
}

func (m *OfflineManager) storeRemoteJob(ctx context.Context, tx dbx.DBTX, rj RemoteJob, now time.Time) (created, skipped bool, err error) {
	jobs := m.repos.Jobs(tx)

	data := rj.Data
	if data.Version == 0 {
		data.Version = models.JobDataVersion
	}
	status := rj.Status
	if status == "" {
		status = models.JobStatusAssigned
	}

	job, err := jobs.GetByServerID(ctx, rj.ServerID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		job = &models.Job{
			ID:                uuid.NewString(),
			ServerID:          rj.ServerID,
			Status:            status,
			Data:              data,
			ScheduledAt:       data.ScheduledAt,
			ChecklistProgress: models.ChecklistProgress{},
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		mergeRemoteChecklist(job, rj.Checklist)
		if err := jobs.Create(ctx, job); err != nil {
			return false, false, err
		}
		created = true

	case err != nil:
		return false, false, err

	case job.RequiresSync || job.Locked:
		return false, true, nil

	default:
		job.Status = status
		job.Data = data
		job.ScheduledAt = data.ScheduledAt
		mergeRemoteChecklist(job, rj.Checklist)
		job.UpdatedAt = now
		if err := jobs.Update(ctx, job); err != nil {
			return false, false, err
		}
	}

	items := m.repos.Checklist(tx)
	for _, ri := range rj.Checklist {
		item := models.NewChecklistItem(ri.ID, ri.ServerID, ri.Section, ri.Label)
		if ri.Completed {
			at := now
			if ri.CompletedAt != nil {
				at = *ri.CompletedAt
			}
			item.MarkComplete(at)
		}
		if err := items.Upsert(ctx, rj.ServerID, item, now); err != nil {
			return false, false, err
		}
	}
	return created, false, nil
}

// mergeRemoteChecklist folds the server checklist into the job's progress.
// Completion is additive, so a server refresh never un-completes an item.
func mergeRemoteChecklist(job *models.Job, items []RemoteChecklistItem) {
	if job.ChecklistProgress == nil {
		job.ChecklistProgress = models.ChecklistProgress{}
	}
	incoming := models.ChecklistProgress{}
	for _, it := range items {
		sp := incoming[it.Section]
		sp.Total = append(sp.Total, it.ID)
		if it.Completed {
			sp.Completed = append(sp.Completed, it.ID)
		}
		incoming[it.Section] = sp
	}
	job.ChecklistProgress.Merge(incoming)
}

// JobFilter narrows GetLocalJobs. Zero value matches every job.
type JobFilter struct {
	Status   models.JobStatus
	Upcoming bool
}

func (m *OfflineManager) GetLocalJobs(ctx context.Context, f JobFilter) ([]*models.Job, error) {
	all, err := m.repos.Jobs(m.db).List(ctx)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	result := make([]*models.Job, 0, len(all))
	for _, j := range all {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Upcoming && !j.ScheduledAt.After(now) {
			continue
		}
		result = append(result, j)
	}
	return result, nil
}

func (m *OfflineManager) GetLocalJob(ctx context.Context, serverID int64) (*models.Job, error) {
	return m.repos.Jobs(m.db).GetByServerID(ctx, serverID)
}

// StartJob moves an assigned job to started and queues the start call.
func (m *OfflineManager) StartJob(ctx context.Context, serverID int64, gps *models.Coordinates) (*models.Job, error) {
	var job *models.Job
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		job, err = m.repos.Jobs(tx).GetByServerID(ctx, serverID)
		if err != nil {
			return err
		}

		switch {
		case job.Locked:
			return common.ErrLocked
		case job.Status == models.JobStatusStarted:
			return common.ErrAlreadyStarted
		case job.Status != models.JobStatusAssigned:
			return fmt.Errorf("start %s job: %w", job.Status, common.ErrInvalidTransition)
		}

		now := m.clock.Now().UTC()
		job.Status = models.JobStatusStarted
		job.StartedAt = &now
		job.StartGPS = gps
		job.RequiresSync = true
		job.UpdatedAt = now
		if err := m.repos.Jobs(tx).Update(ctx, job); err != nil {
			return err
		}

		return m.enqueue(ctx, tx, serverID, models.OperationStart,
			models.StartPayload{ServerID: serverID, StartedAt: now, GPS: gps}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("start job %d: %w", serverID, err)
	}

	m.log.Info(ctx, "job started", "server_id", serverID, "online", m.net.IsOnline())
	return job, nil
}

// CompleteJob finishes and locks the job and queues the completion call.
func (m *OfflineManager) CompleteJob(ctx context.Context, serverID int64, hoursWorked *float64) (*models.Job, error) {
	var job *models.Job
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		job, err = m.repos.Jobs(tx).GetByServerID(ctx, serverID)
		if err != nil {
			return err
		}

		switch {
		case job.IsCompletedAndLocked():
			return common.ErrAlreadyLocked
		case job.Locked:
			return common.ErrLocked
		case job.Status == models.JobStatusCancelled, job.Status == models.JobStatusReassigned:
			return fmt.Errorf("complete %s job: %w", job.Status, common.ErrInvalidTransition)
		}

		now := m.clock.Now().UTC()
		job.Status = models.JobStatusCompleted
		job.CompletedAt = &now
		job.HoursWorked = hoursWorked
		job.Locked = true
		job.RequiresSync = true
		job.UpdatedAt = now
		if err := m.repos.Jobs(tx).Update(ctx, job); err != nil {
			return err
		}

		return m.enqueue(ctx, tx, serverID, models.OperationComplete,
			models.CompletePayload{ServerID: serverID, CompletedAt: now, HoursWorked: hoursWorked}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("complete job %d: %w", serverID, err)
	}

	m.log.Info(ctx, "job completed", "server_id", serverID, "online", m.net.IsOnline())
	return job, nil
}

// UpdateChecklistItem marks an item complete. Items cannot be unchecked:
// completed=false is always rejected. Completing an item twice is a no-op.
func (m *OfflineManager) UpdateChecklistItem(ctx context.Context, serverID int64, itemID string, completed bool) error {
	if !completed {
		return fmt.Errorf("uncheck item %s: %w", itemID, common.ErrInvalidTransition)
	}

	var changed bool
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		job, err := m.repos.Jobs(tx).GetByServerID(ctx, serverID)
		if err != nil {
			return err
		}
		if job.Locked {
			return common.ErrLocked
		}

		items := m.repos.Checklist(tx)
		item, err := items.Get(ctx, serverID, itemID)
		if err != nil {
			return fmt.Errorf("checklist item %s: %w", itemID, err)
		}

		now := m.clock.Now().UTC()
		if !item.MarkComplete(now) {
			return nil
		}
		if changed, err = items.MarkComplete(ctx, serverID, itemID, now); err != nil || !changed {
			return err
		}

		job.ChecklistProgress.MarkCompleted(item.Section, item.ID)
		job.RequiresSync = true
		job.UpdatedAt = now
		if err := m.repos.Jobs(tx).Update(ctx, job); err != nil {
			return err
		}

		return m.enqueue(ctx, tx, serverID, models.OperationChecklistUpdate, models.ChecklistPayload{
			ServerID:    serverID,
			ItemID:      item.ID,
			ItemServer:  item.ServerID,
			Completed:   true,
			CompletedAt: now,
		}, now)
	})
	if err != nil {
		return fmt.Errorf("update checklist of job %d: %w", serverID, err)
	}
	if changed {
		m.log.Debug(ctx, "checklist item completed", "server_id", serverID, "item_id", itemID)
	}
	return nil
}

// GetChecklist returns the materialized checklist of a job.
func (m *OfflineManager) GetChecklist(ctx context.Context, serverID int64) ([]*models.ChecklistItem, error) {
	return m.repos.Checklist(m.db).ListForJob(ctx, serverID)
}

// CapturePhoto copies a captured photo into storage and queues its upload.
// The file is removed again if the record cannot be written.
func (m *OfflineManager) CapturePhoto(ctx context.Context, serverID int64, src string, t models.PhotoType, room string, extra map[string]string) (*models.Photo, error) {
	job, err := m.repos.Jobs(m.db).GetByServerID(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("capture photo for job %d: %w", serverID, err)
	}
	if job.Locked {
		return nil, fmt.Errorf("capture photo for job %d: %w", serverID, common.ErrLocked)
	}

	p, err := m.photos.Stage(ctx, src, serverID, t, room, extra)
	if err != nil {
		return nil, err
	}
	if err := m.persistPhoto(ctx, p); err != nil {
		m.photos.Discard(p)
		return nil, fmt.Errorf("capture photo for job %d: %w", serverID, err)
	}
	return p, nil
}

// MarkPassNotApplicable records a pass that has no photo.
func (m *OfflineManager) MarkPassNotApplicable(ctx context.Context, serverID int64, room string) (*models.Photo, error) {
	job, err := m.repos.Jobs(m.db).GetByServerID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if job.Locked {
		return nil, common.ErrLocked
	}

	p := m.photos.NotApplicable(serverID, room)
	if err := m.persistPhoto(ctx, p); err != nil {
		return nil, fmt.Errorf("mark pass n/a for job %d: %w", serverID, err)
	}
	return p, nil
}

func (m *OfflineManager) persistPhoto(ctx context.Context, p *models.Photo) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		job, err := m.repos.Jobs(tx).GetByServerID(ctx, p.JobID)
		if err != nil {
			return err
		}
		if job.Locked {
			return common.ErrLocked
		}
		if err := m.photos.Persist(ctx, tx, p); err != nil {
			return err
		}

		now := m.clock.Now().UTC()
		job.RequiresSync = true
		job.UpdatedAt = now
		if err := m.repos.Jobs(tx).Update(ctx, job); err != nil {
			return err
		}
		return m.enqueue(ctx, tx, p.JobID, models.OperationPhotoUpload, models.PhotoUploadPayload{PhotoID: p.ID}, now)
	})
}

// BeforePhotoCount is the count the "after requires before" rule is
// checked against.
func (m *OfflineManager) BeforePhotoCount(ctx context.Context, serverID int64) (int, error) {
	return m.photos.BeforePhotoCount(ctx, serverID)
}

// CanCaptureAfterPhoto reports whether at least one before photo exists.
func (m *OfflineManager) CanCaptureAfterPhoto(ctx context.Context, serverID int64) (bool, error) {
	n, err := m.BeforePhotoCount(ctx, serverID)
	return n > 0, err
}

func (m *OfflineManager) enqueue(ctx context.Context, tx dbx.DBTX, jobID int64, op models.OperationType, payload any, at time.Time) error {
	e, err := models.NewQueueEntry(jobID, op, payload)
	if err != nil {
		return err
	}
	return m.repos.Queue(tx).Enqueue(ctx, e, at)
}

// DataFreshness describes the age of the preloaded data.
type DataFreshness struct {
	IsFresh     bool
	LastUpdated *time.Time
	Age         time.Duration
}

func (m *OfflineManager) GetDataFreshness(ctx context.Context) (DataFreshness, error) {
	last, err := m.repos.Metadata(m.db).GetTime(ctx, metadata.KeyLastPreloadAt)
	if err != nil || last == nil {
		return DataFreshness{}, err
	}
	age := m.clock.Now().Sub(*last)
	return DataFreshness{IsFresh: age < common.FreshnessWindow, LastUpdated: last, Age: age}, nil
}

// RecordConnectivity keeps the start of the current offline period. Repeated
// offline reports keep the first timestamp; going online clears it.
func (m *OfflineManager) RecordConnectivity(ctx context.Context, online bool) error {
	repo := m.repos.Metadata(m.db)
	if online {
		return repo.Delete(ctx, metadata.KeyOfflineSince)
	}
	_, err := repo.SetTimeIfAbsent(ctx, metadata.KeyOfflineSince, m.clock.Now())
	return err
}

// OfflineSince returns when the current offline period began, or nil while
// online.
func (m *OfflineManager) OfflineSince(ctx context.Context) (*time.Time, error) {
	return m.repos.Metadata(m.db).GetTime(ctx, metadata.KeyOfflineSince)
}

// StoredToken returns the token saved by the last Initialize.
func (m *OfflineManager) StoredToken(ctx context.Context) (string, error) {
	b, err := m.repos.Metadata(m.db).Get(ctx, metadata.KeyAuthToken)
	return string(b), err
}

// OfflineDuration is the advisory result of CheckOfflineDuration.
type OfflineDuration struct {
	Exceeded bool
	Elapsed  time.Duration
}

// CheckOfflineDuration reports whether the device has been offline longer
// than common.MaxOfflineDuration. Nothing is blocked when it has.
func (m *OfflineManager) CheckOfflineDuration(offlineSince *time.Time) OfflineDuration {
	if offlineSince == nil {
		return OfflineDuration{}
	}
	elapsed := m.clock.Now().Sub(*offlineSince)
	return OfflineDuration{Exceeded: elapsed > common.MaxOfflineDuration, Elapsed: elapsed}
}

// CleanupOldJobs soft-deletes completed jobs that are synced and older than
// the retention window.
func (m *OfflineManager) CleanupOldJobs(ctx context.Context) (int, error) {
	now := m.clock.Now()
	repo := m.repos.Jobs(m.db)

	list, err := repo.ListCompletedSynced(ctx, now.Add(-common.JobRetention))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, j := range list {
		if err := repo.MarkDeleted(ctx, j.ID, now); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		m.log.Info(ctx, "old jobs cleaned up", "count", n)
	}
	return n, nil
}

// Reset wipes the local store and every photo. Used on logout.
func (m *OfflineManager) Reset(ctx context.Context) error {
	if err := m.photos.ClearAllPhotos(ctx); err != nil {
		return err
	}
	if err := store.Wipe(ctx, m.db); err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = false
	m.token = ""
	m.mu.Unlock()

	m.log.Warn(ctx, "local data wiped")
	return nil
}
