package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/photostore"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// Health classifies photo storage usage.
type Health string

const (
	HealthGood     Health = "good"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

const (
	WarningThreshold  = 100 * humanize.MiByte
	CriticalThreshold = 200 * humanize.MiByte
)

// ClassifyHealth maps a byte count to a Health.
func ClassifyHealth(bytes int64) Health {
	switch {
	case bytes >= CriticalThreshold:
		return HealthCritical
	case bytes >= WarningThreshold:
		return HealthWarning
	}
	return HealthGood
}

// JobCleaner soft-deletes old jobs.
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context) (int, error)
}

// MessageCleaner deletes old synced messages.
type MessageCleaner interface {
	CleanupSyncedMessages(ctx context.Context) (int, error)
}

// StorageStats aggregates disk usage and record counts.
type StorageStats struct {
	Photos photostore.StorageStats
	Health Health

	Jobs                int
	ChecklistItems      int
	PhotoRecords        int
	Messages            int
	QueueEntries        int
	PendingSync         int
	FailedSync          int
	Conflicts           int
	UnresolvedConflicts int

	CheckedAt time.Time
}

// CleanupReport counts what a cleanup removed. Errors of individual steps
// are joined into the error returned next to it.
type CleanupReport struct {
	JobsRemoved         int
	PhotosRemoved       int
	PhotosAbandoned     int
	QueueEntriesRemoved int
	ConflictsRemoved    int
	OrphansRemoved      int
	MessagesRemoved     int
	// ForcedPhotosRemoved is set by the aggressive pass of
	// ForceCriticalCleanup.
	ForcedPhotosRemoved int
	Health              Health
}

// Priority orders recommendations.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	}
	return "low"
}

// Recommendation is an advisory cleanup action.
type Recommendation struct {
	Kind     string
	Priority Priority
	Message  string
}

// StorageManager monitors storage health and schedules cleanup.
type StorageManager struct {
	db       *sql.DB
	repos    store.Manager
	photos   *photostore.PhotoStorage
	jobs     JobCleaner
	messages MessageCleaner
	clock    timex.Clock
	log      logging.Logger

	mu   sync.Mutex
	next int
	subs map[int]func(StorageStats)
}

func NewStorageManager(db *sql.DB, repos store.Manager, photos *photostore.PhotoStorage, jobs JobCleaner,
	messages MessageCleaner, clock timex.Clock, log logging.Logger) *StorageManager {
	return &StorageManager{
		db:       db,
		repos:    repos,
		photos:   photos,
		jobs:     jobs,
		messages: messages,
		clock:    clock,
		log:      log.With("component", "storage_manager"),
		subs:     make(map[int]func(StorageStats)),
	}
}

// Subscribe registers fn to receive every computed StorageStats and returns
// a func that removes it.
func (m *StorageManager) Subscribe(fn func(StorageStats)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *StorageManager) notify(s StorageStats) {
	m.mu.Lock()
	fns := make([]func(StorageStats), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// GetStorageStats computes usage, classifies it and notifies subscribers.
func (m *StorageManager) GetStorageStats(ctx context.Context) (StorageStats, error) {
	s := StorageStats{Photos: m.photos.GetStorageStats(), CheckedAt: m.clock.Now()}
	s.Health = ClassifyHealth(s.Photos.TotalSize)

	var err error
	count := func(dst *int, fn func(context.Context) (int, error)) {
		if err != nil {
			return
		}
		*dst, err = fn(ctx)
	}
	count(&s.Jobs, m.repos.Jobs(m.db).Count)
	count(&s.ChecklistItems, m.repos.Checklist(m.db).Count)
	count(&s.PhotoRecords, m.repos.Photos(m.db).Count)
	count(&s.Messages, m.repos.Messages(m.db).Count)
	count(&s.QueueEntries, m.repos.Queue(m.db).Count)
	count(&s.Conflicts, m.repos.Conflicts(m.db).Count)
	if err != nil {
		return s, fmt.Errorf("storage stats: %w", err)
	}

	byStatus, err := m.repos.Queue(m.db).CountByStatus(ctx)
	if err != nil {
		return s, err
	}
	s.PendingSync = byStatus[models.QueueStatusPending] + byStatus[models.QueueStatusInProgress]
	s.FailedSync = byStatus[models.QueueStatusFailed]

	byType, err := m.repos.Conflicts(m.db).CountUnresolvedByType(ctx)
	if err != nil {
		return s, err
	}
	for _, n := range byType {
		s.UnresolvedConflicts += n
	}

	if s.Photos.Error != "" {
		m.log.Warn(ctx, "photo directory unreadable", "error", s.Photos.Error)
	}
	m.notify(s)
	return s, nil
}

// RunCleanup reclaims space in a fixed order: old jobs, uploaded and
// abandoned photos, completed queue entries, resolved conflicts, a
// filesystem reconciliation pass and finally synced messages. A failing
// step does not stop the following ones.
func (m *StorageManager) RunCleanup(ctx context.Context) (CleanupReport, error) {
	var (
		rep  CleanupReport
		errs []error
		err  error
	)
	now := m.clock.Now()
	step := func(name string, dst *int, fn func() (int, error)) {
		if *dst, err = fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("jobs", &rep.JobsRemoved, func() (int, error) { return m.jobs.CleanupOldJobs(ctx) })
	step("uploaded photos", &rep.PhotosRemoved, func() (int, error) { return m.cleanupFinishedPhotos(ctx) })
	step("abandoned photos", &rep.PhotosAbandoned, func() (int, error) {
		return m.photos.DeleteExhausted(ctx, common.MaxPhotoUploadAttempts)
	})
	step("queue", &rep.QueueEntriesRemoved, func() (int, error) {
		return m.repos.Queue(m.db).DeleteCompletedBefore(ctx, now.Add(-common.QueueRetention))
	})
	step("conflicts", &rep.ConflictsRemoved, func() (int, error) {
		return m.repos.Conflicts(m.db).DeleteResolvedBefore(ctx, now.Add(-common.ConflictRetention))
	})
	step("reconcile", &rep.OrphansRemoved, func() (int, error) { return m.photos.SyncWithFileSystem(ctx) })
	step("messages", &rep.MessagesRemoved, func() (int, error) { return m.messages.CleanupSyncedMessages(ctx) })

	rep.Health = ClassifyHealth(m.photos.GetStorageStats().TotalSize)

	m.log.Info(ctx, "cleanup finished",
		"jobs", rep.JobsRemoved, "photos", rep.PhotosRemoved, "abandoned", rep.PhotosAbandoned,
		"queue", rep.QueueEntriesRemoved, "conflicts", rep.ConflictsRemoved,
		"orphans", rep.OrphansRemoved, "messages", rep.MessagesRemoved, "health", rep.Health)
	return rep, errors.Join(errs...)
}

// cleanupFinishedPhotos deletes uploaded photos of jobs that are completed
// and synced, or no longer on the device.
func (m *StorageManager) cleanupFinishedPhotos(ctx context.Context) (int, error) {
	uploaded, err := m.repos.Photos(m.db).ListUploaded(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[int64]bool)
	n := 0
	for _, p := range uploaded {
		if seen[p.JobID] {
			continue
		}
		seen[p.JobID] = true

		job, err := m.repos.Jobs(m.db).GetByServerID(ctx, p.JobID)
		switch {
		case errors.Is(err, common.ErrNotFound):
		case err != nil:
			return n, err
		case job.Status != models.JobStatusCompleted || job.RequiresSync:
			continue
		}

		removed, err := m.photos.CleanupUploadedPhotos(ctx, p.JobID)
		n += removed
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ForceCriticalCleanup runs RunCleanup and, only if storage is still
// critical, deletes every uploaded photo regardless of its job.
func (m *StorageManager) ForceCriticalCleanup(ctx context.Context) (CleanupReport, error) {
	rep, err := m.RunCleanup(ctx)
	if rep.Health != HealthCritical {
		return rep, err
	}

	m.log.Warn(ctx, "storage still critical, deleting all uploaded photos")
	n, ferr := m.photos.DeleteAllUploaded(ctx)
	rep.ForcedPhotosRemoved = n
	rep.Health = ClassifyHealth(m.photos.GetStorageStats().TotalSize)
	if ferr != nil {
		err = errors.Join(err, fmt.Errorf("forced photo cleanup: %w", ferr))
	}
	return rep, err
}

// GetCleanupRecommendations lists advisory actions, most urgent first. It
// changes nothing.
func (m *StorageManager) GetCleanupRecommendations(ctx context.Context) ([]Recommendation, error) {
	stats := m.photos.GetStorageStats()
	health := ClassifyHealth(stats.TotalSize)

	uploaded, err := m.repos.Photos(m.db).ListUploaded(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := m.repos.Queue(m.db).CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	conflicts, err := m.repos.Conflicts(m.db).CountUnresolvedByType(ctx)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation
	if len(uploaded) > 0 {
		p := PriorityLow
		switch health {
		case HealthCritical:
			p = PriorityHigh
		case HealthWarning:
			p = PriorityMedium
		}
		recs = append(recs, Recommendation{
			Kind:     "uploaded_photos",
			Priority: p,
			Message:  fmt.Sprintf("%d uploaded photos can be removed from the device", len(uploaded)),
		})
	}

	if backlog := byStatus[models.QueueStatusPending] + byStatus[models.QueueStatusInProgress] + byStatus[models.QueueStatusFailed]; backlog > 0 {
		p := PriorityMedium
		if byStatus[models.QueueStatusFailed] > 0 {
			p = PriorityHigh
		}
		recs = append(recs, Recommendation{
			Kind:     "pending_sync",
			Priority: p,
			Message:  fmt.Sprintf("%d operations are waiting to sync; connect to the network", backlog),
		})
	}

	unresolved := 0
	for _, n := range conflicts {
		unresolved += n
	}
	if unresolved > 0 {
		recs = append(recs, Recommendation{
			Kind:     "unresolved_conflicts",
			Priority: PriorityHigh,
			Message:  fmt.Sprintf("%d sync conflicts need resolution", unresolved),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority > recs[j].Priority })
	return recs, nil
}

// Run computes stats and runs cleanup every interval until ctx is done.
// Critical storage escalates to ForceCriticalCleanup.
func (m *StorageManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := m.GetStorageStats(ctx)
			if err != nil {
				m.log.Error(ctx, "storage stats failed", "error", err)
				continue
			}
			cleanup := m.RunCleanup
			if stats.Health == HealthCritical {
				cleanup = m.ForceCriticalCleanup
			}
			if _, err := cleanup(ctx); err != nil {
				m.log.Error(ctx, "cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
