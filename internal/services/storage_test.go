package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		bytes int64
		want  Health
	}{
		{0, HealthGood},
		{99 * humanize.MiByte, HealthGood},
		{100 * humanize.MiByte, HealthWarning},
		{101 * humanize.MiByte, HealthWarning},
		{200 * humanize.MiByte, HealthCritical},
		{201 * humanize.MiByte, HealthCritical},
	}
	for _, tt := range tests {
		t.Run(humanize.IBytes(uint64(tt.bytes)), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHealth(tt.bytes))
		})
	}
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "medium", PriorityMedium.String())
	assert.Equal(t, "high", PriorityHigh.String())
}

// inflate grows a photo file to size without writing its bytes.
func inflate(t *testing.T, p *models.Photo, size int64) {
	t.Helper()
	require.NoError(t, os.Truncate(p.LocalURI, size))
}

func TestGetStorageStats_CountsAndNotifies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedJob(t, 100)

	_, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Kitchen", nil)
	require.NoError(t, err)
	_, err = e.messaging.AddJobNote(ctx, 100, "gate code 1234")
	require.NoError(t, err)
	e.record(t, 100, models.ConflictMultiCleaner, models.ConflictSnapshot{}, models.ConflictSnapshot{})

	var got []StorageStats
	unsubscribe := e.storage.Subscribe(func(s StorageStats) { got = append(got, s) })

	s, err := e.storage.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthGood, s.Health)
	assert.Equal(t, 1, s.Jobs)
	assert.Equal(t, 2, s.ChecklistItems)
	assert.Equal(t, 1, s.PhotoRecords)
	assert.Equal(t, 1, s.Photos.PhotoCount)
	assert.Equal(t, int64(3), s.Photos.TotalSize)
	assert.Equal(t, 1, s.Messages)
	assert.Equal(t, 2, s.QueueEntries)
	assert.Equal(t, 2, s.PendingSync)
	assert.Zero(t, s.FailedSync)
	assert.Equal(t, 1, s.UnresolvedConflicts)
	assert.Equal(t, t0, s.CheckedAt)

	require.Len(t, got, 1)
	assert.Equal(t, s, got[0])

	unsubscribe()
	unsubscribe()
	_, err = e.storage.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunCleanup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedJob(t, 100)

	// uploaded photo of a job that is no longer on the device
	gone, err := e.photos.SavePhoto(ctx, writeSource(t, "img"), 999, models.PhotoTypeBefore, "Hall", nil)
	require.NoError(t, err)
	require.NoError(t, e.photos.MarkAsUploaded(ctx, gone.ID))

	// uploaded photo of a job still in progress
	active, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Kitchen", nil)
	require.NoError(t, err)
	require.NoError(t, e.photos.MarkAsUploaded(ctx, active.ID))

	exhausted, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Bath", nil)
	require.NoError(t, err)
	for range common.MaxPhotoUploadAttempts {
		require.NoError(t, e.photos.IncrementUploadAttempts(ctx, exhausted.ID))
	}

	orphan, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Porch", nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(orphan.LocalURI))

	_, err = e.messaging.AddJobNote(ctx, 100, "done with kitchen")
	require.NoError(t, err)
	var noteEntry *models.SyncQueueEntry
	for _, entry := range e.queue(t, 100) {
		if entry.OperationType == models.OperationMessageSend {
			noteEntry = entry
		}
	}
	require.NotNil(t, noteEntry)
	require.NoError(t, e.messaging.SyncMessage(ctx, noteEntry))
	require.NoError(t, e.repos.Queue(e.db).MarkCompleted(ctx, noteEntry.ID, t0))

	c := e.record(t, 100, models.ConflictMultiCleaner, models.ConflictSnapshot{}, models.ConflictSnapshot{})
	_, err = e.resolver.AutoResolve(ctx, c)
	require.NoError(t, err)

	e.clock.Advance(common.QueueRetention + time.Hour)

	rep, err := e.storage.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.PhotosRemoved)
	assert.Equal(t, 1, rep.PhotosAbandoned)
	assert.Equal(t, 1, rep.OrphansRemoved)
	assert.Equal(t, 1, rep.QueueEntriesRemoved)
	assert.Equal(t, 1, rep.ConflictsRemoved)
	assert.Equal(t, 1, rep.MessagesRemoved)
	assert.Zero(t, rep.JobsRemoved)
	assert.Zero(t, rep.ForcedPhotosRemoved)
	assert.Equal(t, HealthGood, rep.Health)

	_, err = e.photos.GetPhoto(ctx, gone.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = os.Stat(exhausted.LocalURI)
	assert.True(t, os.IsNotExist(err))

	kept, err := e.photos.GetPhotosForJob(ctx, 100)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, active.ID, kept[0].ID)
}

func TestRunCleanup_RemovesPhotosOfFinishedJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedJob(t, 100)

	p, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Kitchen", nil)
	require.NoError(t, err)
	require.NoError(t, e.photos.MarkAsUploaded(ctx, p.ID))
	_, err = e.manager.CompleteJob(ctx, 100, nil)
	require.NoError(t, err)

	rep, err := e.storage.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.PhotosRemoved, "job still has unsynced changes")

	require.NoError(t, e.repos.Jobs(e.db).MarkSynced(ctx, 100, t0))
	rep, err = e.storage.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.PhotosRemoved)
}

func TestForceCriticalCleanup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedJob(t, 100)

	p, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Kitchen", nil)
	require.NoError(t, err)
	require.NoError(t, e.photos.MarkAsUploaded(ctx, p.ID))

	pending, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Bath", nil)
	require.NoError(t, err)

	rep, err := e.storage.ForceCriticalCleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.ForcedPhotosRemoved, "not critical, nothing forced")
	assert.Equal(t, HealthGood, rep.Health)

	inflate(t, p, CriticalThreshold+humanize.MiByte)
	s, err := e.storage.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthCritical, s.Health)

	rep, err = e.storage.ForceCriticalCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ForcedPhotosRemoved)
	assert.Equal(t, HealthGood, rep.Health)

	left, err := e.photos.GetPhotosForJob(ctx, 100)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, pending.ID, left[0].ID)
}

func TestGetCleanupRecommendations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	recs, err := e.storage.GetCleanupRecommendations(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	e.seedJob(t, 100)
	p, err := e.manager.CapturePhoto(ctx, 100, writeSource(t, "img"), models.PhotoTypeBefore, "Kitchen", nil)
	require.NoError(t, err)
	require.NoError(t, e.photos.MarkAsUploaded(ctx, p.ID))
	e.record(t, 100, "mystery", models.ConflictSnapshot{}, models.ConflictSnapshot{})

	recs, err = e.storage.GetCleanupRecommendations(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "unresolved_conflicts", recs[0].Kind)
	assert.Equal(t, PriorityHigh, recs[0].Priority)
	assert.Equal(t, "pending_sync", recs[1].Kind)
	assert.Equal(t, PriorityMedium, recs[1].Priority)
	assert.Equal(t, "uploaded_photos", recs[2].Kind)
	assert.Equal(t, PriorityLow, recs[2].Priority)

	entry := e.queue(t, 100)[0]
	require.NoError(t, e.repos.Queue(e.db).MarkFailed(ctx, entry.ID, "rejected", t0))
	inflate(t, p, WarningThreshold)

	recs, err = e.storage.GetCleanupRecommendations(ctx)
	require.NoError(t, err)
	byKind := map[string]Priority{}
	for _, r := range recs {
		byKind[r.Kind] = r.Priority
	}
	assert.Equal(t, PriorityHigh, byKind["pending_sync"])
	assert.Equal(t, PriorityMedium, byKind["uploaded_photos"])
}

func TestStorageManagerRun_StopsWithContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	ticks := make(chan StorageStats, 4)
	e.storage.Subscribe(func(s StorageStats) {
		select {
		case ticks <- s:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		e.storage.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no cleanup cycle ran")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
