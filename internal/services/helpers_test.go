package services

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/photostore"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/store/storetest"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeNet struct {
	online bool
}

func (f *fakeNet) IsOnline() bool { return f.online }

type fakeFetcher struct {
	jobs   []RemoteJob
	err    error
	calls  int
	tokens []string
}

func (f *fakeFetcher) GetMyJobs(ctx context.Context, token string, opts FetchOptions) ([]RemoteJob, error) {
	f.calls++
	f.tokens = append(f.tokens, token)
	return f.jobs, f.err
}

type env struct {
	db        *sql.DB
	repos     *store.SQLiteManager
	clock     *testClock
	net       *fakeNet
	fetcher   *fakeFetcher
	photos    *photostore.PhotoStorage
	manager   *OfflineManager
	messaging *MessagingService
	resolver  *ConflictResolver
	storage   *StorageManager
	sender    *fakeSender
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		db:      storetest.NewDB(t),
		repos:   store.NewSQLiteManager(),
		clock:   &testClock{now: t0},
		net:     &fakeNet{online: true},
		fetcher: &fakeFetcher{},
		sender:  &fakeSender{},
	}
	var clock timex.Clock = e.clock
	log := logging.Nop()

	e.photos = photostore.New(e.db, e.repos, filepath.Join(t.TempDir(), "photos"), "tablet-1", clock, log)
	require.NoError(t, e.photos.Init())

	e.manager = NewOfflineManager(e.db, e.repos, e.photos, e.net, e.fetcher, clock, log)
	e.messaging = NewMessagingService(e.db, e.repos, e.net, e.sender, clock, log)
	e.resolver = NewConflictResolver(e.db, e.repos, clock, log)
	e.storage = NewStorageManager(e.db, e.repos, e.photos, e.manager, e.messaging, clock, log)
	return e
}

func remoteJob(serverID int64, at time.Time, items ...RemoteChecklistItem) RemoteJob {
	return RemoteJob{
		ServerID: serverID,
		Status:   models.JobStatusAssigned,
		Data: models.JobData{
			Version:       models.JobDataVersion,
			AppointmentID: serverID * 10,
			ScheduledAt:   at,
			Home:          models.Home{Address: "12 Elm St"},
			Homeowner:     models.Homeowner{Name: "R. Diaz"},
		},
		Checklist: items,
	}
}

// seedJob preloads one job scheduled later today with a two item checklist.
func (e *env) seedJob(t *testing.T, serverID int64) *models.Job {
	t.Helper()
	e.fetcher.jobs = []RemoteJob{remoteJob(serverID, t0.Add(3*time.Hour),
		RemoteChecklistItem{ID: "k1", Section: "kitchen", Label: "Counters"},
		RemoteChecklistItem{ID: "k2", Section: "kitchen", Label: "Floor"},
	)}
	_, err := e.manager.PreloadJobs(context.Background())
	require.NoError(t, err)

	job, err := e.manager.GetLocalJob(context.Background(), serverID)
	require.NoError(t, err)
	return job
}

func (e *env) queue(t *testing.T, jobID int64) []*models.SyncQueueEntry {
	t.Helper()
	list, err := e.repos.Queue(e.db).ListForJob(context.Background(), jobID)
	require.NoError(t, err)
	return list
}

func writeSource(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "capture.jpg")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}
