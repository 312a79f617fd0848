package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/services"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// run executes the command line against dir with an unreachable server.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	args = append(args,
		"--data-dir", dir,
		"--addr", "127.0.0.1:1",
		"--log-level", "error",
	)
	var out, errOut bytes.Buffer
	err := Execute(context.Background(), args, &out, &errOut)
	return out.String(), err
}

// seed stores two jobs and one unresolved cancellation conflict for job 100
// and returns the conflict id.
func seed(t *testing.T, dir string) string {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, filepath.Join(dir, "fieldsync.db"))
	require.NoError(t, err)
	defer db.Close()

	repos := store.NewSQLiteManager()
	now := time.Now().UTC().Truncate(time.Millisecond)
	started := now.Add(-time.Hour)

	jobs := []*models.Job{
		{ServerID: 100, Status: models.JobStatusStarted, StartedAt: &started, RequiresSync: true},
		{ServerID: 101, Status: models.JobStatusAssigned},
	}
	for _, j := range jobs {
		j.ID = uuid.NewString()
		j.Data = models.JobData{Version: models.JobDataVersion, ScheduledAt: now, Home: models.Home{Address: "12 Elm St"}}
		j.ScheduledAt = now
		j.CreatedAt, j.UpdatedAt = now, now
		require.NoError(t, repos.Jobs(db).Create(ctx, j))
	}

	cancelled := now.Add(-30 * time.Minute)
	resolver := services.NewConflictResolver(db, repos, timex.System, logging.Nop())
	c, err := resolver.Record(ctx, db, 100, models.ConflictCancellation,
		models.ConflictSnapshot{Status: models.JobStatusStarted, StartedAt: &started},
		models.ConflictSnapshot{Status: models.JobStatusCancelled, CancelledAt: &cancelled})
	require.NoError(t, err)
	return c.ID
}

func TestStatus_Offline(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	out, err := run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "connection: offline")
	assert.Contains(t, out, "offline since:")
	assert.Contains(t, out, "jobs: never downloaded")
	assert.Contains(t, out, "conflicts: 1 unresolved")
	assert.Contains(t, out, "messages: 0 pending")
}

func TestJobs(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	out, err := run(t, dir, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "100")
	assert.Contains(t, out, "101")
	assert.Contains(t, out, "unsynced")
	assert.Contains(t, out, "12 Elm St")

	out, err = run(t, dir, "jobs", "--status", "assigned")
	require.NoError(t, err)
	assert.Contains(t, out, "101")
	assert.NotContains(t, out, "unsynced")
}

func TestJobs_Empty(t *testing.T) {
	out, err := run(t, t.TempDir(), "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "no jobs")
}

func TestConflicts_ListAndResolve(t *testing.T) {
	dir := t.TempDir()
	id := seed(t, dir)

	out, err := run(t, dir, "conflicts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "cancellation")

	_, err = run(t, dir, "conflicts", "resolve", id, "nobody_wins")
	require.ErrorIs(t, err, common.ErrInvalidState)

	_, err = run(t, dir, "conflicts", "resolve", "missing", "server_wins")
	require.ErrorIs(t, err, common.ErrNotFound)

	out, err = run(t, dir, "conflicts", "resolve", id, "server_wins")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved: server_wins")

	out, err = run(t, dir, "conflicts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no unresolved conflicts")

	out, err = run(t, dir, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
	assert.Contains(t, out, "locked")
}

func TestConflicts_Auto(t *testing.T) {
	dir := t.TempDir()
	id := seed(t, dir)

	out, err := run(t, dir, "conflicts", "auto")
	require.NoError(t, err)
	assert.Contains(t, out, id+": local_wins")
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	out, err := run(t, dir, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "jobs removed: 0")
	assert.Contains(t, out, "storage health: good")

	out, err = run(t, dir, "cleanup", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "forced 0")
}

func TestDrain_Offline(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	out, err := run(t, dir, "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "offline, nothing sent")
}

func TestPreload_Offline(t *testing.T) {
	_, err := run(t, t.TempDir(), "preload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)

	_, err := run(t, dir, "reset")
	require.ErrorIs(t, err, ErrNotConfirmed)

	out, err := run(t, dir, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "100")

	out, err = run(t, dir, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "local data wiped")

	out, err = run(t, dir, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "no jobs")
}

func TestProgress(t *testing.T) {
	p := models.ChecklistProgress{}
	p.MarkCompleted("kitchen", "k1")
	p.Merge(models.ChecklistProgress{"bath": {Total: []string{"b1", "b2"}}})

	done, total := progress(p)
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, total)
}

func TestRun_StopsWithContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out, errOut bytes.Buffer
	err := Execute(ctx, []string{"run", "--data-dir", dir, "--addr", "127.0.0.1:1", "--log-level", "error"}, &out, &errOut)
	require.NoError(t, err)
}
