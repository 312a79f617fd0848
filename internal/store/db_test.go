package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

func TestOpen_AppliesSchemaAndPragmas(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "fieldsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)

	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fieldsync.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRunMigrations_Error(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = RunMigrations(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run migrations")
}

func TestWipe_ClearsTables(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := NewSQLiteManager()
	job := &models.Job{ID: "a", ServerID: 1, Status: models.JobStatusAssigned}
	require.NoError(t, m.Jobs(db).Create(ctx, job))
	require.NoError(t, m.Checklist(db).Upsert(ctx, 1, models.NewChecklistItem("i1", 0, "kitchen", "Wipe counters"), time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, m.Metadata(db).Set(ctx, "k", []byte("v")))

	require.NoError(t, Wipe(ctx, db))

	n, err := m.Jobs(db).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	items, err := m.Checklist(db).ListForJob(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)

	v, err := m.Metadata(db).Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}
