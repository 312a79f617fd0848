package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

const columns = `id, server_id, status, job_data, scheduled_at, started_at, completed_at,
	start_lat, start_lng, start_accuracy, hours_worked, checklist_progress,
	requires_sync, locked, deleted, created_at, updated_at`

// SQLiteRepository implements Repository over a DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a SQLiteRepository bound to db.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, j *models.Job) error {
	args, err := values(j)
	if err != nil {
		return err
	}

	query := `INSERT INTO jobs (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			job_data = excluded.job_data,
			scheduled_at = excluded.scheduled_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			start_lat = excluded.start_lat,
			start_lng = excluded.start_lng,
			start_accuracy = excluded.start_accuracy,
			hours_worked = excluded.hours_worked,
			checklist_progress = excluded.checklist_progress,
			requires_sync = excluded.requires_sync,
			locked = excluded.locked,
			deleted = 0,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		WHERE jobs.deleted = 1`

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	if err := dbx.RowsAffectedOne(res, fmt.Errorf("job with server id %d already exists", j.ServerID)); err != nil {
		return err
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, j *models.Job) error {
	args, err := values(j)
	if err != nil {
		return err
	}

	query := `UPDATE jobs SET server_id = ?, status = ?, job_data = ?, scheduled_at = ?,
			started_at = ?, completed_at = ?, start_lat = ?, start_lng = ?, start_accuracy = ?,
			hours_worked = ?, checklist_progress = ?, requires_sync = ?, locked = ?, deleted = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?`

	// values() starts with id; move it to the end for the WHERE clause.
	args = append(args[1:], args[0])

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) GetByServerID(ctx context.Context, serverID int64) (*models.Job, error) {
	query := `SELECT ` + columns + ` FROM jobs WHERE server_id = ? AND deleted = 0`
	j, err := scan(r.db.QueryRowContext(ctx, query, serverID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query job %d: %w", serverID, err)
	}
	return j, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Job, error) {
	query := `SELECT ` + columns + ` FROM jobs WHERE deleted = 0 ORDER BY scheduled_at, server_id`
	return r.list(ctx, query)
}

func (r *SQLiteRepository) ListCompletedSynced(ctx context.Context, completedBefore time.Time) ([]*models.Job, error) {
	query := `SELECT ` + columns + ` FROM jobs
		WHERE deleted = 0 AND status = ? AND requires_sync = 0
		  AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY completed_at`
	return r.list(ctx, query, models.JobStatusCompleted, completedBefore.UnixMilli())
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, serverID int64, at time.Time) error {
	query := `UPDATE jobs SET requires_sync = 0, updated_at = ? WHERE server_id = ? AND deleted = 0`
	res, err := r.db.ExecContext(ctx, query, dbx.Millis(at), serverID)
	if err != nil {
		return fmt.Errorf("failed to mark job synced: %w", err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) MarkSyncedIfSettled(ctx context.Context, serverID int64, at time.Time) (bool, error) {
	query := `UPDATE jobs SET requires_sync = 0, updated_at = ?
		WHERE server_id = ? AND deleted = 0
		  AND NOT EXISTS (
			SELECT 1 FROM sync_queue q WHERE q.job_id = jobs.server_id AND q.status <> 'completed')`
	res, err := r.db.ExecContext(ctx, query, dbx.Millis(at), serverID)
	if err != nil {
		return false, fmt.Errorf("failed to mark job synced: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE jobs SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`
	res, err := r.db.ExecContext(ctx, query, dbx.Millis(at), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE deleted = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.Job
	for rows.Next() {
		j, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Job, error) {
	var (
		j                       models.Job
		data, progress          string
		scheduled, created, upd int64
		started, completed      sql.NullInt64
		lat, lng, acc, hours    sql.NullFloat64
	)

	err := s.Scan(&j.ID, &j.ServerID, &j.Status, &data, &scheduled, &started, &completed,
		&lat, &lng, &acc, &hours, &progress, &j.RequiresSync, &j.Locked, &j.Deleted, &created, &upd)
	if err != nil {
		return nil, err
	}

	if j.Data, err = models.DecodeJobData([]byte(data)); err != nil {
		return nil, err
	}
	j.ChecklistProgress = models.ChecklistProgress{}
	if progress != "" {
		if err := json.Unmarshal([]byte(progress), &j.ChecklistProgress); err != nil {
			return nil, fmt.Errorf("decode checklist progress: %w", err)
		}
	}

	j.ScheduledAt = dbx.Time(scheduled)
	j.StartedAt = dbx.TimePtr(started)
	j.CompletedAt = dbx.TimePtr(completed)
	if lat.Valid && lng.Valid {
		j.StartGPS = &models.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64, Accuracy: acc.Float64}
	}
	j.HoursWorked = dbx.FloatPtr(hours)
	j.CreatedAt = dbx.Time(created)
	j.UpdatedAt = dbx.Time(upd)
	return &j, nil
}

func values(j *models.Job) ([]any, error) {
	data, err := json.Marshal(j.Data)
	if err != nil {
		return nil, fmt.Errorf("encode job data: %w", err)
	}
	progress := j.ChecklistProgress
	if progress == nil {
		progress = models.ChecklistProgress{}
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return nil, fmt.Errorf("encode checklist progress: %w", err)
	}

	var lat, lng, acc sql.NullFloat64
	if j.StartGPS != nil {
		lat = sql.NullFloat64{Float64: j.StartGPS.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: j.StartGPS.Longitude, Valid: true}
		acc = sql.NullFloat64{Float64: j.StartGPS.Accuracy, Valid: true}
	}

	return []any{
		j.ID, j.ServerID, string(j.Status), string(data), dbx.Millis(j.ScheduledAt),
		dbx.NullMillis(j.StartedAt), dbx.NullMillis(j.CompletedAt),
		lat, lng, acc, dbx.NullFloat(j.HoursWorked), string(progressJSON),
		dbx.Bool(j.RequiresSync), dbx.Bool(j.Locked), dbx.Bool(j.Deleted),
		dbx.Millis(j.CreatedAt), dbx.Millis(j.UpdatedAt),
	}, nil
}
