package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

const columns = `id, job_id, operation_type, sequence_number, payload, status, attempts,
	last_error, created_at, updated_at`

const openStatuses = `('pending', 'in_progress')`

// ready selects open entries that no failed entry of the same job precedes,
// for jobs without an unresolved conflict.
const ready = `status IN ` + openStatuses + `
	AND NOT EXISTS (
		SELECT 1 FROM sync_queue f
		WHERE f.job_id = sync_queue.job_id AND f.status = 'failed'
		  AND f.sequence_number < sync_queue.sequence_number)
	AND job_id NOT IN (SELECT job_id FROM sync_conflicts WHERE resolved = 0)`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, e *models.SyncQueueEntry, at time.Time) error {
	var seq int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sync_sequences (job_id, last_sequence) VALUES (?, 1)
		ON CONFLICT(job_id) DO UPDATE SET last_sequence = last_sequence + 1
		RETURNING last_sequence`, e.JobID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to allocate sequence for job %d: %w", e.JobID, err)
	}

	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	status := e.Status
	if status == "" {
		status = models.QueueStatusPending
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (job_id, operation_type, sequence_number, payload, status, attempts,
			last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`,
		e.JobID, string(e.OperationType), seq, string(payload), string(status), at.UnixMilli(), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for job %d: %w", e.OperationType, e.JobID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	e.ID = id
	e.SequenceNumber = seq
	e.Payload = payload
	e.Status = status
	e.Attempts = 0
	e.LastError = ""
	e.CreatedAt = at.UTC()
	e.UpdatedAt = at.UTC()
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.SyncQueueEntry, error) {
	e, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM sync_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry %d: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListForJob(ctx context.Context, jobID int64) ([]*models.SyncQueueEntry, error) {
	return r.list(ctx, `WHERE job_id = ?`, jobID)
}

func (r *SQLiteRepository) ListReady(ctx context.Context, jobID int64) ([]*models.SyncQueueEntry, error) {
	return r.list(ctx, `WHERE job_id = ? AND `+ready, jobID)
}

func (r *SQLiteRepository) JobsReady(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT job_id FROM sync_queue WHERE `+ready+` ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) MarkInProgress(ctx context.Context, id int64, at time.Time) error {
	return r.setStatus(ctx, id, models.QueueStatusInProgress, nil, at)
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id int64, at time.Time) error {
	return r.setStatus(ctx, id, models.QueueStatusCompleted, nil, at)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	return r.setStatus(ctx, id, models.QueueStatusFailed, &reason, at)
}

func (r *SQLiteRepository) setStatus(ctx context.Context, id int64, s models.QueueStatus, reason *string, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if reason != nil {
		res, err = r.db.ExecContext(ctx, `UPDATE sync_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			string(s), *reason, at.UnixMilli(), id)
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ?`,
			string(s), at.UnixMilli(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to set queue entry %d %s: %w", id, s, err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) RecordAttempt(ctx context.Context, id int64, reason string, maxAttempts int, at time.Time) (models.QueueStatus, error) {
	var status models.QueueStatus
	err := r.db.QueryRowContext(ctx, `
		UPDATE sync_queue SET
			attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END,
			updated_at = ?
		WHERE id = ?
		RETURNING status`, reason, maxAttempts, at.UnixMilli(), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to record attempt on queue entry %d: %w", id, err)
	}
	return status, nil
}

func (r *SQLiteRepository) RetryFailed(ctx context.Context, jobID int64, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'pending', attempts = 0, updated_at = ?
		WHERE job_id = ? AND status = 'failed'`, at.UnixMilli(), jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to retry entries of job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) FailOpen(ctx context.Context, jobID int64, reason string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'failed', last_error = ?, updated_at = ?
		WHERE job_id = ? AND status IN `+openStatuses, reason, at.UnixMilli(), jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to fail entries of job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE status = 'completed' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	result := make(map[models.QueueStatus]int)
	for rows.Next() {
		var (
			s models.QueueStatus
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		result[s] = n
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) list(ctx context.Context, where string, args ...any) ([]*models.SyncQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM sync_queue `+where+` ORDER BY sequence_number`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entries: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncQueueEntry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.SyncQueueEntry, error) {
	var (
		e                models.SyncQueueEntry
		payload          string
		created, updated int64
	)
	err := s.Scan(&e.ID, &e.JobID, &e.OperationType, &e.SequenceNumber, &payload, &e.Status, &e.Attempts,
		&e.LastError, &created, &updated)
	if err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	e.CreatedAt = dbx.Time(created)
	e.UpdatedAt = dbx.Time(updated)
	return &e, nil
}
