package checklist

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

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, jobID int64, item *models.ChecklistItem, at time.Time) error {
	now := dbx.Millis(at)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checklist_items (job_id, id, server_id, section, label, completed, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, id) DO UPDATE SET
			server_id = excluded.server_id,
			section = excluded.section,
			label = excluded.label,
			completed = MAX(checklist_items.completed, excluded.completed),
			completed_at = COALESCE(checklist_items.completed_at, excluded.completed_at),
			updated_at = excluded.updated_at
	`, jobID, item.ID, item.ServerID, item.Section, item.Label,
		dbx.Bool(item.Completed()), dbx.NullMillis(item.CompletedAt()), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert checklist item %s: %w", item.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, jobID int64, id string) (*models.ChecklistItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, server_id, section, label, completed_at
		FROM checklist_items WHERE job_id = ? AND id = ?`, jobID, id)

	item, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checklist item %s: %w", id, err)
	}
	return item, nil
}

func (r *SQLiteRepository) ListForJob(ctx context.Context, jobID int64) ([]*models.ChecklistItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, server_id, section, label, completed_at
		FROM checklist_items WHERE job_id = ? ORDER BY section, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checklist items: %w", err)
	}
	defer rows.Close()

	var result []*models.ChecklistItem
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checklist item: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checklist items: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) MarkComplete(ctx context.Context, jobID int64, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checklist_items SET completed = 1, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND id = ? AND completed = 0`,
		at.UnixMilli(), at.UnixMilli(), jobID, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete checklist item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checklist_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count checklist items: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.ChecklistItem, error) {
	var (
		id, section, label string
		serverID           int64
		completedAt        sql.NullInt64
	)
	if err := s.Scan(&id, &serverID, &section, &label, &completedAt); err != nil {
		return nil, err
	}
	return models.RestoreChecklistItem(id, serverID, section, label, dbx.TimePtr(completedAt)), nil
}
