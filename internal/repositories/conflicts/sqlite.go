package conflicts

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

const columns = `id, job_id, conflict_type, local_data, server_data, resolution, resolved,
	reason, resolved_at, created_at, updated_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, c *models.SyncConflict) error {
	local, err := json.Marshal(c.LocalData)
	if err != nil {
		return fmt.Errorf("encode local snapshot: %w", err)
	}
	server, err := json.Marshal(c.ServerData)
	if err != nil {
		return fmt.Errorf("encode server snapshot: %w", err)
	}

	var resolution sql.NullString
	if c.Resolution != nil {
		resolution = sql.NullString{String: string(*c.Resolution), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO sync_conflicts (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JobID, string(c.ConflictType), string(local), string(server), resolution,
		dbx.Bool(c.Resolved), c.Reason, dbx.NullMillis(c.ResolvedAt),
		dbx.Millis(c.CreatedAt), dbx.Millis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.SyncConflict, error) {
	c, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM sync_conflicts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict %s: %w", id, err)
	}
	return c, nil
}

func (r *SQLiteRepository) Resolve(ctx context.Context, id string, res models.Resolution, reason string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_conflicts SET resolution = ?, resolved = 1, reason = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND resolved = 0`,
		string(res), reason, at.UnixMilli(), at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// tell a missing conflict from one resolved concurrently
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return common.ErrAlreadyResolved
}

func (r *SQLiteRepository) AddReason(ctx context.Context, id string, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_conflicts SET reason = ?, updated_at = ? WHERE id = ? AND resolved = 0`,
		reason, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update conflict %s: %w", id, err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) ListUnresolved(ctx context.Context) ([]*models.SyncConflict, error) {
	return r.list(ctx, `WHERE resolved = 0`)
}

func (r *SQLiteRepository) ListForJob(ctx context.Context, jobID int64) ([]*models.SyncConflict, error) {
	return r.list(ctx, `WHERE job_id = ?`, jobID)
}

func (r *SQLiteRepository) CountUnresolvedByType(ctx context.Context) (map[models.ConflictType]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conflict_type, COUNT(*) FROM sync_conflicts WHERE resolved = 0 GROUP BY conflict_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count conflicts: %w", err)
	}
	defer rows.Close()

	result := make(map[models.ConflictType]int)
	for rows.Next() {
		var (
			t models.ConflictType
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		result[t] = n
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_conflicts WHERE resolved = 1 AND resolved_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved conflicts: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_conflicts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) list(ctx context.Context, where string, args ...any) ([]*models.SyncConflict, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM sync_conflicts `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select conflicts: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncConflict
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.SyncConflict, error) {
	var (
		c                models.SyncConflict
		local, server    string
		resolution       sql.NullString
		resolvedAt       sql.NullInt64
		created, updated int64
	)
	err := s.Scan(&c.ID, &c.JobID, &c.ConflictType, &local, &server, &resolution, &c.Resolved,
		&c.Reason, &resolvedAt, &created, &updated)
	if err != nil {
		return nil, err
	}

	if c.LocalData, err = models.DecodeSnapshot([]byte(local)); err != nil {
		return nil, fmt.Errorf("decode local snapshot: %w", err)
	}
	if c.ServerData, err = models.DecodeSnapshot([]byte(server)); err != nil {
		return nil, fmt.Errorf("decode server snapshot: %w", err)
	}
	if resolution.Valid {
		res := models.Resolution(resolution.String)
		c.Resolution = &res
	}
	c.ResolvedAt = dbx.TimePtr(resolvedAt)
	c.CreatedAt = dbx.Time(created)
	return &c, nil
}
