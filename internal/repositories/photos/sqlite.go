package photos

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

const columns = `id, job_id, photo_type, room, local_uri, watermark_data, uploaded,
	upload_attempts, is_not_applicable, created_at, updated_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, p *models.Photo) error {
	wm := []byte("{}")
	if p.Watermark.Version != 0 {
		b, err := json.Marshal(p.Watermark)
		if err != nil {
			return fmt.Errorf("encode watermark: %w", err)
		}
		wm = b
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO photos (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.JobID, string(p.PhotoType), p.Room, p.LocalURI, string(wm), dbx.Bool(p.Uploaded),
		p.UploadAttempts, dbx.Bool(p.IsNotApplicable), dbx.Millis(p.CreatedAt), dbx.Millis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert photo: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Photo, error) {
	p, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM photos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo %s: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListForJob(ctx context.Context, jobID int64) ([]*models.Photo, error) {
	return r.list(ctx, `WHERE job_id = ?`, jobID)
}

func (r *SQLiteRepository) ListUnuploaded(ctx context.Context) ([]*models.Photo, error) {
	return r.list(ctx, `WHERE uploaded = 0 AND is_not_applicable = 0`)
}

func (r *SQLiteRepository) ListUploaded(ctx context.Context) ([]*models.Photo, error) {
	return r.list(ctx, `WHERE uploaded = 1`)
}

func (r *SQLiteRepository) ListUploadedForJob(ctx context.Context, jobID int64) ([]*models.Photo, error) {
	return r.list(ctx, `WHERE uploaded = 1 AND job_id = ?`, jobID)
}

func (r *SQLiteRepository) ListExhausted(ctx context.Context, maxAttempts int) ([]*models.Photo, error) {
	return r.list(ctx, `WHERE uploaded = 0 AND is_not_applicable = 0 AND upload_attempts >= ?`, maxAttempts)
}

func (r *SQLiteRepository) MarkUploaded(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE photos SET uploaded = 1, updated_at = ? WHERE id = ?`, dbx.Millis(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark photo %s uploaded: %w", id, err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) IncrementAttempts(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photos SET upload_attempts = upload_attempts + 1, updated_at = ? WHERE id = ?`, dbx.Millis(at), id)
	if err != nil {
		return fmt.Errorf("failed to increment upload attempts of %s: %w", id, err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete photo %s: %w", id, err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM photos`); err != nil {
		return fmt.Errorf("failed to delete photos: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountByType(ctx context.Context, jobID int64, t models.PhotoType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM photos WHERE job_id = ? AND photo_type = ? AND is_not_applicable = 0`,
		jobID, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s photos: %w", t, err)
	}
	return n, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) list(ctx context.Context, where string, args ...any) ([]*models.Photo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM photos `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select photos: %w", err)
	}
	defer rows.Close()

	var result []*models.Photo
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Photo, error) {
	var (
		p                models.Photo
		wm               string
		created, updated int64
	)
	err := s.Scan(&p.ID, &p.JobID, &p.PhotoType, &p.Room, &p.LocalURI, &wm, &p.Uploaded,
		&p.UploadAttempts, &p.IsNotApplicable, &created, &updated)
	if err != nil {
		return nil, err
	}
	if wm != "" && wm != "{}" {
		if p.Watermark, err = models.DecodeWatermark([]byte(wm)); err != nil {
			return nil, err
		}
	}
	p.CreatedAt = dbx.Time(created)
	p.UpdatedAt = dbx.Time(updated)
	return &p, nil
}
