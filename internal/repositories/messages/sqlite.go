package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

const columns = `id, job_id, message_type, status, content, recipient_id, last_error,
	synced_at, created_at, updated_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, m *models.Message) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.JobID, string(m.MessageType), string(m.Status), m.Content, m.RecipientID, m.LastError,
		dbx.NullMillis(m.SyncedAt), dbx.Millis(m.CreatedAt), dbx.Millis(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	m, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return m, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, m *models.Message, status models.MessageStatus, content string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET message_type = ?, status = ?, content = ?, recipient_id = ?,
			last_error = ?, synced_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND content = ?`,
		string(m.MessageType), string(m.Status), m.Content, m.RecipientID, m.LastError,
		dbx.NullMillis(m.SyncedAt), dbx.Millis(m.UpdatedAt), m.ID, string(status), content)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", m.ID, err)
	}
	err = dbx.RowsAffectedOne(res, common.ErrStale)
	if !errors.Is(err, common.ErrStale) {
		return err
	}

	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, m.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get message %s: %w", m.ID, err)
	}
	return common.ErrStale
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return dbx.RowsAffectedOne(res, common.ErrNotFound)
}

func (r *SQLiteRepository) ListForJob(ctx context.Context, jobID int64) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM messages
		WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, statuses ...models.MessageStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE status IN (`+placeholders+`)`, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE status = ? AND synced_at IS NOT NULL AND synced_at < ?`,
		string(models.MessageStatusSynced), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete synced messages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Message, error) {
	var (
		m                models.Message
		synced           sql.NullInt64
		created, updated int64
	)
	err := s.Scan(&m.ID, &m.JobID, &m.MessageType, &m.Status, &m.Content, &m.RecipientID, &m.LastError,
		&synced, &created, &updated)
	if err != nil {
		return nil, err
	}
	m.SyncedAt = dbx.TimePtr(synced)
	m.CreatedAt = dbx.Time(created)
	m.UpdatedAt = dbx.Time(updated)
	return &m, nil
}
