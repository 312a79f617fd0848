package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/messages"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// MessagingService stores notes, coworker messages and drafts locally and
// queues them for delivery. Drafts stay local until sent.
type MessagingService struct {
	db     *sql.DB
	repos  store.Manager
	net    Connectivity
	sender MessageSender
	clock  timex.Clock
	log    logging.Logger
}

func NewMessagingService(db *sql.DB, repos store.Manager, net Connectivity, sender MessageSender,
	clock timex.Clock, log logging.Logger) *MessagingService {
	return &MessagingService{
		db:     db,
		repos:  repos,
		net:    net,
		sender: sender,
		clock:  clock,
		log:    log.With("component", "messaging"),
	}
}

// MessageResult is returned by operations that queue a message. Offline is
// informational: the message is queued either way.
type MessageResult struct {
	Message *models.Message
	Offline bool
}

func (s *MessagingService) AddJobNote(ctx context.Context, jobID int64, content string) (MessageResult, error) {
	return s.queueNew(ctx, jobID, models.MessageTypeJobNote, "", content)
}

func (s *MessagingService) SendCoworkerMessage(ctx context.Context, jobID int64, recipientID, content string) (MessageResult, error) {
	return s.queueNew(ctx, jobID, models.MessageTypeCoworkerMessage, recipientID, content)
}

func (s *MessagingService) queueNew(ctx context.Context, jobID int64, t models.MessageType, recipientID, content string) (MessageResult, error) {
	now := s.clock.Now().UTC()
	m := &models.Message{
		ID:          uuid.NewString(),
		JobID:       jobID,
		MessageType: t,
		Status:      models.MessageStatusPendingSync,
		Content:     content,
		RecipientID: recipientID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Messages(tx).Create(ctx, m); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, m, now)
	})
	if err != nil {
		return MessageResult{}, fmt.Errorf("queue %s: %w", t, err)
	}
	return MessageResult{Message: m, Offline: !s.net.IsOnline()}, nil
}

func (s *MessagingService) enqueue(ctx context.Context, tx dbx.DBTX, m *models.Message, at time.Time) error {
	e, err := models.NewQueueEntry(m.JobID, models.OperationMessageSend,
		models.MessagePayload{MessageID: m.ID, MessageType: m.MessageType})
	if err != nil {
		return err
	}
	return s.repos.Queue(tx).Enqueue(ctx, e, at)
}

// SaveDraftMessage stores a draft. An empty recipient makes it a job note
// draft.
func (s *MessagingService) SaveDraftMessage(ctx context.Context, jobID int64, recipientID, content string) (*models.Message, error) {
	now := s.clock.Now().UTC()
	m := &models.Message{
		ID:          uuid.NewString(),
		JobID:       jobID,
		MessageType: models.MessageTypeDraft,
		Status:      models.MessageStatusDraft,
		Content:     content,
		RecipientID: recipientID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repos.Messages(s.db).Create(ctx, m); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return m, nil
}

func (s *MessagingService) UpdateDraftMessage(ctx context.Context, id, content string) (*models.Message, error) {
	var m *models.Message
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Messages(tx)
		var err error
		if m, err = repo.Get(ctx, id); err != nil {
			return err
		}
		if !m.IsDraft() {
			return fmt.Errorf("edit %s message %s: %w", m.Status, id, common.ErrInvalidState)
		}

		read := m.Content
		m.Content = content
		m.UpdatedAt = s.clock.Now().UTC()
		return repo.Update(ctx, m, models.MessageStatusDraft, read)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MessagingService) DeleteDraftMessage(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Messages(tx)
		m, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !m.IsDraft() {
			return fmt.Errorf("delete %s message %s: %w", m.Status, id, common.ErrInvalidState)
		}
		return repo.Delete(ctx, id)
	})
}

// SendDraftMessage turns a draft into a coworker message, or a job note when
// it has no recipient, and queues it.
func (s *MessagingService) SendDraftMessage(ctx context.Context, id string) (MessageResult, error) {
	var m *models.Message
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		m, err = s.repos.Messages(tx).Get(ctx, id)
		if err != nil {
			return err
		}
		if !m.IsDraft() {
			return common.ErrNotADraft
		}

		now := s.clock.Now().UTC()
		m.MessageType = models.MessageTypeJobNote
		if m.RecipientID != "" {
			m.MessageType = models.MessageTypeCoworkerMessage
		}
		m.Status = models.MessageStatusPendingSync
		m.UpdatedAt = now
		if err := s.repos.Messages(tx).Update(ctx, m, models.MessageStatusDraft, m.Content); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, m, now)
	})
	if err != nil {
		return MessageResult{}, fmt.Errorf("send draft %s: %w", id, err)
	}
	return MessageResult{Message: m, Offline: !s.net.IsOnline()}, nil
}

// UpdateJobNote edits a note that has not reached the server yet. The
// queued send picks up the new content, and a send already in flight is
// repeated with it.
func (s *MessagingService) UpdateJobNote(ctx context.Context, id, content string) (*models.Message, error) {
	var m *models.Message
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Messages(tx)
		var err error
		if m, err = editableNote(ctx, repo, id); err != nil {
			return err
		}

		read := m.Content
		m.Content = content
		m.UpdatedAt = s.clock.Now().UTC()
		return repo.Update(ctx, m, m.Status, read)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteJobNote removes a note that has not reached the server yet. Its
// queued send finds nothing and completes without a call.
func (s *MessagingService) DeleteJobNote(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Messages(tx)
		if _, err := editableNote(ctx, repo, id); err != nil {
			return err
		}
		return repo.Delete(ctx, id)
	})
}

func editableNote(ctx context.Context, repo messages.Repository, id string) (*models.Message, error) {
	m, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.MessageType != models.MessageTypeJobNote {
		return nil, fmt.Errorf("message %s is a %s: %w", id, m.MessageType, common.ErrInvalidState)
	}
	if m.Status == models.MessageStatusSynced {
		return nil, fmt.Errorf("note %s: %w", id, common.ErrAlreadySynced)
	}
	return m, nil
}

// SyncMessage delivers the message referenced by a message_send entry.
// Retryable failures keep the message pending; other failures mark it
// failed. Use common.CanContinue on the result to tell them apart.
func (s *MessagingService) SyncMessage(ctx context.Context, e *models.SyncQueueEntry) error {
	var p models.MessagePayload
	if err := e.DecodePayload(&p); err != nil {
		return err
	}

	repo := s.repos.Messages(s.db)
	m, err := repo.Get(ctx, p.MessageID)
	if errors.Is(err, common.ErrNotFound) {
		s.log.Debug(ctx, "queued message no longer exists", "message_id", p.MessageID)
		return nil
	}
	if err != nil {
		return err
	}
	if m.Status == models.MessageStatusSynced {
		return nil
	}
	readStatus, readContent := m.Status, m.Content

	switch m.MessageType {
	case models.MessageTypeJobNote:
		err = s.sender.SendJobNote(ctx, m.JobID, m)
	case models.MessageTypeCoworkerMessage:
		err = s.sender.SendCoworkerMessage(ctx, m.JobID, m)
	default:
		err = fmt.Errorf("%s: %w", m.MessageType, common.ErrUnknownMessageType)
	}

	now := s.clock.Now().UTC()
	m.UpdatedAt = now
	switch {
	case err == nil:
		m.Status = models.MessageStatusSynced
		m.SyncedAt = &now
		m.LastError = ""
	case common.IsRetryable(err):
		m.LastError = err.Error()
	default:
		m.Status = models.MessageStatusFailed
		m.LastError = err.Error()
	}

	uerr := repo.Update(ctx, m, readStatus, readContent)
	switch {
	case errors.Is(uerr, common.ErrStale) || errors.Is(uerr, common.ErrNotFound):
		// edited or deleted while the send was in flight; the next attempt
		// delivers the current row, or finds it gone
		if err == nil {
			s.log.Info(ctx, "message changed during send", "message_id", m.ID)
			return common.NewRetryableError(fmt.Errorf("message %s changed during send: %w", m.ID, uerr))
		}
	case uerr != nil:
		return errors.Join(err, uerr)
	}
	if err != nil {
		return fmt.Errorf("sync message %s: %w", m.ID, err)
	}
	return nil
}

// GetPendingCount counts messages waiting for delivery.
func (s *MessagingService) GetPendingCount(ctx context.Context) (int, error) {
	return s.repos.Messages(s.db).CountByStatus(ctx, models.MessageStatusPendingSync)
}

// GetMessagesForJob returns the job's messages oldest first.
func (s *MessagingService) GetMessagesForJob(ctx context.Context, jobID int64) ([]*models.Message, error) {
	return s.repos.Messages(s.db).ListForJob(ctx, jobID)
}

// CleanupSyncedMessages deletes messages synced more than a day ago.
func (s *MessagingService) CleanupSyncedMessages(ctx context.Context) (int, error) {
	n, err := s.repos.Messages(s.db).DeleteSyncedBefore(ctx, s.clock.Now().Add(-common.MessageRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info(ctx, "synced messages cleaned up", "count", n)
	}
	return n, nil
}
