package models

import "time"

// MessageType classifies a message.
type MessageType string

const (
	MessageTypeJobNote         MessageType = "job_note"
	MessageTypeDraft           MessageType = "draft_message"
	MessageTypeCoworkerMessage MessageType = "coworker_message"
)

// MessageStatus is the sync state of a message.
type MessageStatus string

const (
	MessageStatusDraft       MessageStatus = "draft"
	MessageStatusPendingSync MessageStatus = "pending_sync"
	MessageStatusSynced      MessageStatus = "synced"
	MessageStatusFailed      MessageStatus = "failed"
)

// Message is a job note, a coworker message or a draft of either.
type Message struct {
	ID          string
	JobID       int64
	MessageType MessageType
	Status      MessageStatus
	Content     string
	// RecipientID is set for coworker messages and drafts addressed to a
	// coworker.
	RecipientID string
	LastError   string
	SyncedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsDraft reports whether the message is still an editable draft.
func (m *Message) IsDraft() bool {
	return m.Status == MessageStatusDraft
}
