package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType is the kind of server call a queue entry replays.
type OperationType string

const (
	OperationStart           OperationType = "start"
	OperationPhotoUpload     OperationType = "photo_upload"
	OperationChecklistUpdate OperationType = "checklist_update"
	OperationComplete        OperationType = "complete"
	OperationMessageSend     OperationType = "message_send"
)

// QueueStatus is the drain state of a queue entry.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// SyncQueueEntry is one pending client to server operation. Entries of the
// same job are drained in SequenceNumber order.
type SyncQueueEntry struct {
	ID             int64
	JobID          int64
	OperationType  OperationType
	SequenceNumber int64
	Payload        json.RawMessage
	Status         QueueStatus
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewQueueEntry builds a pending entry with v encoded as payload. The
// sequence number is assigned by the repository on enqueue.
func NewQueueEntry(jobID int64, op OperationType, v any) (*SyncQueueEntry, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}
	return &SyncQueueEntry{JobID: jobID, OperationType: op, Payload: b, Status: QueueStatusPending}, nil
}

// DecodePayload unmarshals the entry payload into v.
func (e *SyncQueueEntry) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.OperationType, err)
	}
	return nil
}

type StartPayload struct {
	ServerID  int64        `json:"serverId"`
	StartedAt time.Time    `json:"startedAt"`
	GPS       *Coordinates `json:"gps,omitempty"`
}

type ChecklistPayload struct {
	ServerID    int64     `json:"serverId"`
	ItemID      string    `json:"itemId"`
	ItemServer  int64     `json:"itemServerId,omitempty"`
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completedAt"`
}

type CompletePayload struct {
	ServerID    int64     `json:"serverId"`
	CompletedAt time.Time `json:"completedAt"`
	HoursWorked *float64  `json:"hoursWorked,omitempty"`
}

type PhotoUploadPayload struct {
	PhotoID string `json:"photoId"`
}

type MessagePayload struct {
	MessageID   string      `json:"messageId"`
	MessageType MessageType `json:"messageType"`
}
