package models

import (
	"encoding/json"
	"time"
)

// ConflictType names one of the known divergence shapes.
type ConflictType string

const (
	ConflictCancellation ConflictType = "cancellation"
	ConflictMultiCleaner ConflictType = "multi_cleaner"
	ConflictDataMismatch ConflictType = "data_mismatch"
)

// Resolution is the outcome applied to a conflict.
type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionServerWins Resolution = "server_wins"
	ResolutionMerged     Resolution = "merged"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocalWins, ResolutionServerWins, ResolutionMerged:
		return true
	}
	return false
}

// ConflictSnapshot is one side of a conflict.
type ConflictSnapshot struct {
	Status            JobStatus         `json:"status,omitempty"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	CancelledAt       *time.Time        `json:"cancelledAt,omitempty"`
	UpdatedAt         *time.Time        `json:"updatedAt,omitempty"`
	CleanerID         string            `json:"cleanerId,omitempty"`
	ChecklistProgress ChecklistProgress `json:"checklistProgress,omitempty"`
	Data              *JobData          `json:"jobData,omitempty"`
}

// SnapshotOf captures the conflict-relevant view of a local job.
func SnapshotOf(j *Job) ConflictSnapshot {
	updated := j.UpdatedAt
	data := j.Data
	return ConflictSnapshot{
		Status:            j.Status,
		StartedAt:         j.StartedAt,
		UpdatedAt:         &updated,
		ChecklistProgress: j.ChecklistProgress,
		Data:              &data,
	}
}

// DecodeSnapshot unmarshals a snapshot sent by the server.
func DecodeSnapshot(b []byte) (ConflictSnapshot, error) {
	var s ConflictSnapshot
	if len(b) == 0 {
		return s, nil
	}
	err := json.Unmarshal(b, &s)
	return s, err
}

// SyncConflict is a detected divergence between local and server state.
type SyncConflict struct {
	ID           string
	JobID        int64
	ConflictType ConflictType
	LocalData    ConflictSnapshot
	ServerData   ConflictSnapshot
	Resolution   *Resolution
	Resolved     bool
	Reason       string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Shape is the closed set of conflict shapes. Callers switch on the
// concrete type; Unknown covers tags this build does not understand.
type Shape interface {
	conflictShape()
}

// Cancellation: the server cancelled a job the device may have started.
type Cancellation struct {
	LocalStartedAt    *time.Time
	ServerCancelledAt *time.Time
}

// MultiCleaner: several workers contributed to the same job.
type MultiCleaner struct {
	Server ChecklistProgress
}

// DataMismatch: both sides edited the job.
type DataMismatch struct {
	LocalUpdatedAt  *time.Time
	ServerUpdatedAt *time.Time
}

// Unknown carries a conflict tag with no handler.
type Unknown struct {
	Tag ConflictType
}

func (Cancellation) conflictShape() {}
func (MultiCleaner) conflictShape() {}
func (DataMismatch) conflictShape() {}
func (Unknown) conflictShape()      {}

// Shape projects the conflict onto its typed shape.
func (c *SyncConflict) Shape() Shape {
	switch c.ConflictType {
	case ConflictCancellation:
		return Cancellation{LocalStartedAt: c.LocalData.StartedAt, ServerCancelledAt: c.ServerData.CancelledAt}
	case ConflictMultiCleaner:
		return MultiCleaner{Server: c.ServerData.ChecklistProgress}
	case ConflictDataMismatch:
		return DataMismatch{LocalUpdatedAt: c.LocalData.UpdatedAt, ServerUpdatedAt: c.ServerData.UpdatedAt}
	default:
		return Unknown{Tag: c.ConflictType}
	}
}
