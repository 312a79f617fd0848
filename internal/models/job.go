// Package models defines the device-side records of the offline execution
// engine and the typed JSON payloads stored alongside them.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// JobStatus is the execution state of a job on the device.
type JobStatus string

const (
	JobStatusAssigned   JobStatus = "assigned"
	JobStatusStarted    JobStatus = "started"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusReassigned JobStatus = "reassigned"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobDataVersion is the current schema version of JobData.
const JobDataVersion = 1

// JobData is the snapshot of appointment, home and homeowner information
// pushed by the server.
type JobData struct {
	Version       int       `json:"version"`
	AppointmentID int64     `json:"appointmentId"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Home          Home      `json:"home"`
	Homeowner     Homeowner `json:"homeowner"`
	Rooms         []string  `json:"rooms,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

type Home struct {
	Address string `json:"address"`
	City    string `json:"city,omitempty"`
	Zip     string `json:"zip,omitempty"`
}

type Homeowner struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// DecodeJobData unmarshals b and rejects unknown schema versions. Version 0
// is treated as the current version for payloads written before versioning.
func DecodeJobData(b []byte) (JobData, error) {
	var d JobData
	if len(b) == 0 {
		return JobData{Version: JobDataVersion}, nil
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return JobData{}, fmt.Errorf("decode job data: %w", err)
	}
	if d.Version == 0 {
		d.Version = JobDataVersion
	}
	if d.Version != JobDataVersion {
		return JobData{}, fmt.Errorf("job data v%d: %w", d.Version, common.ErrUnsupportedVersion)
	}
	return d, nil
}

// Coordinates is a GPS fix.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// SectionProgress tracks the checklist items of one section.
type SectionProgress struct {
	Total     []string `json:"total"`
	Completed []string `json:"completed"`
}

// ChecklistProgress maps a checklist section to its progress.
type ChecklistProgress map[string]SectionProgress

// MarkCompleted records itemID as completed in section. Completion is
// additive: the item is never removed from Completed.
func (p ChecklistProgress) MarkCompleted(section, itemID string) {
	sp := p[section]
	if !slices.Contains(sp.Total, itemID) {
		sp.Total = append(sp.Total, itemID)
	}
	if !slices.Contains(sp.Completed, itemID) {
		sp.Completed = append(sp.Completed, itemID)
	}
	p[section] = sp
}

// Merge unions other into p.
func (p ChecklistProgress) Merge(other ChecklistProgress) {
	for section, osp := range other {
		sp := p[section]
		for _, id := range osp.Total {
			if !slices.Contains(sp.Total, id) {
				sp.Total = append(sp.Total, id)
			}
		}
		for _, id := range osp.Completed {
			if !slices.Contains(sp.Completed, id) {
				sp.Completed = append(sp.Completed, id)
			}
			if !slices.Contains(sp.Total, id) {
				sp.Total = append(sp.Total, id)
			}
		}
		p[section] = sp
	}
}

// Job is a single assignment tracked through its execution lifecycle.
type Job struct {
	// ID is the client-generated local identifier.
	ID string
	// ServerID identifies the job on the server.
	ServerID int64

	Status JobStatus
	Data   JobData

	// ScheduledAt is denormalized from Data for filtering.
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	StartGPS    *Coordinates
	HoursWorked *float64

	ChecklistProgress ChecklistProgress

	// RequiresSync is set while local changes wait for the server.
	RequiresSync bool
	// Locked jobs accept no further local mutation.
	Locked bool
	// Deleted marks a job reclaimed by cleanup.
	Deleted bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCompletedAndLocked reports the terminal device-side state.
func (j *Job) IsCompletedAndLocked() bool {
	return j.Status == JobStatusCompleted && j.Locked
}
