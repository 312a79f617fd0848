package models

import "time"

// ChecklistItem is one item of a job checklist. Completion is a one-way
// latch: an item can be marked complete but never unchecked, so the state is
// kept unexported and only MarkComplete mutates it.
type ChecklistItem struct {
	ID       string
	ServerID int64
	Section  string
	Label    string

	completedAt *time.Time
}

// NewChecklistItem returns an incomplete item.
func NewChecklistItem(id string, serverID int64, section, label string) *ChecklistItem {
	return &ChecklistItem{ID: id, ServerID: serverID, Section: section, Label: label}
}

// RestoreChecklistItem rebuilds an item loaded from storage.
func RestoreChecklistItem(id string, serverID int64, section, label string, completedAt *time.Time) *ChecklistItem {
	item := NewChecklistItem(id, serverID, section, label)
	if completedAt != nil {
		at := *completedAt
		item.completedAt = &at
	}
	return item
}

// Completed reports whether the latch has been set.
func (c *ChecklistItem) Completed() bool {
	return c.completedAt != nil
}

// CompletedAt returns when the item was completed, or nil.
func (c *ChecklistItem) CompletedAt() *time.Time {
	if c.completedAt == nil {
		return nil
	}
	at := *c.completedAt
	return &at
}

// MarkComplete sets the latch. It returns false if the item was already
// complete, in which case the original completion time is kept.
func (c *ChecklistItem) MarkComplete(at time.Time) bool {
	if c.completedAt != nil {
		return false
	}
	c.completedAt = &at
	return true
}
