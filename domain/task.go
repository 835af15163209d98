package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	// StatusUnknown marks a record whose stored status could not be parsed.
	StatusUnknown Status = ""
)

// Statuses lists the valid statuses in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// ParseStatus converts a stored status value. The legacy "Pending" spelling
// found in older records is accepted.
func ParseStatus(s string) (Status, error) {
	switch strings.TrimSpace(s) {
	case "pending", "Pending":
		return StatusPending, nil
	case "in_progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	}
	return StatusUnknown, fmt.Errorf("unknown task status %q", s)
}

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// StoreValue is the status as written to the record store. Pending keeps
// the capitalised spelling existing records and readers use.
func (s Status) StoreValue() string {
	if s == StatusPending {
		return "Pending"
	}
	return string(s)
}

// Label is the human readable name of the status.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	}
	return "Unknown"
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority converts a priority value. Empty input defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// AlertWindow is how close to its deadline a task must be before the
// deadline alert becomes due.
const AlertWindow = time.Hour

// Assignee is the member projection embedded in a task record.
type Assignee struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Task is a unit of assigned work.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Deadline    time.Time `json:"deadline"`
	AssignedTo  *Assignee `json:"assigned_to"`
	AlertSent   bool      `json:"alert_sent"`
	CreatedAt   time.Time `json:"created_at"`
}

// Overdue reports whether the task is past its deadline and not completed.
// It is derived on every call and never stored.
func (t Task) Overdue(now time.Time) bool {
	return t.Status != StatusCompleted && t.Deadline.Before(now)
}

// AlertEligible reports whether a deadline alert is due for the task and has
// not yet been dispatched.
func (t Task) AlertEligible(now time.Time) bool {
	return t.Status != StatusCompleted && !t.AlertSent && t.Deadline.Sub(now) <= AlertWindow
}

// AssigneeName returns the assignee's name or an empty string.
func (t Task) AssigneeName() string {
	if t.AssignedTo == nil {
		return ""
	}
	return t.AssignedTo.Name
}

// NewTask is the payload persisted when a task is created.
type NewTask struct {
	Title       string
	Description string
	Priority    Priority
	Status      Status
	Deadline    time.Time
	AssigneeID  int64
	AlertSent   bool
}
