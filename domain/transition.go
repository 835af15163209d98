package domain

import "strings"

// Action is a guided list-view transition.
type Action string

const (
	ActionStart Action = "start"
	ActionDone  Action = "done"
)

// AvailableActions returns the guided actions offered for a status.
// Start is offered only for pending tasks and Done only for tasks in progress.
func AvailableActions(s Status) []Action {
	switch s {
	case StatusPending:
		return []Action{ActionStart}
	case StatusInProgress:
		return []Action{ActionDone}
	}
	return nil
}

// GuidedTransition resolves a list-view action against the current status.
// Guided actions only move forward one step.
func GuidedTransition(from Status, a Action) (Status, error) {
	switch {
	case a == ActionStart && from == StatusPending:
		return StatusInProgress, nil
	case a == ActionDone && from == StatusInProgress:
		return StatusCompleted, nil
	}
	return from, &ValidationError{Field: "action", Reason: "action " + string(a) + " is not available for status " + from.Label()}
}

// LaneTransition resolves a kanban drop target to the status it represents.
// Any status may be set by dropping into its lane regardless of the current
// status; ok is false when the lane is not one of the three board lanes.
func LaneTransition(lane string) (Status, bool) {
	s, err := ParseStatus(lane)
	if err != nil {
		return StatusUnknown, false
	}
	return s, true
}

// Filter selects tasks in the list projection.
type Filter string

const (
	FilterAll        Filter = "All"
	FilterPending    Filter = "Pending"
	FilterInProgress Filter = "In Progress"
	FilterCompleted  Filter = "Completed"
)

// Filters lists the list-view categories in display order.
var Filters = []Filter{FilterAll, FilterPending, FilterInProgress, FilterCompleted}

// ParseFilter accepts filter labels or raw status values. Empty input means
// all tasks.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "pending":
		return FilterPending, nil
	case "in progress", "in_progress":
		return FilterInProgress, nil
	case "completed":
		return FilterCompleted, nil
	}
	return FilterAll, &ValidationError{Field: "filter", Reason: "unknown filter " + s}
}

// Match reports whether a task belongs to the filter's category.
func (f Filter) Match(t Task) bool {
	switch f {
	case FilterPending:
		return t.Status == StatusPending
	case FilterInProgress:
		return t.Status == StatusInProgress
	case FilterCompleted:
		return t.Status == StatusCompleted
	}
	return true
}
