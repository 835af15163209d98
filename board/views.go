package board

import (
	"taskboard/domain"
)

// RecentTasks is how many of the newest tasks the dashboard shows.
const RecentTasks = 8

// TaskView is a task as shown in a projection. Overdue is computed when the
// view is built.
type TaskView struct {
	domain.Task
	StatusLabel string          `json:"statusLabel"`
	Overdue     bool            `json:"overdue"`
	Actions     []domain.Action `json:"actions"`
}

// Lane is one kanban column.
type Lane struct {
	Status domain.Status `json:"status"`
	Label  string        `json:"label"`
	Count  int           `json:"count"`
	Tasks  []TaskView    `json:"tasks"`
}

// Stats summarises the board for the dashboard.
type Stats struct {
	Total      int        `json:"total"`
	Pending    int        `json:"pending"`
	InProgress int        `json:"inProgress"`
	Completed  int        `json:"completed"`
	Overdue    int        `json:"overdue"`
	TeamSize   int        `json:"teamCount"`
	Recent     []TaskView `json:"recentTasks"`
}

func (b *Board) viewLocked(t domain.Task) TaskView {
	actions := domain.AvailableActions(t.Status)
	if actions == nil {
		actions = []domain.Action{}
	}
	return TaskView{
		Task:        t,
		StatusLabel: t.Status.Label(),
		Overdue:     t.Overdue(b.now()),
		Actions:     actions,
	}
}

// List returns the tasks in the filter's category, in store order.
func (b *Board) List(f domain.Filter) []TaskView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []TaskView{}
	for _, t := range b.tasks {
		if f.Match(t) {
			out = append(out, b.viewLocked(t))
		}
	}
	return out
}

// Kanban returns the three lanes in lifecycle order. Tasks with an unknown
// status appear in no lane.
func (b *Board) Kanban() []Lane {
	b.mu.Lock()
	defer b.mu.Unlock()
	lanes := make([]Lane, len(domain.Statuses))
	pos := make(map[domain.Status]int, len(domain.Statuses))
	for i, s := range domain.Statuses {
		lanes[i] = Lane{Status: s, Label: s.Label(), Tasks: []TaskView{}}
		pos[s] = i
	}
	for _, t := range b.tasks {
		i, ok := pos[t.Status]
		if !ok {
			continue
		}
		lanes[i].Tasks = append(lanes[i].Tasks, b.viewLocked(t))
		lanes[i].Count++
	}
	return lanes
}

// Dashboard computes the summary counts and the newest tasks.
func (b *Board) Dashboard() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	st := Stats{Total: len(b.tasks), TeamSize: len(b.members), Recent: []TaskView{}}
	for _, t := range b.tasks {
		switch t.Status {
		case domain.StatusPending:
			st.Pending++
		case domain.StatusInProgress:
			st.InProgress++
		case domain.StatusCompleted:
			st.Completed++
		}
		if t.Overdue(now) {
			st.Overdue++
		}
	}
	for i := 0; i < len(b.tasks) && i < RecentTasks; i++ {
		st.Recent = append(st.Recent, b.viewLocked(b.tasks[i]))
	}
	return st
}
