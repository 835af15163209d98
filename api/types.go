package api

import (
	"context"
	"time"

	"taskboard/board"
	"taskboard/domain"
)

// Board is the task cache the handlers read and write through.
type Board interface {
	Refresh(ctx context.Context) error
	Transition(ctx context.Context, id int64, status domain.Status) error
	Start(ctx context.Context, id int64) error
	Done(ctx context.Context, id int64) error
	Drop(ctx context.Context, payload, lane string) (bool, error)
	List(f domain.Filter) []board.TaskView
	Kanban() []board.Lane
	Dashboard() board.Stats
	Members() []domain.Member
	Loading() bool
	Subscribe() chan struct{}
	Unsubscribe(ch chan struct{})
}

// Feed is the alert audit feed.
type Feed interface {
	Notifications() []domain.Task
	Loading() bool
	UpdatedAt() time.Time
}

// Creator runs the creation workflows.
type Creator interface {
	Create(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	AddMember(ctx context.Context, in domain.MemberInput) (domain.Member, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, scope, key string) error
}
