package storage

import (
	"context"
	"sync/atomic"
	"time"

	"taskboard/domain"
)

// Backend is the record store surface shared by the REST and table backends.
type Backend interface {
	ListTasks(ctx context.Context, q TaskQuery) ([]domain.Task, error)
	ListMembers(ctx context.Context) ([]domain.Member, error)
	CreateTask(ctx context.Context, t domain.NewTask) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, s domain.Status) error
	CreateMember(ctx context.Context, m domain.NewMember) (domain.Member, error)
}

// TaskQuery selects which task records a listing returns.
type TaskQuery struct {
	// AlertSentOnly keeps only tasks whose deadline alert has been dispatched.
	// Results are then ordered by deadline, latest first, instead of by
	// creation time.
	AlertSentOnly bool
}

// Sort returns the store sort expression for the query.
func (q TaskQuery) Sort() string {
	if q.AlertSentOnly {
		return "-deadline"
	}
	return "-date_created"
}

// TaskFields is the field projection requested for task listings.
const TaskFields = "*,assigned_to.name,assigned_to.phone"

// sequence hands out strictly increasing ids derived from the wall clock.
type sequence struct {
	last int64
}

func (s *sequence) next() int64 {
	for {
		now := time.Now().UnixMicro()
		last := atomic.LoadInt64(&s.last)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&s.last, last, now) {
			return now
		}
	}
}
