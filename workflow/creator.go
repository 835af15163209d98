package workflow

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/messaging"
)

// Store persists new records.
type Store interface {
	CreateTask(ctx context.Context, t domain.NewTask) (domain.Task, error)
	CreateMember(ctx context.Context, m domain.NewMember) (domain.Member, error)
	ListMembers(ctx context.Context) ([]domain.Member, error)
}

// Board is the cache refreshed after a successful write.
type Board interface {
	Refresh(ctx context.Context) error
	Member(id int64) (domain.Member, bool)
}

// Creator runs the task creation and member onboarding workflows.
type Creator struct {
	store     Store
	board     Board
	messenger messaging.Messenger
	loc       *time.Location
	log       *log.Logger

	mu      sync.Mutex
	observe func(domain.Task, messaging.Result)
}

// NewCreator wires a Creator. board and messenger may be nil.
func NewCreator(store Store, board Board, messenger messaging.Messenger, loc *time.Location, logger *log.Logger) *Creator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Creator{store: store, board: board, messenger: messenger, loc: loc, log: logger}
}

// OnDispatch registers a callback that receives the outcome of every
// assignment message. It may be called while creations are running.
func (c *Creator) OnDispatch(fn func(domain.Task, messaging.Result)) {
	c.mu.Lock()
	c.observe = fn
	c.mu.Unlock()
}

// Create validates the form, persists the task and then sends the
// assignment message once. A failed or skipped message never fails the
// creation and is never retried.
func (c *Creator) Create(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	nt, err := in.Validate(c.loc)
	if err != nil {
		return domain.Task{}, err
	}

	task, err := c.store.CreateTask(ctx, nt)
	if err != nil {
		c.log.WithError(err).WithField("title", nt.Title).Warn("workflow.create: persist failed")
		return domain.Task{}, err
	}
	entry := c.log.WithFields(log.Fields{"task": task.ID, "assignee": nt.AssigneeID})
	entry.Info("workflow.create: task persisted")

	phone := c.assigneePhone(ctx, nt.AssigneeID)
	body := messaging.AssignmentMessage(nt.Title, nt.Description, in.Date, in.Time)
	res := messaging.Dispatch(ctx, c.messenger, phone, body)
	switch res.Outcome {
	case messaging.OutcomeSent:
		entry.WithField("to", res.To).Info("workflow.dispatch: assignment message sent")
	case messaging.OutcomeFailed:
		entry.WithError(res.Err).WithField("to", res.To).Warn("workflow.dispatch: assignment message failed")
	default:
		entry.WithField("reason", res.Reason).Info("workflow.dispatch: assignment message skipped")
	}
	c.mu.Lock()
	observe := c.observe
	c.mu.Unlock()
	if observe != nil {
		observe(task, res)
	}

	c.refresh(ctx)
	return task, nil
}

// AddMember validates and persists a new team member.
func (c *Creator) AddMember(ctx context.Context, in domain.MemberInput) (domain.Member, error) {
	nm, err := in.Validate()
	if err != nil {
		return domain.Member{}, err
	}
	m, err := c.store.CreateMember(ctx, nm)
	if err != nil {
		c.log.WithError(err).Warn("workflow.member: persist failed")
		return domain.Member{}, err
	}
	c.log.WithField("member", m.ID).Info("workflow.member: member added")
	c.refresh(ctx)
	return m, nil
}

func (c *Creator) assigneePhone(ctx context.Context, id int64) string {
	if c.board != nil {
		if m, ok := c.board.Member(id); ok {
			return m.Phone
		}
	}
	members, err := c.store.ListMembers(ctx)
	if err != nil {
		c.log.WithError(err).WithField("assignee", id).Warn("workflow.dispatch: member lookup failed")
		return ""
	}
	for _, m := range members {
		if m.ID == id {
			return m.Phone
		}
	}
	return ""
}

func (c *Creator) refresh(ctx context.Context) {
	if c.board == nil {
		return
	}
	if err := c.board.Refresh(ctx); err != nil {
		c.log.WithError(err).Warn("workflow: board refresh failed")
	}
}
