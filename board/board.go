package board

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// Store is the record store surface the board reads from and writes to.
type Store interface {
	ListTasks(ctx context.Context, q storage.TaskQuery) ([]domain.Task, error)
	ListMembers(ctx context.Context) ([]domain.Member, error)
	UpdateTaskStatus(ctx context.Context, id int64, s domain.Status) error
}

// DefaultResyncTimeout bounds the background refresh started after a failed
// transition.
const DefaultResyncTimeout = 30 * time.Second

// intent tracks the writes issued for one task.
type intent struct {
	// version increases with every requested transition.
	version uint64
	// confirmed is the status the store is known to hold.
	confirmed domain.Status
	// target is the status the newest request asked for.
	target   domain.Status
	inflight int
	// tail is closed once the newest dispatched request has finished.
	tail chan struct{}
	// settledTicket is the newest refresh ticket issued when a write last
	// landed. Fetches with a ticket at or below it may predate the write.
	settledTicket uint64
}

// Board caches tasks and members and applies status transitions
// optimistically. All state is guarded by mu; store calls run outside it.
type Board struct {
	store         Store
	log           *log.Logger
	now           func() time.Time
	resyncTimeout time.Duration
	broker        *broker
	bg            sync.WaitGroup

	mu      sync.Mutex
	tasks   []domain.Task
	index   map[int64]int
	members []domain.Member
	intents map[int64]*intent
	alerted map[int64]struct{}
	loading int
	issued  uint64
	applied uint64
}

// New creates an empty board. Call Refresh to populate it.
func New(store Store, logger *log.Logger) *Board {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Board{
		store:         store,
		log:           logger,
		now:           time.Now,
		resyncTimeout: DefaultResyncTimeout,
		broker:        newBroker(),
		index:         map[int64]int{},
		intents:       map[int64]*intent{},
		alerted:       map[int64]struct{}{},
	}
}

// Refresh refetches tasks and members and replaces the cache in one step.
// When refreshes overlap only the most recently started one that completes
// is kept; an older result arriving late is discarded. On failure the
// cache is left untouched.
func (b *Board) Refresh(ctx context.Context) error {
	b.mu.Lock()
	b.issued++
	ticket := b.issued
	b.loading++
	b.mu.Unlock()
	b.broker.notify()

	defer func() {
		b.mu.Lock()
		b.loading--
		b.mu.Unlock()
		b.broker.notify()
	}()

	var (
		wg        sync.WaitGroup
		tasks     []domain.Task
		members   []domain.Member
		taskErr   error
		memberErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tasks, taskErr = b.store.ListTasks(ctx, storage.TaskQuery{})
	}()
	go func() {
		defer wg.Done()
		members, memberErr = b.store.ListMembers(ctx)
	}()
	wg.Wait()

	if taskErr != nil {
		b.log.WithError(taskErr).Warn("board.refresh: fetch tasks failed")
		return taskErr
	}
	if memberErr != nil {
		b.log.WithError(memberErr).Warn("board.refresh: fetch members failed")
		return memberErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ticket <= b.applied {
		b.log.WithFields(log.Fields{"ticket": ticket, "applied": b.applied}).Debug("board.refresh: discarding stale result")
		return nil
	}
	b.applied = ticket
	b.applyLocked(ticket, tasks, members)
	b.log.WithFields(log.Fields{"tasks": len(b.tasks), "members": len(b.members)}).Debug("board.refresh: applied")
	return nil
}

func (b *Board) applyLocked(ticket uint64, fetched []domain.Task, members []domain.Member) {
	tasks := make([]domain.Task, len(fetched))
	copy(tasks, fetched)
	index := make(map[int64]int, len(tasks))

	for i := range tasks {
		t := &tasks[i]
		index[t.ID] = i

		if _, ok := b.alerted[t.ID]; ok && !t.AlertSent {
			b.log.WithField("task", t.ID).Warn("board.refresh: store reported alert_sent=false for an alerted task, keeping true")
			t.AlertSent = true
		}
		if t.AlertSent {
			b.alerted[t.ID] = struct{}{}
		}

		in, ok := b.intents[t.ID]
		if !ok {
			continue
		}
		switch {
		case in.inflight > 0:
			t.Status = in.target
		case ticket <= in.settledTicket:
			t.Status = in.confirmed
		default:
			in.confirmed = t.Status
			in.target = t.Status
		}
	}

	for id, in := range b.intents {
		if _, ok := index[id]; !ok && in.inflight == 0 {
			delete(b.intents, id)
		}
	}
	for id := range b.alerted {
		if _, ok := index[id]; !ok {
			delete(b.alerted, id)
		}
	}

	b.tasks = tasks
	b.index = index
	b.members = append([]domain.Member(nil), members...)
}

// Transition sets the status of a task. The cache is updated before the
// store is contacted. Writes for the same task reach the store in the order
// they were requested; the newest request decides what the cache shows. If
// the newest request fails the cache reverts to the last confirmed status
// and a background refresh resynchronises it with the store.
func (b *Board) Transition(ctx context.Context, id int64, status domain.Status) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}

	b.mu.Lock()
	idx, ok := b.index[id]
	if !ok {
		b.mu.Unlock()
		return &domain.ValidationError{Field: "id", Reason: "unknown task " + strconv.FormatInt(id, 10)}
	}
	in := b.intents[id]
	if in == nil {
		cur := b.tasks[idx].Status
		in = &intent{confirmed: cur, target: cur}
		b.intents[id] = in
	}
	in.version++
	version := in.version
	in.inflight++
	in.target = status
	prev := in.tail
	done := make(chan struct{})
	in.tail = done
	b.tasks[idx].Status = status
	b.mu.Unlock()
	b.broker.notify()

	entry := b.log.WithFields(log.Fields{"task": id, "status": status, "version": version})
	entry.Debug("task.transition: requested")

	err := b.dispatch(ctx, id, status, prev)
	b.settle(ctx, id, version, status, err)
	release(prev, done)
	if err != nil {
		entry.WithError(err).Warn("task.transition: failed")
		return err
	}
	entry.Debug("task.transition: confirmed")
	return nil
}

// dispatch waits for the previous write on the same task, then sends this
// one.
func (b *Board) dispatch(ctx context.Context, id int64, status domain.Status, prev chan struct{}) error {
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return &domain.NetworkError{Op: "update task status", Err: ctx.Err()}
		}
	}
	if err := ctx.Err(); err != nil {
		return &domain.NetworkError{Op: "update task status", Err: err}
	}
	return b.store.UpdateTaskStatus(ctx, id, status)
}

// release closes done once prev is closed, so the next write in the chain
// never overtakes an earlier one.
func release(prev, done chan struct{}) {
	if prev == nil {
		close(done)
		return
	}
	select {
	case <-prev:
		close(done)
	default:
		go func() {
			<-prev
			close(done)
		}()
	}
}

func (b *Board) settle(ctx context.Context, id int64, version uint64, status domain.Status, err error) {
	b.mu.Lock()
	in := b.intents[id]
	if in == nil {
		b.mu.Unlock()
		return
	}
	in.inflight--
	latest := in.version == version
	resync := false
	if err == nil {
		in.confirmed = status
		in.settledTicket = b.issued
		if latest || in.inflight == 0 {
			in.target = status
			b.setStatusLocked(id, status)
		}
	} else if latest {
		in.target = in.confirmed
		b.setStatusLocked(id, in.confirmed)
		resync = true
	}
	b.mu.Unlock()
	b.broker.notify()

	if resync {
		b.resync(ctx)
	}
}

func (b *Board) setStatusLocked(id int64, status domain.Status) {
	if idx, ok := b.index[id]; ok {
		b.tasks[idx].Status = status
	}
}

func (b *Board) resync(ctx context.Context) {
	b.bg.Add(1)
	go func() {
		defer b.bg.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.resyncTimeout)
		defer cancel()
		if err := b.Refresh(rctx); err != nil {
			b.log.WithError(err).Warn("task.transition: resync failed")
		}
	}()
}

// Wait blocks until background refreshes started by failed transitions
// have finished.
func (b *Board) Wait() {
	b.bg.Wait()
}

// Start advances a pending task to in progress.
func (b *Board) Start(ctx context.Context, id int64) error {
	return b.guided(ctx, id, domain.ActionStart)
}

// Done completes a task that is in progress.
func (b *Board) Done(ctx context.Context, id int64) error {
	return b.guided(ctx, id, domain.ActionDone)
}

func (b *Board) guided(ctx context.Context, id int64, a domain.Action) error {
	t, ok := b.Task(id)
	if !ok {
		return &domain.ValidationError{Field: "id", Reason: "unknown task " + strconv.FormatInt(id, 10)}
	}
	to, err := domain.GuidedTransition(t.Status, a)
	if err != nil {
		return err
	}
	return b.Transition(ctx, id, to)
}

// Drop handles a kanban drop. The payload carries only the task id. An
// unparseable payload, unknown task or unknown lane is ignored and reported
// as not accepted.
func (b *Board) Drop(ctx context.Context, payload, lane string) (bool, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil || id <= 0 {
		return false, nil
	}
	status, ok := domain.LaneTransition(lane)
	if !ok {
		return false, nil
	}
	if _, ok := b.Task(id); !ok {
		return false, nil
	}
	return true, b.Transition(ctx, id, status)
}

// Task returns the cached task with the given id.
func (b *Board) Task(id int64) (domain.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return b.tasks[idx], true
}

// Tasks returns a copy of the cached tasks in store order.
func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Task(nil), b.tasks...)
}

// Members returns a copy of the cached members.
func (b *Board) Members() []domain.Member {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Member(nil), b.members...)
}

// Member looks a member up in the cache.
func (b *Board) Member(id int64) (domain.Member, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.members {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Member{}, false
}

// Loading reports whether any refresh is in flight.
func (b *Board) Loading() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loading > 0
}

// Subscribe returns a channel that receives a signal whenever the board
// changes.
func (b *Board) Subscribe() chan struct{} {
	return b.broker.subscribe()
}

// Unsubscribe stops delivering change signals to ch.
func (b *Board) Unsubscribe(ch chan struct{}) {
	b.broker.unsubscribe(ch)
}
