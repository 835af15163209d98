package board

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/storage"
)

type stubStore struct {
	listTasksFn   func(ctx context.Context, q storage.TaskQuery) ([]domain.Task, error)
	listMembersFn func(ctx context.Context) ([]domain.Member, error)
	updateFn      func(ctx context.Context, id int64, s domain.Status) error

	mu      sync.Mutex
	updates []domain.Status
}

func (s *stubStore) ListTasks(ctx context.Context, q storage.TaskQuery) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, q)
}

func (s *stubStore) ListMembers(ctx context.Context) ([]domain.Member, error) {
	if s.listMembersFn == nil {
		return nil, nil
	}
	return s.listMembersFn(ctx)
}

func (s *stubStore) UpdateTaskStatus(ctx context.Context, id int64, st domain.Status) error {
	s.mu.Lock()
	s.updates = append(s.updates, st)
	s.mu.Unlock()
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, id, st)
}

func (s *stubStore) updateLog() []domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Status(nil), s.updates...)
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBoard(t *testing.T, store Store) (*Board, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	b := New(store, logger)
	b.now = func() time.Time { return testNow }
	return b, hook
}

func fixedTasks(tasks ...domain.Task) func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
	return func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
		return append([]domain.Task(nil), tasks...), nil
	}
}

func mustRefresh(t *testing.T, b *Board) {
	t.Helper()
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func statusOf(t *testing.T, b *Board, id int64) domain.Status {
	t.Helper()
	task, ok := b.Task(id)
	if !ok {
		t.Fatalf("task %d not cached", id)
	}
	return task.Status
}

func TestRefreshPopulatesProjections(t *testing.T) {
	store := &stubStore{
		listTasksFn: fixedTasks(
			domain.Task{ID: 3, Status: domain.StatusPending, Deadline: testNow.Add(-time.Hour)},
			domain.Task{ID: 2, Status: domain.StatusInProgress, Deadline: testNow.Add(time.Hour)},
			domain.Task{ID: 1, Status: domain.StatusCompleted, Deadline: testNow.Add(-time.Hour)},
			domain.Task{ID: 4, Status: domain.StatusUnknown, Deadline: testNow.Add(time.Hour)},
		),
		listMembersFn: func(context.Context) ([]domain.Member, error) {
			return []domain.Member{{ID: 7, Name: "Asha"}}, nil
		},
	}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	if all := b.List(domain.FilterAll); len(all) != 4 || all[0].ID != 3 {
		t.Fatalf("unexpected list %#v", all)
	}
	pending := b.List(domain.FilterPending)
	if len(pending) != 1 || !pending[0].Overdue || !reflect.DeepEqual(pending[0].Actions, []domain.Action{domain.ActionStart}) {
		t.Fatalf("unexpected pending view %#v", pending)
	}
	if done := b.List(domain.FilterCompleted); len(done) != 1 || done[0].Overdue || len(done[0].Actions) != 0 {
		t.Fatalf("completed task must not be overdue or actionable: %#v", done)
	}

	lanes := b.Kanban()
	if len(lanes) != 3 {
		t.Fatalf("expected 3 lanes, got %d", len(lanes))
	}
	for i, s := range domain.Statuses {
		if lanes[i].Status != s || lanes[i].Count != 1 || len(lanes[i].Tasks) != 1 {
			t.Fatalf("unexpected lane %d: %#v", i, lanes[i])
		}
	}
	if m, ok := b.Member(7); !ok || m.Name != "Asha" {
		t.Fatalf("expected cached member, got %#v", m)
	}
}

func TestOverdueFollowsClock(t *testing.T) {
	deadline := testNow.Add(time.Minute)
	b, _ := newTestBoard(t, &stubStore{listTasksFn: fixedTasks(domain.Task{ID: 1, Status: domain.StatusPending, Deadline: deadline})})
	mustRefresh(t, b)

	if b.List(domain.FilterAll)[0].Overdue {
		t.Fatalf("task must not be overdue before its deadline")
	}
	b.now = func() time.Time { return deadline.Add(time.Second) }
	if !b.List(domain.FilterAll)[0].Overdue {
		t.Fatalf("task must become overdue once the clock passes the deadline")
	}
}

func TestDropIntoEveryLane(t *testing.T) {
	for _, prior := range domain.Statuses {
		for _, lane := range domain.Statuses {
			store := &stubStore{listTasksFn: fixedTasks(domain.Task{ID: 9, Status: prior})}
			b, _ := newTestBoard(t, store)
			mustRefresh(t, b)

			ok, err := b.Drop(context.Background(), "9", string(lane))
			if err != nil || !ok {
				t.Fatalf("drop %s->%s: ok=%v err=%v", prior, lane, ok, err)
			}
			if got := statusOf(t, b, 9); got != lane {
				t.Fatalf("drop %s->%s: status %s", prior, lane, got)
			}
			if updates := store.updateLog(); len(updates) != 1 || updates[0] != lane {
				t.Fatalf("drop %s->%s: unexpected store writes %v", prior, lane, updates)
			}
		}
	}
}

func TestDropIgnoresInvalidInput(t *testing.T) {
	store := &stubStore{listTasksFn: fixedTasks(domain.Task{ID: 9, Status: domain.StatusPending})}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	for _, tc := range []struct{ payload, lane string }{
		{"", "completed"},
		{"abc", "completed"},
		{"-1", "completed"},
		{"9", "archive"},
		{"10", "completed"},
	} {
		ok, err := b.Drop(context.Background(), tc.payload, tc.lane)
		if ok || err != nil {
			t.Fatalf("drop %q into %q: expected ignored, got ok=%v err=%v", tc.payload, tc.lane, ok, err)
		}
	}
	if updates := store.updateLog(); len(updates) != 0 {
		t.Fatalf("expected no store writes, got %v", updates)
	}
	if got := statusOf(t, b, 9); got != domain.StatusPending {
		t.Fatalf("status changed to %s", got)
	}
}

func TestGuidedActions(t *testing.T) {
	store := &stubStore{listTasksFn: fixedTasks(
		domain.Task{ID: 1, Status: domain.StatusPending},
		domain.Task{ID: 2, Status: domain.StatusCompleted},
	)}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)
	ctx := context.Background()

	if err := b.Done(ctx, 1); !domain.IsValidation(err) {
		t.Fatalf("done on pending: expected validation error, got %v", err)
	}
	if err := b.Start(ctx, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := statusOf(t, b, 1); got != domain.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got)
	}
	if err := b.Done(ctx, 1); err != nil {
		t.Fatalf("done: %v", err)
	}
	if got := statusOf(t, b, 1); got != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if err := b.Start(ctx, 2); !domain.IsValidation(err) {
		t.Fatalf("start on completed: expected validation error, got %v", err)
	}
	if err := b.Start(ctx, 99); !domain.IsValidation(err) {
		t.Fatalf("start on unknown task: expected validation error, got %v", err)
	}
	if updates := store.updateLog(); !reflect.DeepEqual(updates, []domain.Status{domain.StatusInProgress, domain.StatusCompleted}) {
		t.Fatalf("unexpected store writes %v", updates)
	}
}

func TestTransitionValidation(t *testing.T) {
	store := &stubStore{listTasksFn: fixedTasks(domain.Task{ID: 1, Status: domain.StatusPending})}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	if err := b.Transition(context.Background(), 1, domain.Status("archived")); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for bad status, got %v", err)
	}
	if err := b.Transition(context.Background(), 42, domain.StatusCompleted); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown id, got %v", err)
	}
	if len(store.updateLog()) != 0 {
		t.Fatalf("validation failures must not reach the store")
	}
}

func TestRapidTransitionsLastIntentWins(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &stubStore{
		listTasksFn: fixedTasks(domain.Task{ID: 1, Status: domain.StatusPending}),
		updateFn: func(ctx context.Context, id int64, s domain.Status) error {
			if s == domain.StatusInProgress {
				close(entered)
				<-release
			}
			return nil
		},
	}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)
	ctx := context.Background()

	errA := make(chan error, 1)
	go func() { errA <- b.Transition(ctx, 1, domain.StatusInProgress) }()
	<-entered

	errB := make(chan error, 1)
	go func() { errB <- b.Transition(ctx, 1, domain.StatusCompleted) }()

	deadline := time.After(time.Second)
	for statusOf(t, b, 1) != domain.StatusCompleted {
		select {
		case <-deadline:
			t.Fatalf("optimistic status not applied, got %s", statusOf(t, b, 1))
		case <-time.After(time.Millisecond):
		}
	}

	close(release)
	if err := <-errA; err != nil {
		t.Fatalf("transition A: %v", err)
	}
	if err := <-errB; err != nil {
		t.Fatalf("transition B: %v", err)
	}
	if got := statusOf(t, b, 1); got != domain.StatusCompleted {
		t.Fatalf("expected completed after both confirmations, got %s", got)
	}
	if updates := store.updateLog(); !reflect.DeepEqual(updates, []domain.Status{domain.StatusInProgress, domain.StatusCompleted}) {
		t.Fatalf("writes must reach the store in intent order, got %v", updates)
	}
}

func TestStaleConfirmationDoesNotOverwriteNewerIntent(t *testing.T) {
	enteredA, releaseA := make(chan struct{}), make(chan struct{})
	enteredB, releaseB := make(chan struct{}), make(chan struct{})
	store := &stubStore{
		listTasksFn: fixedTasks(domain.Task{ID: 1, Status: domain.StatusPending}),
		updateFn: func(ctx context.Context, id int64, s domain.Status) error {
			if s == domain.StatusInProgress {
				close(enteredA)
				<-releaseA
			} else {
				close(enteredB)
				<-releaseB
			}
			return nil
		},
	}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	errA := make(chan error, 1)
	go func() { errA <- b.Transition(context.Background(), 1, domain.StatusInProgress) }()
	<-enteredA

	errB := make(chan error, 1)
	go func() { errB <- b.Transition(context.Background(), 1, domain.StatusCompleted) }()
	for statusOf(t, b, 1) != domain.StatusCompleted {
		time.Sleep(time.Millisecond)
	}

	close(releaseA)
	if err := <-errA; err != nil {
		t.Fatalf("transition A: %v", err)
	}
	<-enteredB
	if got := statusOf(t, b, 1); got != domain.StatusCompleted {
		t.Fatalf("older confirmation overwrote newer intent: %s", got)
	}

	close(releaseB)
	if err := <-errB; err != nil {
		t.Fatalf("transition B: %v", err)
	}
	if got := statusOf(t, b, 1); got != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
}

func TestCancelledTransitionLeavesEarlierWrite(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	remote := domain.StatusPending
	store := &stubStore{
		listTasksFn: func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
			mu.Lock()
			defer mu.Unlock()
			return []domain.Task{{ID: 1, Status: remote}}, nil
		},
		updateFn: func(ctx context.Context, id int64, s domain.Status) error {
			close(entered)
			<-release
			mu.Lock()
			remote = s
			mu.Unlock()
			return nil
		},
	}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	errA := make(chan error, 1)
	go func() { errA <- b.Transition(context.Background(), 1, domain.StatusInProgress) }()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Transition(ctx, 1, domain.StatusCompleted); !domain.IsNetwork(err) {
		t.Fatalf("expected cancelled transition to fail, got %v", err)
	}

	close(release)
	if err := <-errA; err != nil {
		t.Fatalf("transition A: %v", err)
	}
	b.Wait()
	if got := statusOf(t, b, 1); got != domain.StatusInProgress {
		t.Fatalf("expected the landed write to show, got %s", got)
	}
	if updates := store.updateLog(); !reflect.DeepEqual(updates, []domain.Status{domain.StatusInProgress}) {
		t.Fatalf("cancelled write must not reach the store, got %v", updates)
	}
}

func TestRejectedTransitionReconcilesWithStore(t *testing.T) {
	var mu sync.Mutex
	remote := domain.StatusInProgress
	store := &stubStore{
		listTasksFn: func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
			mu.Lock()
			defer mu.Unlock()
			return []domain.Task{{ID: 1, Status: remote}}, nil
		},
		updateFn: func(ctx context.Context, id int64, s domain.Status) error {
			return &domain.RejectedUpdate{Op: "update task status", StatusCode: 403}
		},
	}
	b, hook := newTestBoard(t, store)
	mustRefresh(t, b)

	mu.Lock()
	remote = domain.StatusCompleted
	mu.Unlock()

	err := b.Transition(context.Background(), 1, domain.StatusPending)
	if !domain.IsRejected(err) {
		t.Fatalf("expected rejected update, got %v", err)
	}
	b.Wait()
	if got := statusOf(t, b, 1); got != domain.StatusCompleted {
		t.Fatalf("expected remote status after reconciliation, got %s", got)
	}

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Message == "task.transition: failed" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning for the failed transition")
	}
}

func TestFailedTransitionRevertsToConfirmed(t *testing.T) {
	store := &stubStore{
		listTasksFn: func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
			return nil, &domain.NetworkError{Op: "list tasks", Err: errors.New("offline")}
		},
		updateFn: func(ctx context.Context, id int64, s domain.Status) error {
			return &domain.NetworkError{Op: "update task status", Err: errors.New("offline")}
		},
	}
	b, _ := newTestBoard(t, store)
	b.mu.Lock()
	b.applyLocked(1, []domain.Task{{ID: 1, Status: domain.StatusPending}}, nil)
	b.mu.Unlock()

	if err := b.Transition(context.Background(), 1, domain.StatusCompleted); !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	b.Wait()
	if got := statusOf(t, b, 1); got != domain.StatusPending {
		t.Fatalf("expected revert to pending, got %s", got)
	}
}

func TestOverlappingRefreshesKeepOneSnapshot(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	snapshotA := []domain.Task{{ID: 1, Title: "a", Status: domain.StatusPending}}
	snapshotB := []domain.Task{{ID: 2, Title: "b", Status: domain.StatusCompleted}, {ID: 1, Title: "a", Status: domain.StatusInProgress}}

	store := &stubStore{listTasksFn: func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(firstEntered)
			<-releaseFirst
			return append([]domain.Task(nil), snapshotA...), nil
		}
		return append([]domain.Task(nil), snapshotB...), nil
	}}
	b, _ := newTestBoard(t, store)

	firstErr := make(chan error, 1)
	go func() { firstErr <- b.Refresh(context.Background()) }()
	<-firstEntered
	if !b.Loading() {
		t.Fatalf("expected loading while a refresh is in flight")
	}

	mustRefresh(t, b)
	close(releaseFirst)
	if err := <-firstErr; err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	if got := b.Tasks(); !reflect.DeepEqual(got, snapshotB) {
		t.Fatalf("cache must equal the newest snapshot, got %#v", got)
	}
	if b.Loading() {
		t.Fatalf("loading flag must clear after all refreshes finish")
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	fail := false
	store := &stubStore{listTasksFn: func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
		if fail {
			return nil, &domain.NetworkError{Op: "list tasks", Err: errors.New("timeout")}
		}
		return []domain.Task{{ID: 1, Status: domain.StatusPending}}, nil
	}}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	fail = true
	if err := b.Refresh(context.Background()); !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if len(b.Tasks()) != 1 {
		t.Fatalf("failed refresh must keep the previous cache")
	}
	if b.Loading() {
		t.Fatalf("loading flag must clear after a failed refresh")
	}
}

func TestAlertSentLatch(t *testing.T) {
	alert := true
	store := &stubStore{listTasksFn: func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
		return []domain.Task{{ID: 5, Status: domain.StatusPending, AlertSent: alert}}, nil
	}}
	b, hook := newTestBoard(t, store)
	mustRefresh(t, b)

	alert = false
	mustRefresh(t, b)
	task, _ := b.Task(5)
	if !task.AlertSent {
		t.Fatalf("alert_sent must not revert to false")
	}
	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Data["task"] == int64(5) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning about the reverted alert flag")
	}
}

func TestAlertSentLatchForgetsDeletedTasks(t *testing.T) {
	tasks := []domain.Task{
		{ID: 5, Status: domain.StatusPending, AlertSent: true},
		{ID: 6, Status: domain.StatusPending, AlertSent: true},
	}
	store := &stubStore{listTasksFn: func(context.Context, storage.TaskQuery) ([]domain.Task, error) {
		return append([]domain.Task(nil), tasks...), nil
	}}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	tasks = tasks[:1]
	mustRefresh(t, b)
	b.mu.Lock()
	_, kept := b.alerted[5]
	_, stale := b.alerted[6]
	b.mu.Unlock()
	if !kept || stale {
		t.Fatalf("expected latch for 5 only, kept=%v stale=%v", kept, stale)
	}

	// A record that reappears is latched from what the store reports.
	tasks = append(tasks, domain.Task{ID: 6, Status: domain.StatusPending})
	mustRefresh(t, b)
	if task, _ := b.Task(6); task.AlertSent {
		t.Fatalf("a forgotten task must not inherit the old latch")
	}
}

func TestRefreshKeepsOptimisticStatusWhileInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &stubStore{
		listTasksFn: fixedTasks(domain.Task{ID: 1, Status: domain.StatusPending}),
		updateFn: func(ctx context.Context, id int64, s domain.Status) error {
			close(entered)
			<-release
			return nil
		},
	}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	errc := make(chan error, 1)
	go func() { errc <- b.Transition(context.Background(), 1, domain.StatusCompleted) }()
	<-entered

	mustRefresh(t, b)
	if got := statusOf(t, b, 1); got != domain.StatusCompleted {
		t.Fatalf("refresh overwrote in-flight optimistic status: %s", got)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("transition: %v", err)
	}
}

func TestDashboard(t *testing.T) {
	var tasks []domain.Task
	for i := 10; i >= 1; i-- {
		st := domain.Statuses[i%3]
		tasks = append(tasks, domain.Task{ID: int64(i), Status: st, Deadline: testNow.Add(-time.Duration(i) * time.Hour)})
	}
	store := &stubStore{
		listTasksFn: fixedTasks(tasks...),
		listMembersFn: func(context.Context) ([]domain.Member, error) {
			return []domain.Member{{ID: 1}, {ID: 2}}, nil
		},
	}
	b, _ := newTestBoard(t, store)
	mustRefresh(t, b)

	st := b.Dashboard()
	if st.Total != 10 || st.TeamSize != 2 {
		t.Fatalf("unexpected totals %#v", st)
	}
	if st.Pending+st.InProgress+st.Completed != 10 {
		t.Fatalf("status counts must add up: %#v", st)
	}
	if st.Overdue != st.Pending+st.InProgress {
		t.Fatalf("every open task is past its deadline, got overdue=%d", st.Overdue)
	}
	if len(st.Recent) != RecentTasks || st.Recent[0].ID != 10 {
		t.Fatalf("unexpected recent tasks %#v", st.Recent)
	}
}

func TestSubscribersAreNotified(t *testing.T) {
	b, _ := newTestBoard(t, &stubStore{listTasksFn: fixedTasks()})
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	mustRefresh(t, b)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected change notification")
	}
}
