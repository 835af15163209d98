package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// Store lists task records.
type Store interface {
	ListTasks(ctx context.Context, q storage.TaskQuery) ([]domain.Task, error)
}

// Feed is the audit view of deadline alerts that have already been sent.
// Reading it never sends or re-triggers an alert.
type Feed struct {
	store Store
	log   *log.Logger
	now   func() time.Time

	mu        sync.Mutex
	tasks     []domain.Task
	loading   int
	updatedAt time.Time
}

// NewFeed creates an empty feed.
func NewFeed(store Store, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Feed{store: store, log: logger, now: time.Now}
}

// Refresh replaces the snapshot with the alerted tasks, latest deadline
// first. On failure the previous snapshot is kept.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.loading++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.loading--
		f.mu.Unlock()
	}()

	fetched, err := f.store.ListTasks(ctx, storage.TaskQuery{AlertSentOnly: true})
	if err != nil {
		f.log.WithError(err).Warn("alerts.refresh: fetch failed")
		return err
	}

	tasks := make([]domain.Task, 0, len(fetched))
	for _, t := range fetched {
		if t.AlertSent {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].Deadline.Equal(tasks[j].Deadline) {
			return tasks[i].Deadline.After(tasks[j].Deadline)
		}
		return tasks[i].ID > tasks[j].ID
	})

	f.mu.Lock()
	f.tasks = tasks
	f.updatedAt = f.now()
	f.mu.Unlock()
	f.log.WithField("alerts", len(tasks)).Debug("alerts.refresh: applied")
	return nil
}

// Notifications returns a copy of the current snapshot.
func (f *Feed) Notifications() []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Task{}, f.tasks...)
}

// Loading reports whether a refresh is in flight.
func (f *Feed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading > 0
}

// UpdatedAt is when the snapshot was last replaced. It is zero before the
// first successful refresh.
func (f *Feed) UpdatedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updatedAt
}
