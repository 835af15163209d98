package alerts

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the feed is refreshed.
const DefaultPollInterval = 60 * time.Second

// Refresher is anything that can be refreshed periodically.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Poller refreshes a target immediately and then on every interval until
// stopped.
type Poller struct {
	target   Refresher
	interval time.Duration
	log      *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a stopped poller. A non-positive interval means
// DefaultPollInterval.
func NewPoller(target Refresher, interval time.Duration, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Poller{target: target, interval: interval, log: logger}
}

// Start launches the poll loop. It does nothing if the loop is already
// running. The loop ends when ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.loop(loopCtx, done)
}

// Stop cancels the loop and waits for it to exit. No refresh starts after
// Stop returns. It is safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Restart stops the loop if it is running and starts it again.
func (p *Poller) Restart(ctx context.Context) {
	p.Stop()
	p.Start(ctx)
}

// Running reports whether the loop has been started and not stopped.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)
	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	if err := p.target.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.log.WithError(err).Error("alerts.poll: refresh failed")
	}
}
