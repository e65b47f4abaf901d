// Package scheduler evaluates schedule triggers against the wall clock and
// fires matching handlers. It runs as a background goroutine inside funcd,
// waking every 5 seconds.
//
// Cron matching supports the literal subset only: each of the 5 fields is
// "*" or an integer equal to the current clock component. A per-(function,
// expression) guard suppresses re-fires within 50 seconds, bounding each
// expression to at most two fires per minute even across tick drift.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/funcd-io/funcd/internal/domain"
	"github.com/funcd-io/funcd/internal/registry"
)

const (
	// tickInterval is how often schedules are evaluated.
	tickInterval = 5 * time.Second
	// refireGuard suppresses a second fire of the same (function, cron)
	// key within this window.
	refireGuard = 50 * time.Second
)

// Dispatcher runs one scheduled invocation. Implemented by the executor.
type Dispatcher interface {
	ExecuteSchedule(ctx context.Context, fn *domain.Function, cron string)
}

// Scheduler is the cron evaluation loop.
type Scheduler struct {
	registry   *registry.Registry
	dispatcher Dispatcher

	mu        sync.Mutex
	lastFired map[string]time.Time // "(name)|(cron)" -> last fire time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler over the registry.
func New(reg *registry.Registry, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		registry:   reg,
		dispatcher: dispatcher,
		lastFired:  make(map[string]time.Time),
	}
}

// Start begins the background scheduler goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx, time.Now())
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Tick evaluates every schedule trigger against now and fires matches.
// Exported for tests; the background loop calls it on each tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, fn := range s.registry.List() {
		if fn.RunOnce && fn.Completed() {
			continue
		}
		for _, t := range fn.TriggersOf(domain.TriggerSchedule) {
			if t.Cron == "" {
				continue
			}
			matched, err := cronMatches(t.Cron, now)
			if err != nil {
				slog.Warn("scheduler: invalid cron expression", "function", fn.Name, "cron", t.Cron, "error", err)
				continue
			}
			if !matched || !s.shouldFire(fn.Name, t.Cron, now) {
				continue
			}
			slog.Info("scheduler: firing", "function", fn.Name, "cron", t.Cron)
			s.dispatcher.ExecuteSchedule(ctx, fn, t.Cron)
		}
	}
}

// shouldFire applies the 50-second re-fire guard per (function, cron) key
// and records the fire time when allowed.
func (s *Scheduler) shouldFire(name, cron string, now time.Time) bool {
	key := name + "|" + cron
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastFired[key]; ok && now.Sub(last) < refireGuard {
		return false
	}
	s.lastFired[key] = now
	return true
}
