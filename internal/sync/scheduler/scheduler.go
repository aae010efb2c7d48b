// Package scheduler drives background sync cycles.
//
// The scheduler owns no sync logic: it re-invokes the engine exactly as a
// foreground call would, on a periodic interval and on offline→online
// transitions. Retry pacing stays with the engine and its attempt
// bookkeeping.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcheck/backend/internal/logging"
	"github.com/fieldcheck/backend/internal/netmon"
	syncengine "github.com/fieldcheck/backend/internal/sync"
)

// Status is the scheduler lifecycle state.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

// DefaultInterval is the periodic trigger interval when none is
// configured.
const DefaultInterval = 15 * time.Minute

// Scheduler periodically triggers the sync engine while registered.
type Scheduler struct {
	engine   syncengine.Syncer
	monitor  netmon.Monitor
	interval time.Duration

	mu         sync.Mutex
	registered bool
	lastRunAt  time.Time
	status     Status

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a Scheduler. A non-positive interval gets DefaultInterval.
func New(engine syncengine.Syncer, monitor netmon.Monitor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		engine:   engine,
		monitor:  monitor,
		interval: interval,
		status:   StatusStopped,
	}
}

// IsRegistered reports whether the background loops are running.
func (s *Scheduler) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// LastRunAt returns when the scheduler last triggered a cycle. Zero until
// the first trigger.
func (s *Scheduler) LastRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunAt
}

// Status returns the current lifecycle state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Trigger runs one cycle through the engine. The engine's single-flight
// guard applies unchanged, so a trigger racing a foreground Sync comes
// back with the in-progress result rather than a second cycle.
func (s *Scheduler) Trigger(ctx context.Context) (*syncengine.SyncResult, error) {
	s.setStatus(StatusRunning)
	defer s.settle()

	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.mu.Unlock()

	return s.engine.Sync(ctx)
}

func (s *Scheduler) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// settle returns the status to idle or stopped depending on registration.
func (s *Scheduler) settle() {
	s.mu.Lock()
	if s.registered {
		s.status = StatusIdle
	} else {
		s.status = StatusStopped
	}
	s.mu.Unlock()
}

// Start launches the periodic loop and the reconnect listener. Starting
// an already-registered scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.registered {
		s.mu.Unlock()
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)
	s.cancel = cancel
	s.group = group
	s.registered = true
	s.status = StatusIdle
	s.mu.Unlock()

	group.Go(func() error {
		s.periodicLoop(runCtx)
		return nil
	})
	group.Go(func() error {
		s.reconnectLoop(runCtx)
		return nil
	})

	logging.L().Info("background sync registered",
		zap.Duration("interval", s.interval))
}

// Stop cancels the loops and waits for them. Safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		return
	}
	s.registered = false
	cancel := s.cancel
	group := s.group
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	cancel()
	_ = group.Wait()

	s.setStatus(StatusStopped)
	logging.L().Info("background sync unregistered")
}

// periodicLoop triggers once at registration (to drain anything queued
// while the app was closed) and then on every interval tick.
func (s *Scheduler) periodicLoop(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// reconnectLoop triggers a cycle on every offline→online transition so a
// queue built up in the field uploads as soon as connectivity returns.
func (s *Scheduler) reconnectLoop(ctx context.Context) {
	ch := s.monitor.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			if online {
				logging.L().Info("connectivity restored, triggering sync")
				s.runCycle(ctx)
			}
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	result, err := s.Trigger(ctx)
	if err != nil {
		logging.L().Error("background sync failed", zap.Error(err))
		return
	}
	if !result.Success {
		logging.L().Warn("background sync finished with errors",
			zap.Int("errors", len(result.Errors)))
	}
}
