package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fieldcheck/backend/internal/models"
	"github.com/fieldcheck/backend/internal/netmon"
	syncengine "github.com/fieldcheck/backend/internal/sync"
	"github.com/fieldcheck/backend/internal/sync/conflict"
)

// fakeSyncer counts cycles.
type fakeSyncer struct {
	mu    sync.Mutex
	syncs int
}

func (f *fakeSyncer) Sync(ctx context.Context) (*syncengine.SyncResult, error) {
	f.mu.Lock()
	f.syncs++
	f.mu.Unlock()
	return &syncengine.SyncResult{Success: true, Timestamp: time.Now()}, nil
}

func (f *fakeSyncer) RetryFailed(ctx context.Context) (*syncengine.SyncResult, error) {
	return &syncengine.SyncResult{Success: true, Timestamp: time.Now()}, nil
}

func (f *fakeSyncer) State() (*models.SyncState, error)     { return &models.SyncState{}, nil }
func (f *fakeSyncer) Resolver() *conflict.Resolver          { return nil }
func (f *fakeSyncer) OnProgress(fn syncengine.ProgressFunc) {}
func (f *fakeSyncer) OnError(fn syncengine.ErrorFunc)       {}
func (f *fakeSyncer) OnConflict(fn syncengine.ConflictFunc) {}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTriggerRunsEngine(t *testing.T) {
	engine := &fakeSyncer{}
	s := New(engine, netmon.NewManual(true), time.Hour)

	result, err := s.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !result.Success {
		t.Error("cycle should succeed")
	}
	if engine.count() != 1 {
		t.Errorf("syncs = %d, want 1", engine.count())
	}
	if s.LastRunAt().IsZero() {
		t.Error("lastRunAt should be stamped")
	}
	if s.Status() != StatusStopped {
		t.Errorf("status = %s, unregistered scheduler settles to stopped", s.Status())
	}
}

func TestStartRunsImmediatelyThenPeriodically(t *testing.T) {
	engine := &fakeSyncer{}
	mon := netmon.NewManual(true)
	defer mon.Close()
	s := New(engine, mon, 20*time.Millisecond)

	s.Start(context.Background())
	defer s.Stop()

	if !s.IsRegistered() {
		t.Fatal("scheduler should be registered after Start")
	}
	waitFor(t, "initial cycle", func() bool { return engine.count() >= 1 })
	waitFor(t, "periodic cycle", func() bool { return engine.count() >= 3 })
}

func TestReconnectTriggersCycle(t *testing.T) {
	engine := &fakeSyncer{}
	mon := netmon.NewManual(false)
	defer mon.Close()
	s := New(engine, mon, time.Hour)

	s.Start(context.Background())
	defer s.Stop()

	// The registration cycle runs regardless of connectivity; the engine
	// no-ops while offline.
	waitFor(t, "initial cycle", func() bool { return engine.count() >= 1 })
	before := engine.count()

	mon.SetOnline(true)
	waitFor(t, "reconnect cycle", func() bool { return engine.count() > before })
}

func TestStopIsGracefulAndIdempotent(t *testing.T) {
	engine := &fakeSyncer{}
	mon := netmon.NewManual(true)
	defer mon.Close()
	s := New(engine, mon, 10*time.Millisecond)

	s.Start(context.Background())
	waitFor(t, "initial cycle", func() bool { return engine.count() >= 1 })

	s.Stop()
	if s.IsRegistered() {
		t.Error("scheduler should be unregistered after Stop")
	}
	if s.Status() != StatusStopped {
		t.Errorf("status = %s, want stopped", s.Status())
	}

	count := engine.count()
	time.Sleep(50 * time.Millisecond)
	if engine.count() != count {
		t.Error("cycles kept running after Stop")
	}

	s.Stop() // second Stop is a no-op

	// The scheduler restarts cleanly.
	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, "cycle after restart", func() bool { return engine.count() > count })
}

func TestStartTwiceKeepsOneSetOfLoops(t *testing.T) {
	engine := &fakeSyncer{}
	mon := netmon.NewManual(true)
	defer mon.Close()
	s := New(engine, mon, time.Hour)

	s.Start(context.Background())
	defer s.Stop()
	s.Start(context.Background())

	waitFor(t, "initial cycle", func() bool { return engine.count() >= 1 })
	time.Sleep(30 * time.Millisecond)
	if engine.count() != 1 {
		t.Errorf("syncs = %d, double Start must not double the loops", engine.count())
	}
}
