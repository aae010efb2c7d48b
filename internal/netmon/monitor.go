// Package netmon tracks device connectivity for the sync engine.
//
// The engine never probes the network itself; it asks the monitor before a
// cycle and subscribers (the background scheduler) react to offline→online
// transitions.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fieldcheck/backend/internal/logging"
)

// Monitor exposes the connectivity surface consumed by the sync core.
type Monitor interface {
	// IsOnline returns the last observed connectivity state.
	IsOnline() bool

	// Subscribe returns a channel receiving the new state on every
	// transition. All subscribers receive every transition; slow
	// subscribers drop events rather than block the monitor.
	Subscribe() <-chan bool

	// Close stops the monitor and closes all subscriber channels.
	Close()
}

// ProbeFunc checks reachability of the sync endpoint. It returns nil when
// the endpoint answered.
type ProbeFunc func(ctx context.Context) error

// HTTPProbe probes a health URL with a HEAD request.
func HTTPProbe(url string, client *http.Client) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// probeMonitor polls a ProbeFunc: on a steady interval while online, with
// exponential backoff while offline so a dead network is not hammered.
type probeMonitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu     sync.Mutex
	online bool
	subs   []chan bool
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a probing monitor. The initial state is offline until the
// first probe succeeds.
func New(probe ProbeFunc, interval time.Duration) Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &probeMonitor{
		probe:    probe,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.loop(ctx)
	return m
}

func (m *probeMonitor) loop(ctx context.Context) {
	defer close(m.done)

	offlineWait := backoff.NewExponentialBackOff()
	offlineWait.InitialInterval = 2 * time.Second
	offlineWait.MaxInterval = m.interval
	offlineWait.MaxElapsedTime = 0 // keep probing forever

	for {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := m.probe(probeCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}

		m.setOnline(err == nil)

		var wait time.Duration
		if err == nil {
			offlineWait.Reset()
			wait = m.interval
		} else {
			wait = offlineWait.NextBackOff()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *probeMonitor) setOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.online == online {
		return
	}
	m.online = online

	logging.L().Info("connectivity changed", zap.Bool("online", online))

	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

func (m *probeMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *probeMonitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 1)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *probeMonitor) Close() {
	m.cancel()
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

// Manual is a monitor driven by the host platform's connectivity
// callbacks. Tests use it too.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
	closed bool
}

// NewManual creates a manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

// SetOnline records a connectivity change reported by the host platform.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// IsOnline implements Monitor.
func (m *Manual) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe implements Monitor.
func (m *Manual) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// Close implements Monitor.
func (m *Manual) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}
