// Package netstate tracks whether the remote store is reachable.
package netstate

import (
	"context"
	"sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/jonboulle/clockwork"
)

// ProbeFunc performs a cheap remote call; an offline error means the
// remote store is unreachable
type ProbeFunc func(ctx context.Context) error

// Monitor turns remote call outcomes and periodic probes into online and
// offline transitions. Probes only run while offline.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	clock    clockwork.Clock
	logger   logging.Logger

	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMonitor creates a monitor that starts in the online state
func NewMonitor(probe ProbeFunc, interval time.Duration, clock clockwork.Clock, logger logging.Logger) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		clock:    clock,
		logger:   logger.With(logging.F("component", "netstate")),
		online:   true,
	}
}

// OnChange registers a listener for transitions. Listeners run on the
// goroutine that observed the transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Online reports the current state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report feeds the outcome of a remote call. Success means online, an
// offline error means offline and any other error says nothing about
// connectivity.
func (m *Monitor) Report(err error) {
	switch {
	case err == nil:
		m.set(true)
	case utils.IsOffline(err):
		m.set(false)
	}
}

// Check runs the probe once and reports its outcome
func (m *Monitor) Check(ctx context.Context) error {
	err := m.probe(ctx)
	m.Report(err)
	return err
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if online {
		m.logger.Info("Remote store reachable again")
	} else {
		m.logger.Warn("Remote store unreachable")
	}
	for _, fn := range listeners {
		fn(online)
	}
}

// Start begins probing while offline
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop ends probing and waits for the probe loop to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if m.Online() {
				continue
			}
			if err := m.Check(ctx); err != nil && !utils.IsOffline(err) {
				m.logger.Debug("Connectivity probe failed", logging.F("error", err.Error()))
			}
		}
	}
}
