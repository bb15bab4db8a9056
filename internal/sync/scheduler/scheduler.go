// Package scheduler drives the change feed poll with an adaptive delay.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/jonboulle/clockwork"
)

// Config holds the poll delays. Offline is used while the remote store is
// unreachable and may exceed Max.
type Config struct {
	Initial time.Duration
	Max     time.Duration
	Offline time.Duration
}

// DefaultConfig returns the built-in delays
func DefaultConfig() Config {
	return Config{
		Initial: time.Duration(utils.DefaultInitialPollDelayMs) * time.Millisecond,
		Max:     time.Duration(utils.DefaultMaxPollDelayMs) * time.Millisecond,
		Offline: time.Duration(utils.DefaultOfflinePollDelayMs) * time.Millisecond,
	}
}

// FromMillis builds a Config from configuration values
func FromMillis(initial, max, offline int) Config {
	return Config{
		Initial: time.Duration(initial) * time.Millisecond,
		Max:     time.Duration(max) * time.Millisecond,
		Offline: time.Duration(offline) * time.Millisecond,
	}
}

// NextDelay computes the delay after a poll. A poll without relevant
// changes doubles the delay up to Max, any relevant change resets it to
// Initial, an offline failure jumps to Offline and other failures keep it.
func NextDelay(current time.Duration, changes int, err error, cfg Config) time.Duration {
	if current < cfg.Initial {
		current = cfg.Initial
	}
	switch {
	case err != nil && utils.IsOffline(err):
		return cfg.Offline
	case err != nil:
		return current
	case changes > 0:
		return cfg.Initial
	}
	next := current * 2
	if next > cfg.Max {
		next = cfg.Max
	}
	return next
}

// PollFunc runs one poll and reports the number of relevant changes
type PollFunc func(ctx context.Context) (int, error)

// Result is handed to the observer after every poll
type Result struct {
	Changes int
	Err     error
	Delay   time.Duration
}

// Scheduler runs PollFunc on a single timer. Only one poll is ever in
// flight; the timer is re-armed when it returns.
type Scheduler struct {
	cfg     Config
	poll    PollFunc
	clock   clockwork.Clock
	logger  logging.Logger
	trigger chan struct{}

	mu       sync.Mutex
	delay    time.Duration
	observer func(Result)
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a stopped scheduler. A nil clock uses the real clock.
func New(cfg Config, poll PollFunc, clock clockwork.Clock, logger logging.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Scheduler{
		cfg:     cfg,
		poll:    poll,
		clock:   clock,
		logger:  logger.With(logging.F("component", "scheduler")),
		trigger: make(chan struct{}, 1),
		delay:   cfg.Initial,
	}
}

// SetObserver registers a function called after every poll
func (s *Scheduler) SetObserver(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Start arms the timer at the initial delay. Starting a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.delay = s.cfg.Initial
	go s.loop(ctx, s.done)
	s.logger.Debug("Scheduler started", logging.F("delay", s.cfg.Initial.String()))
}

// Stop clears the pending timer. A poll already running finishes but is
// not followed by another one.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
}

// Done is closed when the loop started by the last Start has exited
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Trigger requests a poll now, bypassing the timer. Requests made while a
// poll runs are coalesced into one follow-up poll.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Delay is the delay the timer is currently armed with
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := s.clock.NewTimer(s.Delay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
		}

		// an in-flight poll is not interrupted by Stop
		changes, err := s.poll(context.WithoutCancel(ctx))
		delay := NextDelay(s.Delay(), changes, err, s.cfg)

		s.mu.Lock()
		s.delay = delay
		observer := s.observer
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("Poll failed",
				logging.F("code", utils.ErrorCode(err)),
				logging.F("offline", utils.IsOffline(err)),
				logging.F("error", err.Error()),
				logging.F("nextDelay", delay.String()),
			)
		} else {
			s.logger.Debug("Poll completed", logging.F("changes", changes), logging.F("nextDelay", delay.String()))
		}
		if observer != nil {
			observer(Result{Changes: changes, Err: err, Delay: delay})
		}

		if ctx.Err() != nil {
			return
		}
		timer.Reset(delay)
	}
}
