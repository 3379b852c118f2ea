package player

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultFlushBackoff is the first retry delay after a flush run
	// leaves retryable work behind.
	DefaultFlushBackoff = 10 * time.Second

	// DefaultMaxFlushBackoff caps the exponential retry delay.
	DefaultMaxFlushBackoff = 5 * time.Minute

	flushRunTimeout = time.Minute
)

// FlushFunc drains the pending queue once. FlushScheduler only cares
// whether retryable work remains and whether the run errored.
type FlushFunc func(ctx context.Context) (remaining bool, err error)

// FlushScheduler runs deferred progress flushes in the background. At
// most one run is scheduled at a time; a request while one is pending
// is dropped rather than queued. Consecutive unproductive runs back off
// exponentially, and a run is skipped entirely while the connectivity
// probe reports offline.
type FlushScheduler struct {
	flush   FlushFunc
	online  func() bool
	logger  *log.Logger
	base    time.Duration
	max     time.Duration
	sleeper func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	timer   *time.Timer
	attempt int
	stopped bool
}

// SchedulerOption configures a FlushScheduler.
type SchedulerOption func(*FlushScheduler)

// WithOnlineCheck gates flush runs behind a connectivity probe.
func WithOnlineCheck(online func() bool) SchedulerOption {
	return func(s *FlushScheduler) {
		if online != nil {
			s.online = online
		}
	}
}

// WithBackoff overrides the retry delays.
func WithBackoff(base, max time.Duration) SchedulerOption {
	return func(s *FlushScheduler) {
		if base > 0 {
			s.base = base
		}
		if max > 0 {
			s.max = max
		}
	}
}

// NewFlushScheduler builds a scheduler around a flush function.
func NewFlushScheduler(flush FlushFunc, logger *log.Logger, opts ...SchedulerOption) *FlushScheduler {
	if logger == nil {
		logger = log.Default()
	}
	s := &FlushScheduler{
		flush:   flush,
		online:  func() bool { return true },
		logger:  logger,
		base:    DefaultFlushBackoff,
		max:     DefaultMaxFlushBackoff,
		sleeper: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestFlush schedules a flush run if none is pending. A fresh
// request runs immediately; retries after failed runs carry the current
// backoff.
func (s *FlushScheduler) RequestFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(s.delayLocked())
}

// Stop cancels any pending run. The scheduler is dead afterwards.
func (s *FlushScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *FlushScheduler) scheduleLocked(delay time.Duration) {
	if s.stopped || s.timer != nil {
		return
	}
	s.timer = s.sleeper(delay, s.runOnce)
}

func (s *FlushScheduler) delayLocked() time.Duration {
	if s.attempt == 0 {
		return 0
	}
	delay := s.base << (s.attempt - 1)
	if delay > s.max || delay <= 0 {
		delay = s.max
	}
	return delay
}

func (s *FlushScheduler) runOnce() {
	s.mu.Lock()
	s.timer = nil
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	if !s.online() {
		s.logger.Debug("offline, deferring pending flush")
		s.retry()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushRunTimeout)
	defer cancel()

	remaining, err := s.flush(ctx)
	if err != nil {
		s.logger.Warn("pending flush failed", "error", err)
		s.retry()
		return
	}
	if remaining {
		s.retry()
		return
	}

	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
}

func (s *FlushScheduler) retry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	s.scheduleLocked(s.delayLocked())
}
