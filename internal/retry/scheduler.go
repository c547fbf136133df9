// Package retry arms delayed, cancellable re-attempts for failed tasks.
//
// A Scheduler owns one pending Handle per task. Only retries confirmed through
// Applied count against a task's budget: delays grow with that count and are
// capped, and the count itself can be capped as well.
// Callbacks never run while the scheduler lock is held, so the fire function may
// call back into the scheduler.
package retry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"guardian/internal/logging"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrAttemptsExhausted is returned when a task already used every retry.
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
	// ErrSchedulerStopped is returned after Stop.
	ErrSchedulerStopped = errors.New("retry scheduler stopped")
)

// Policy configures delay growth and attempt caps.
type Policy struct {
	InitialDelay time.Duration // delay before the first retry (default: 5s)
	MaxDelay     time.Duration // cap for the exponential delay (default: 1m)
	Multiplier   float64       // growth factor between attempts (default: 2)
	Jitter       float64       // randomization factor, 0 disables (default: 0)
	MaxAttempts  int           // retries per task, 0 means unlimited (default: 3)
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 5 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		Jitter:       0,
		MaxAttempts:  3,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// delay returns the wait before the given 1-based attempt.
func (p Policy) delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d < 0 {
		return p.MaxDelay
	}
	return d
}

// Handle identifies one armed retry.
type Handle struct {
	TaskID  string
	Attempt int
	Delay   time.Duration
	FireAt  time.Time

	timer     clockwork.Timer
	cancelled atomic.Bool
}

// Cancelled reports whether the handle was cancelled before firing.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// FireFunc receives handles whose delay elapsed without cancellation.
type FireFunc func(h *Handle)

// Scheduler arms at most one pending retry per task.
type Scheduler struct {
	policy Policy
	clock  Clock
	fire   FireFunc
	logger logging.Logger

	mu      sync.Mutex
	pending map[string]*Handle
	applied map[string]int
	stopped bool
}

// NewScheduler creates a Scheduler. A nil clock uses the real clock.
func NewScheduler(policy Policy, clock Clock, fire FireFunc, logger logging.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{
		policy:  policy.normalized(),
		clock:   clock,
		fire:    fire,
		logger:  logging.OrNop(logger),
		pending: make(map[string]*Handle),
		applied: make(map[string]int),
	}
}

// Schedule arms the next retry for taskID, replacing any pending one. The
// attempt number is one past the retries applied so far, so cancelled or
// superseded handles never use up the budget.
func (s *Scheduler) Schedule(taskID string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrSchedulerStopped
	}

	s.cancelLocked(taskID)

	attempt := s.applied[taskID] + 1
	if s.policy.MaxAttempts > 0 && attempt > s.policy.MaxAttempts {
		s.logger.Warn("RetryScheduler: task %s exhausted %d retries", taskID, s.policy.MaxAttempts)
		return nil, ErrAttemptsExhausted
	}
	delay := s.policy.delay(attempt)

	h := &Handle{
		TaskID:  taskID,
		Attempt: attempt,
		Delay:   delay,
		FireAt:  s.clock.Now().Add(delay),
	}
	h.timer = s.clock.AfterFunc(delay, func() {
		s.dispatch(h)
	})
	s.pending[taskID] = h

	s.logger.Debug("RetryScheduler: armed retry %d for task %s in %s", attempt, taskID, delay)
	return h, nil
}

// Cancel stops the pending retry for taskID. It reports whether one existed.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(taskID)
}

// Applied records that h was carried out and returns the number of retries
// applied to its task since the last Reset.
func (s *Scheduler) Applied(h *Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Attempt > s.applied[h.TaskID] {
		s.applied[h.TaskID] = h.Attempt
	}
	return s.applied[h.TaskID]
}

// Reset cancels any pending retry and forgets the applied retries of taskID.
func (s *Scheduler) Reset(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(taskID)
	delete(s.applied, taskID)
}

// Stop cancels every pending retry and rejects further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for taskID := range s.pending {
		s.cancelLocked(taskID)
	}
	s.logger.Debug("RetryScheduler: stopped")
}

func (s *Scheduler) cancelLocked(taskID string) bool {
	h, ok := s.pending[taskID]
	if !ok {
		return false
	}
	h.cancelled.Store(true)
	if h.timer != nil {
		h.timer.Stop()
	}
	delete(s.pending, taskID)
	return true
}

func (s *Scheduler) dispatch(h *Handle) {
	s.mu.Lock()
	if s.stopped || h.Cancelled() || s.pending[h.TaskID] != h {
		s.mu.Unlock()
		return
	}
	delete(s.pending, h.TaskID)
	s.mu.Unlock()

	if s.fire != nil {
		s.fire(h)
	}
}
