package retry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fireRecorder struct {
	mu      sync.Mutex
	handles []*Handle
}

func (r *fireRecorder) fire(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(policy Policy) (*Scheduler, *ManualClock, *fireRecorder) {
	clock := NewManualClock(epoch)
	rec := &fireRecorder{}
	return NewScheduler(policy, clock, rec.fire, nil), clock, rec
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	sched, clock, rec := newTestScheduler(Policy{InitialDelay: 5 * time.Second, MaxAttempts: 3})

	h, err := sched.Schedule("task-1")
	require.NoError(t, err)
	require.Equal(t, 1, h.Attempt)
	require.Equal(t, 5*time.Second, h.Delay)
	require.Equal(t, epoch.Add(5*time.Second), h.FireAt)

	require.Equal(t, 0, clock.Advance(4*time.Second))
	require.Equal(t, 0, rec.count())

	require.Equal(t, 1, clock.Advance(time.Second))
	require.Equal(t, 1, rec.count())
	require.Same(t, h, rec.handles[0])
	require.Equal(t, 0, clock.Pending())
}

func TestCancelPreventsFire(t *testing.T) {
	sched, clock, rec := newTestScheduler(DefaultPolicy())

	h, err := sched.Schedule("task-1")
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	require.True(t, sched.Cancel("task-1"))
	require.True(t, h.Cancelled())
	require.False(t, sched.Cancel("task-1"))

	clock.Advance(10 * time.Second)
	require.Equal(t, 0, rec.count())
	require.Equal(t, 0, clock.Pending())
}

func TestBackoffGrowsWithAppliedRetriesAndCaps(t *testing.T) {
	sched, clock, rec := newTestScheduler(Policy{
		InitialDelay: 5 * time.Second,
		MaxDelay:     15 * time.Second,
		Multiplier:   2,
		MaxAttempts:  0,
	})

	var delays []time.Duration
	for i := 0; i < 4; i++ {
		h, err := sched.Schedule("task-1")
		require.NoError(t, err)
		delays = append(delays, h.Delay)
		clock.Advance(time.Minute)
		require.Equal(t, i+1, sched.Applied(rec.handles[i]))
	}
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 15 * time.Second}, delays)
}

func TestCancelledHandlesDoNotUseTheBudget(t *testing.T) {
	sched, clock, rec := newTestScheduler(Policy{InitialDelay: 5 * time.Second, Multiplier: 2, MaxDelay: time.Minute, MaxAttempts: 1})

	for i := 0; i < 3; i++ {
		h, err := sched.Schedule("task-1")
		require.NoError(t, err)
		require.Equal(t, 1, h.Attempt)
		require.Equal(t, 5*time.Second, h.Delay)
		require.True(t, sched.Cancel("task-1"))
	}

	h, err := sched.Schedule("task-1")
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	require.Equal(t, 1, rec.count())
	require.Equal(t, 1, sched.Applied(h))

	_, err = sched.Schedule("task-1")
	require.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestAttemptsExhausted(t *testing.T) {
	sched, clock, rec := newTestScheduler(Policy{InitialDelay: time.Second, MaxAttempts: 2})

	for i := 0; i < 2; i++ {
		_, err := sched.Schedule("task-1")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		sched.Applied(rec.handles[i])
	}
	_, err := sched.Schedule("task-1")
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Equal(t, 2, rec.count())

	sched.Reset("task-1")
	h, err := sched.Schedule("task-1")
	require.NoError(t, err)
	require.Equal(t, 1, h.Attempt)
	require.Equal(t, time.Second, h.Delay)
}

func TestFiredButUnappliedRetryIsNotCounted(t *testing.T) {
	sched, clock, rec := newTestScheduler(Policy{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, MaxAttempts: 3})

	_, err := sched.Schedule("task-1")
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.Equal(t, 1, rec.count())

	h, err := sched.Schedule("task-1")
	require.NoError(t, err)
	require.Equal(t, 1, h.Attempt)
	require.Equal(t, time.Second, h.Delay)
}

func TestScheduleReplacesPendingHandle(t *testing.T) {
	sched, clock, rec := newTestScheduler(Policy{InitialDelay: time.Second, MaxAttempts: 0})

	first, err := sched.Schedule("task-1")
	require.NoError(t, err)
	second, err := sched.Schedule("task-1")
	require.NoError(t, err)

	require.True(t, first.Cancelled())
	require.False(t, second.Cancelled())
	require.Equal(t, 1, clock.Pending())

	clock.Advance(time.Minute)
	require.Equal(t, 1, rec.count())
	require.Same(t, second, rec.handles[0])
}

func TestStopCancelsEverything(t *testing.T) {
	sched, clock, rec := newTestScheduler(DefaultPolicy())

	_, err := sched.Schedule("a")
	require.NoError(t, err)
	_, err = sched.Schedule("b")
	require.NoError(t, err)

	sched.Stop()
	sched.Stop()
	require.Equal(t, 0, clock.Pending())

	clock.Advance(time.Hour)
	require.Equal(t, 0, rec.count())

	_, err = sched.Schedule("a")
	require.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestPolicyNormalization(t *testing.T) {
	p := Policy{InitialDelay: -1, MaxDelay: time.Millisecond, Multiplier: 0.5, Jitter: 3, MaxAttempts: -2}.normalized()
	require.Equal(t, 5*time.Second, p.InitialDelay)
	require.Equal(t, 5*time.Second, p.MaxDelay)
	require.Equal(t, 1.0, p.Multiplier)
	require.Equal(t, 1.0, p.Jitter)
	require.Equal(t, 0, p.MaxAttempts)
}

func TestRealClockFires(t *testing.T) {
	done := make(chan struct{})
	sched := NewScheduler(Policy{InitialDelay: 10 * time.Millisecond, MaxAttempts: 1}, nil, func(*Handle) {
		close(done)
	}, nil)
	defer sched.Stop()

	_, err := sched.Schedule("task-1")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not fire")
	}
}

func TestManualClockFiresInDeadlineOrder(t *testing.T) {
	clock := NewManualClock(epoch)
	var (
		mu    sync.Mutex
		order []string
		seen  []time.Time
	)
	record := func(name string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			seen = append(seen, clock.Now())
		}
	}
	clock.AfterFunc(3*time.Second, record("c"))
	clock.AfterFunc(time.Second, record("a"))
	stopped := clock.AfterFunc(2*time.Second, record("b"))
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())
	require.Equal(t, 2, clock.Pending())

	require.Equal(t, 2, clock.Advance(5*time.Second))
	require.Equal(t, []string{"a", "c"}, order)
	require.Equal(t, []time.Time{epoch.Add(time.Second), epoch.Add(3 * time.Second)}, seen)
	require.Equal(t, epoch.Add(5*time.Second), clock.Now())
	require.Equal(t, 0, clock.Pending())
}

func TestManualClockCallbackMayArmTimers(t *testing.T) {
	clock := NewManualClock(epoch)
	var fired atomic.Int32
	clock.AfterFunc(time.Second, func() {
		fired.Add(1)
		clock.AfterFunc(time.Second, func() { fired.Add(1) })
	})

	require.Equal(t, 2, clock.Advance(5*time.Second))
	require.Equal(t, int32(2), fired.Load())
}
