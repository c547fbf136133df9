package retry

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the subset of clockwork.Clock the scheduler needs. Any
// clockwork.Clock satisfies it.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return clockwork.NewRealClock()
}

// ManualClock wraps a clockwork.FakeClock so Advance returns only after every
// callback it triggered has finished. Due timers fire one deadline at a time,
// with the clock reading that deadline while they run.
type ManualClock struct {
	fake *clockwork.FakeClock

	mu     sync.Mutex
	seq    int
	timers map[int]*manualTimer
}

type manualTimer struct {
	clockwork.Timer
	clock *ManualClock
	id    int
	at    time.Time
	done  chan struct{}
}

// NewManualClock creates a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{
		fake:   clockwork.NewFakeClockAt(start),
		timers: make(map[int]*manualTimer),
	}
}

// Now returns the current simulated time.
func (c *ManualClock) Now() time.Time {
	return c.fake.Now()
}

// AfterFunc registers f to run once the clock has advanced by d.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, id: c.seq, at: c.fake.Now().Add(d), done: make(chan struct{})}
	t.Timer = c.fake.AfterFunc(d, func() {
		defer t.finish()
		f()
	})
	c.timers[t.id] = t
	return t
}

// Advance moves the clock forward by d and waits for every timer due on the
// way. It returns the number of callbacks that ran.
func (c *ManualClock) Advance(d time.Duration) int {
	target := c.fake.Now().Add(d)
	fired := 0
	for {
		at, batch := c.nextDue(target)
		if len(batch) == 0 {
			break
		}
		c.fake.Advance(max(at.Sub(c.fake.Now()), 0))
		for _, done := range batch {
			<-done
		}
		fired += len(batch)
	}
	if rest := target.Sub(c.fake.Now()); rest > 0 {
		c.fake.Advance(rest)
	}
	return fired
}

// Pending reports how many timers are armed and not yet fired or stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// nextDue disarms the timers sharing the earliest deadline at or before target
// and returns their completion channels.
func (c *ManualClock) nextDue(target time.Time) (time.Time, []chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return time.Time{}, nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	batch := due[:1]
	for _, t := range due[1:] {
		if !t.at.Equal(batch[0].at) {
			break
		}
		batch = append(batch, t)
	}
	dones := make([]chan struct{}, 0, len(batch))
	for _, t := range batch {
		delete(c.timers, t.id)
		dones = append(dones, t.done)
	}
	return batch[0].at, dones
}

func (t *manualTimer) finish() {
	t.clock.mu.Lock()
	done := t.done
	t.clock.mu.Unlock()
	close(done)
}

// Stop cancels the timer. It reports whether the timer was still armed.
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return t.Timer.Stop()
}

// Reset re-arms the timer to fire d after the current simulated time.
func (t *manualTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	_, active := t.clock.timers[t.id]
	t.at = t.clock.fake.Now().Add(d)
	t.done = make(chan struct{})
	t.clock.timers[t.id] = t
	t.Timer.Reset(d)
	return active
}
