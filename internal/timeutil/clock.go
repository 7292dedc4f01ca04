// Package timeutil abstracts the wall clock so the alarm timers of a ride can
// be driven by tests and by log replays.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the engine and its drivers use.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// After delivers the clock time once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker delivers the clock time every d. Ticks are dropped when the
	// receiver falls behind.
	NewTicker(d time.Duration) Ticker
}

// Ticker is a periodic time source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time   { return r.t.C }
func (r realTicker) Stop()                 { r.t.Stop() }
func (r realTicker) Reset(d time.Duration) { r.t.Reset(d) }

// MockClock only moves when told to. Advancing it fires every timer and
// ticker whose deadline has been reached, in deadline order.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*mockWaiter
	added   chan struct{}
}

type mockWaiter struct {
	ch       chan time.Time
	next     time.Time
	interval time.Duration // zero for one-shot timers
	stopped  bool
}

// NewMockClock returns a clock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t, added: make(chan struct{}, 64)}
}

// Now returns the mocked time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the mocked time elapsed since t.
func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// After returns a channel that receives once the clock has advanced by d.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.register(d, 0).ch
}

// NewTicker returns a ticker that fires each time the clock crosses a
// multiple of d past its creation time.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	return &mockTicker{clock: c, w: c.register(d, d)}
}

func (c *MockClock) register(d, interval time.Duration) *mockWaiter {
	c.mu.Lock()
	w := &mockWaiter{ch: make(chan time.Time, 1), next: c.now.Add(d), interval: interval}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	select {
	case c.added <- struct{}{}:
	default:
	}
	return w
}

// WaitForWaiters blocks until at least n timers or tickers have been
// created, or the timeout expires. Tests use it to sync with a goroutine
// that creates its ticker after starting.
func (c *MockClock) WaitForWaiters(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		count := len(c.waiters)
		c.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-c.added:
		case <-deadline:
			return false
		case <-time.After(time.Millisecond):
		}
	}
}

// Advance moves the clock forward by d. A ticker crossing several periods
// fires once per period; a slow receiver loses the surplus ticks.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		w := c.nextDue(target)
		if w == nil {
			break
		}
		c.now = w.next
		select {
		case w.ch <- w.next:
		default:
		}
		if w.interval > 0 {
			w.next = w.next.Add(w.interval)
		} else {
			w.stopped = true
		}
	}
	c.now = target
	c.prune()
	c.mu.Unlock()
}

// nextDue returns the live waiter with the earliest deadline at or before
// target. Callers hold c.mu.
func (c *MockClock) nextDue(target time.Time) *mockWaiter {
	var due *mockWaiter
	for _, w := range c.waiters {
		if w.stopped || w.next.After(target) {
			continue
		}
		if due == nil || w.next.Before(due.next) {
			due = w
		}
	}
	return due
}

func (c *MockClock) prune() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped || w.interval > 0 {
			live = append(live, w)
		}
	}
	c.waiters = live
}

// Pending returns the deadlines of live timers and tickers in order.
func (c *MockClock) Pending() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Time
	for _, w := range c.waiters {
		if !w.stopped {
			out = append(out, w.next)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type mockTicker struct {
	clock *MockClock
	w     *mockWaiter
}

func (t *mockTicker) C() <-chan time.Time { return t.w.ch }

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	t.w.stopped = true
	t.clock.mu.Unlock()
}

func (t *mockTicker) Reset(d time.Duration) {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	t.clock.mu.Lock()
	t.w.stopped = false
	t.w.interval = d
	t.w.next = t.clock.now.Add(d)
	t.clock.mu.Unlock()
}
