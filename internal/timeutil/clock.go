// Package timeutil provides the host-tick clock the sampling engine runs on,
// with a manually driven implementation for tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the source of time and host ticks for an engine.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers host ticks. Like time.Ticker, a tick the receiver is not
// ready for is dropped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	// Reset restarts the ticker with period d.
	Reset(d time.Duration)
}

// Period returns the tick interval of a sensor sampling at hz cycles per
// second. Non-positive rates return 0.
func Period(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewTicker wraps time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return wallTicker{t: time.NewTicker(d)}
}

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time   { return w.t.C }
func (w wallTicker) Stop()                 { w.t.Stop() }
func (w wallTicker) Reset(d time.Duration) { w.t.Reset(d) }

// MockClock only moves when told to. Tickers created from it fire during
// Advance.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a clock frozen at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps the clock to t without firing tickers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and fires every ticker that came due.
// A ticker due several times over fires once.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := make([]*MockTicker, 0, len(c.tickers))
	for _, t := range c.tickers {
		if t.active && !now.Before(t.next) {
			t.next = now.Add(t.period)
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.Trigger(now)
	}
}

// NewTicker returns a MockTicker first due one period from now.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{
		clock:  c,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   c.now.Add(d),
		active: true,
	}
	c.tickers = append(c.tickers, t)
	return t
}

// MockTicker is a ticker driven by a MockClock or by Trigger. Its schedule
// is guarded by the owning clock's mutex.
type MockTicker struct {
	clock  *MockClock
	ch     chan time.Time
	period time.Duration
	next   time.Time
	active bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.clock.mu.Lock()
	t.active = false
	t.clock.mu.Unlock()
}

// Reset reactivates the ticker, first due d after the clock's current time.
func (t *MockTicker) Reset(d time.Duration) {
	t.clock.mu.Lock()
	t.active = true
	t.period = d
	t.next = t.clock.now.Add(d)
	t.clock.mu.Unlock()
}

// Trigger delivers a tick immediately, regardless of the schedule. It is
// dropped if the previous tick has not been received.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}
