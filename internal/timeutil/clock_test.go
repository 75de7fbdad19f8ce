package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// ticked drains at most one pending tick.
func ticked(tk Ticker) (time.Time, bool) {
	select {
	case at := <-tk.C():
		return at, true
	default:
		return time.Time{}, false
	}
}

func TestPeriod(t *testing.T) {
	for hz, want := range map[float64]time.Duration{
		10:  100 * time.Millisecond,
		20:  50 * time.Millisecond,
		0.5: 2 * time.Second,
		0:   0,
		-5:  0,
	} {
		assert.Equal(t, want, Period(hz), "Period(%v)", hz)
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
	assert.GreaterOrEqual(t, c.Since(time.Now().Add(-time.Minute)), time.Minute)

	tk := c.NewTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(2 * time.Second):
		t.Fatal("real ticker never fired")
	}
	tk.Reset(time.Hour)
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	c := NewMockClock(epoch)
	c.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), c.Now())
	assert.Equal(t, 90*time.Second, c.Since(epoch))

	c.Set(epoch)
	assert.Equal(t, epoch, c.Now())
}

func TestMockTicker_FiresOnSchedule(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(100 * time.Millisecond)

	var fired []time.Duration
	for step := 1; step <= 10; step++ {
		c.Advance(40 * time.Millisecond)
		if at, ok := ticked(tk); ok {
			fired = append(fired, at.Sub(epoch))
		}
	}
	// Due at 100ms, rescheduled from the firing time (120ms) to 220ms, and so on.
	assert.Equal(t, []time.Duration{120 * time.Millisecond, 240 * time.Millisecond, 360 * time.Millisecond}, fired)
}

func TestMockTicker_DropsUnreadTicks(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Second)

	for i := 0; i < 5; i++ {
		c.Advance(time.Second)
	}
	at, ok := ticked(tk)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(time.Second), at, "the first tick is kept, later ones dropped")
	_, ok = ticked(tk)
	assert.False(t, ok)

	c.Advance(time.Hour)
	_, ok = ticked(tk)
	assert.True(t, ok, "a long jump fires once")
	_, ok = ticked(tk)
	assert.False(t, ok)
}

func TestMockTicker_StopAndReset(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Second).(*MockTicker)

	tk.Stop()
	c.Advance(10 * time.Second)
	_, ok := ticked(tk)
	assert.False(t, ok, "stopped ticker fired")

	tk.Reset(time.Minute)
	assert.True(t, tk.active)
	assert.Equal(t, time.Minute, tk.period)

	c.Advance(59 * time.Second)
	_, ok = ticked(tk)
	assert.False(t, ok, "fired before the reset period elapsed")
	c.Advance(time.Second)
	_, ok = ticked(tk)
	assert.True(t, ok, "did not fire after the reset period")
}

func TestMockTicker_Trigger(t *testing.T) {
	c := NewMockClock(epoch)
	a := c.NewTicker(time.Hour).(*MockTicker)
	b := c.NewTicker(time.Hour)

	a.Trigger(epoch.Add(time.Millisecond))
	at, ok := ticked(a)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(time.Millisecond), at)

	_, ok = ticked(b)
	assert.False(t, ok, "Trigger is per ticker")

	a.Stop()
	a.Trigger(epoch)
	_, ok = ticked(a)
	assert.True(t, ok, "Trigger ignores the schedule")
}
