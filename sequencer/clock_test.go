package sequencer

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestManualClockOrder(t *testing.T) {
	c := NewManualClock()
	var got []string
	add := func(at time.Duration, name string) Handle {
		return c.ScheduleAt(at, func() { got = append(got, name) })
	}
	add(30*ms, "c")
	add(10*ms, "a")
	b := add(20*ms, "b")
	add(10*ms, "a2")
	add(50*ms, "late")
	c.Cancel(b)

	c.Advance(40 * ms)
	if fmt.Sprint(got) != "[a a2 c]" {
		t.Errorf("fired %v", got)
	}
	if c.Now() != 40*ms {
		t.Errorf("now = %v", c.Now())
	}
	if c.Pending() != 1 {
		t.Errorf("pending = %d", c.Pending())
	}
}

func TestManualClockNowDuringCallback(t *testing.T) {
	c := NewManualClock()
	var seen []time.Duration
	var chain func()
	chain = func() {
		seen = append(seen, c.Now())
		if len(seen) < 3 {
			c.ScheduleAt(c.Now()+10*ms, chain)
		}
	}
	c.ScheduleAt(5*ms, chain)
	c.Advance(100 * ms)
	if fmt.Sprint(seen) != "[5ms 15ms 25ms]" {
		t.Errorf("callback times %v", seen)
	}
}

func TestManualClockCancelFired(t *testing.T) {
	c := NewManualClock()
	h := c.ScheduleAt(0, func() {})
	c.Advance(ms)
	c.Cancel(h) // no-op
	c.Cancel(Handle(999))
	if c.Pending() != 0 {
		t.Error("pending callbacks")
	}
}

func TestWallClock(t *testing.T) {
	c := NewWallClock()
	var fired, cancelled atomic.Int32
	done := make(chan struct{})

	c.ScheduleAt(c.Now()+10*ms, func() {
		fired.Add(1)
		close(done)
	})
	h := c.ScheduleAt(c.Now()+20*ms, func() { cancelled.Add(1) })
	c.Cancel(h)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(30 * ms)
	if fired.Load() != 1 || cancelled.Load() != 0 {
		t.Errorf("fired %d cancelled %d", fired.Load(), cancelled.Load())
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d", c.Pending())
	}
}
