package sequencer

import (
	"sort"
	"sync"
	"time"
)

// Handle identifies a scheduled callback.
type Handle uint64

// Clock is the transport the scheduler runs on. Times are offsets from the
// clock's own zero. Cancel must be safe to call for handles that already
// fired.
type Clock interface {
	Now() time.Duration
	ScheduleAt(at time.Duration, fn func()) Handle
	Cancel(h Handle)
}

// WallClock runs callbacks on runtime timers.
type WallClock struct {
	start time.Time

	mu     sync.Mutex
	next   Handle
	timers map[Handle]*time.Timer
}

// NewWallClock returns a clock whose zero is now.
func NewWallClock() *WallClock {
	return &WallClock{
		start:  time.Now(),
		timers: make(map[Handle]*time.Timer),
	}
}

func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}

func (c *WallClock) ScheduleAt(at time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	h := c.next
	delay := at - c.Now()
	if delay < 0 {
		delay = 0
	}
	// Registered before the timer exists so a zero delay cannot race it.
	c.timers[h] = nil
	c.timers[h] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		_, live := c.timers[h]
		delete(c.timers, h)
		c.mu.Unlock()
		if live {
			fn()
		}
	})
	return h
}

func (c *WallClock) Cancel(h Handle) {
	c.mu.Lock()
	t := c.timers[h]
	delete(c.timers, h)
	c.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Pending is the number of callbacks that have not fired or been cancelled.
func (c *WallClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type manualTimer struct {
	at time.Duration
	h  Handle
	fn func()
}

// ManualClock only moves when told to. Callbacks run on the goroutine that
// calls Advance or Set, in time order, ties in scheduling order. It makes
// scheduler behaviour reproducible in tests and lets whole timelines be
// rendered faster than real time.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Duration
	next    Handle
	pending []manualTimer
}

// NewManualClock returns a clock at zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) ScheduleAt(at time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	t := manualTimer{at: at, h: c.next, fn: fn}
	i := sort.Search(len(c.pending), func(i int) bool {
		p := c.pending[i]
		return p.at > at || (p.at == at && p.h > t.h)
	})
	c.pending = append(c.pending, manualTimer{})
	copy(c.pending[i+1:], c.pending[i:])
	c.pending[i] = t
	return t.h
}

func (c *ManualClock) Cancel(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.h == h {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, firing every callback that falls
// due on the way. Callbacks may schedule or cancel others.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()
	c.Set(target)
}

// Set moves the clock to t. Moving backwards only changes Now.
func (c *ManualClock) Set(t time.Duration) {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 || c.pending[0].at > t {
			c.now = t
			c.mu.Unlock()
			return
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		if next.at > c.now {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

// Pending is the number of callbacks waiting to fire.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
