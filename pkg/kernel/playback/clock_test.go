package playback

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

// fakeClock fires AfterFunc callbacks synchronously from Step, in due order.
type fakeClock struct {
	*clocktesting.FakePassiveClock
	mu     sync.Mutex
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{FakePassiveClock: clocktesting.NewFakePassiveClock(time.Unix(1_700_000_000, 0))}
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) C() <-chan time.Time { return nil }

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.at = t.c.Now().Add(d)
	t.stopped, t.fired = false, false
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.Now().Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Step advances the clock by d, firing every timer that falls due,
// including timers scheduled by the callbacks themselves.
func (c *fakeClock) Step(d time.Duration) {
	target := c.Now().Add(d)
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.mu.Unlock()
			break
		}
		next.fired = true
		c.SetTime(next.at)
		c.mu.Unlock()
		next.f()
	}
	c.SetTime(target)
}

// Pending returns how many timers are armed.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
