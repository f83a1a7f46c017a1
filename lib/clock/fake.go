// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock reading initial. It only moves when Advance
// is called. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time

	// pending is kept sorted by deadline; timers with equal deadlines
	// stay in registration order.
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	deadline time.Time
	fire     chan time.Time
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C
}

// NewTimer registers a timer due d after the current fake time. A
// non-positive d fires at once without registering anything.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	fire := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		fire <- c.now
		return &Timer{C: fire, stopFunc: func() bool { return false }}
	}

	timer := &pendingTimer{deadline: c.now.Add(d), fire: fire}
	position, _ := slices.BinarySearchFunc(c.pending, timer.deadline, func(p *pendingTimer, deadline time.Time) int {
		if p.deadline.After(deadline) {
			return 1
		}
		return -1
	})
	c.pending = slices.Insert(c.pending, position, timer)
	c.changed.Broadcast()

	return &Timer{C: fire, stopFunc: func() bool { return c.remove(timer) }}
}

func (c *FakeClock) remove(timer *pendingTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := slices.Index(c.pending, timer)
	if index < 0 {
		return false
	}
	c.pending = slices.Delete(c.pending, index, index+1)
	c.changed.Broadcast()
	return true
}

// Advance moves the clock forward by d and fires, earliest first, every
// timer now due. Each fires with the new current time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := 0
	for due < len(c.pending) && !c.pending[due].deadline.After(now) {
		due++
	}
	fired := slices.Clone(c.pending[:due])
	c.pending = slices.Delete(c.pending, 0, due)
	c.changed.Broadcast()
	c.mu.Unlock()

	for _, timer := range fired {
		timer.fire <- now
	}
}

// WaitForTimers blocks until at least n timers are pending. Tests call
// it before Advance so the goroutine under test has registered the
// timer the test is about to expire.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers not yet fired or stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
