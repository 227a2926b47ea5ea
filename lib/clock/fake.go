// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock reading initial. Time only moves when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a manually driven Clock. It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order, without the clock's lock held; a callback may schedule new
// timers, and timers that come due within the same Advance fire in the
// same call. A callback must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	seq     uint64
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	seq      uint64

	// Exactly one of fn and ch is set.
	fn func()
	ch chan time.Time

	scheduled bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.scheduleLocked(&fakeTimer{ch: ch}, d)
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := &fakeTimer{fn: f}

	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
	} else {
		c.scheduleLocked(timer, d)
		c.mu.Unlock()
	}

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.unscheduleLocked(timer)
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasPending := c.unscheduleLocked(timer)
			c.scheduleLocked(timer, max(d, 0))
			return wasPending
		},
	}
}

func (c *FakeClock) scheduleLocked(timer *fakeTimer, d time.Duration) {
	c.seq++
	timer.deadline = c.now.Add(d)
	timer.seq = c.seq
	timer.scheduled = true
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

func (c *FakeClock) unscheduleLocked(timer *fakeTimer) bool {
	if !timer.scheduled {
		return false
	}
	timer.scheduled = false
	c.pending = slices.DeleteFunc(c.pending, func(t *fakeTimer) bool { return t == timer })
	c.changed.Broadcast()
	return true
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is at or before the new time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		timer, now := c.popDue()
		if timer == nil {
			return
		}
		if timer.fn != nil {
			timer.fn()
			continue
		}
		timer.ch <- now
	}
}

// popDue removes and returns the earliest due timer, or nil.
func (c *FakeClock) popDue() (*fakeTimer, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := -1
	for i, timer := range c.pending {
		if timer.deadline.After(c.now) {
			continue
		}
		if index < 0 || earlier(timer, c.pending[index]) {
			index = i
		}
	}
	if index < 0 {
		return nil, c.now
	}
	timer := c.pending[index]
	timer.scheduled = false
	c.pending = slices.Delete(c.pending, index, index+1)
	c.changed.Broadcast()
	return timer, c.now
}

func earlier(a, b *fakeTimer) bool {
	if a.deadline.Equal(b.deadline) {
		return a.seq < b.seq
	}
	return a.deadline.Before(b.deadline)
}

// WaitForTimers blocks until at least n timers are scheduled.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of scheduled timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
