// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package the pipeline depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed and returns a Timer that
	// can cancel or reschedule the call. The real clock runs f on its
	// own goroutine; the fake clock runs it inside Advance.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a scheduled callback created by AfterFunc.
type Timer struct {
	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the callback. It reports whether the call was still
// pending; false means it already ran or was stopped before.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the callback to run d from now, whether or not it
// has already run. It reports whether the timer was pending.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
