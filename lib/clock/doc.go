// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for the outbox pipeline.
//
// Two kinds of time matter to the pipeline. Record timestamps are wall
// clock readings taken from Now. Session timeout arithmetic and flush
// scheduling compare Now readings against each other; with Real those
// readings carry the monotonic component of time.Time, so wall clock
// jumps do not expire or extend a session.
//
// Components hold a Clock instead of calling the time package. Tests
// inject Fake and drive it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	ch := channel.New(channel.Config{Clock: c, ...})
//	ch.Enqueue(record, "analytics", logrecord.PriorityNormal)
//	c.WaitForTimers(1)         // the group armed its batch timer
//	c.Advance(3 * time.Second) // the timer fires synchronously
//
// WaitForTimers closes the window between a goroutine registering a
// timer and the test advancing past it.
package clock
