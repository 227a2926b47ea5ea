// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"slices"
	"time"

	"github.com/bureau-foundation/outbox/lib/logstore"
)

// DefaultHistorySize is how many session boundaries are remembered.
const DefaultHistorySize = 10

// Persister stores the session history between processes.
// *logstore.Store implements it.
type Persister interface {
	LoadSessions(ctx context.Context) ([]logstore.SessionEntry, error)
	SaveSessions(ctx context.Context, entries []logstore.SessionEntry) error
}

// History is a bounded list of session boundaries ordered by start
// time. An entry with an empty ID is a process launch that has not
// started a session yet.
type History struct {
	size    int
	entries []logstore.SessionEntry
}

// NewHistory returns a history holding at most size entries, seeded
// with entries.
func NewHistory(size int, entries []logstore.SessionEntry) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	h := &History{size: size}
	for _, entry := range entries {
		h.Add(entry.ID, entry.Start)
	}
	return h
}

// Add records that session id became active at start. An entry with
// the same start replaces the existing one. The oldest entries are
// dropped beyond the size limit.
func (h *History) Add(id string, start time.Time) {
	index, found := slices.BinarySearchFunc(h.entries, start, func(entry logstore.SessionEntry, t time.Time) int {
		return entry.Start.Compare(t)
	})
	entry := logstore.SessionEntry{ID: id, Start: start}
	if found {
		h.entries[index] = entry
	} else {
		h.entries = slices.Insert(h.entries, index, entry)
	}
	if excess := len(h.entries) - h.size; excess > 0 {
		h.entries = slices.Delete(h.entries, 0, excess)
	}
}

// At returns the entry active at t: the latest one starting at or
// before t.
func (h *History) At(t time.Time) (logstore.SessionEntry, bool) {
	index, found := slices.BinarySearchFunc(h.entries, t, func(entry logstore.SessionEntry, t time.Time) int {
		return entry.Start.Compare(t)
	})
	if found {
		return h.entries[index], true
	}
	if index == 0 {
		return logstore.SessionEntry{}, false
	}
	return h.entries[index-1], true
}

// Entries returns a copy of the history, oldest first.
func (h *History) Entries() []logstore.SessionEntry {
	return slices.Clone(h.entries)
}

// Clear removes every entry.
func (h *History) Clear() {
	h.entries = nil
}
