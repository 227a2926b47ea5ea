// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/outbox/lib/logrecord"
)

// Tracker is a Feature that records named events and page views.
type Tracker struct {
	name  string
	group string

	mu       sync.Mutex
	pipeline *Pipeline
	tokens   []string
}

// NewTracker returns a tracker that enqueues into group. Records are
// routed to tokens when any are given.
func NewTracker(name, group string, tokens ...string) *Tracker {
	return &Tracker{name: name, group: group, tokens: tokens}
}

func (t *Tracker) Name() string      { return t.name }
func (t *Tracker) GroupName() string { return t.group }

func (t *Tracker) OnReady(p *Pipeline) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pipeline = p
}

// TrackEvent enqueues an event record. Events tracked before the
// tracker is registered are dropped.
func (t *Tracker) TrackEvent(name string, properties map[string]string, priority logrecord.Priority) {
	t.track(&logrecord.Record{
		Type:       logrecord.TypeEvent,
		ID:         uuid.NewString(),
		Name:       name,
		Properties: maps.Clone(properties),
	}, priority)
}

// TrackPage enqueues a page record.
func (t *Tracker) TrackPage(name string, properties map[string]string) {
	t.track(&logrecord.Record{
		Type:       logrecord.TypePage,
		Name:       name,
		Properties: maps.Clone(properties),
	}, 0)
}

func (t *Tracker) track(record *logrecord.Record, priority logrecord.Priority) {
	t.mu.Lock()
	p := t.pipeline
	if len(t.tokens) > 0 {
		record.Tokens = append([]string(nil), t.tokens...)
	}
	t.mu.Unlock()
	if p == nil {
		return
	}
	p.Enqueue(record, t.group, priority)
}
