// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/outbox/lib/logrecord"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test
// binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// Event returns an event record named name with a unique id and the
// given destination tokens. Timestamp and session id are left for the
// pipeline to assign.
func Event(name string, tokens ...string) *logrecord.Record {
	return &logrecord.Record{
		Type:   logrecord.TypeEvent,
		ID:     UniqueID("event"),
		Name:   name,
		Tokens: tokens,
	}
}
