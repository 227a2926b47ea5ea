// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for outbox packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern used to observe asynchronous completions. They are the only
// place tests wait on the wall clock; everything else runs on
// clock.Fake. [RequireEmpty] is the non-blocking counterpart.
//
// [Event] and [UniqueID] build records with distinguishable ids.
//
// All helpers call t.Fatalf on failure.
package testutil
