// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline constructs and wires the outbox: the SQLite store,
// the ingestion client behind a retry gate, the batching channel and
// the session correlator.
//
// A host builds one [Pipeline] with [New] and hands it to its
// features. There is no package-level instance. Features implement
// the small [Feature] interface and are registered with
// [Pipeline.Register]; each one owns a group and can be switched off
// with [Pipeline.SetFeatureEnabled], which deletes that group's
// stored records.
//
// Wiring performed by New:
//
//   - stale pending markers are cleared, so records checked out by a
//     previous process become eligible again;
//   - the gate's resume hook re-flushes every group with a backlog
//     when connectivity returns or the gate is reopened;
//   - the correlator is registered as a channel preparer and each new
//     session invalidates the channel's cached device snapshot.
//
// Foreground and background transitions reach the correlator through
// [Pipeline.Run], which consumes a host-fed event channel.
package pipeline
