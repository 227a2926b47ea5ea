// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logstore is the durable outbox: a SQLite table of records
// keyed by group, with an in-memory record of which rows are checked
// out in an unacknowledged batch.
//
// # Rows
//
// One row per (record, destination token). A record with no tokens is
// one row with NULL token columns. Each row holds:
//
//   - the group name, the record type and its persisted priority;
//   - the CBOR payload (lib/codec) of the record without its tokens,
//     optionally compressed (see Compression);
//   - target_token: the destination token, sealed with age when the
//     store has a Sealer;
//   - target_key: a keyed BLAKE3 digest of the token's tenant prefix,
//     so records of a paused tenant can be skipped without decrypting
//     anything.
//
// # Checkout
//
// Take scans a group in insertion order, skips rows that are pending
// in another batch, and marks what it returns as pending under a new
// batch id. Ack deletes a batch's rows; Requeue releases them for a
// later Take. Pending state lives only in memory: after a restart
// every persisted row is eligible again, which is what gives the
// pipeline at-least-once delivery.
//
// Put and Take on one group are serialized by a per-group mutex.
// Different groups never wait on each other except for SQLite's own
// single-writer lock.
//
// # Capacity
//
// Each group may have a capacity (ConfigureGroup), counted in rows. A
// record with several destination tokens occupies one row per token,
// and eviction works row by row, so an old record may lose some
// destinations while others are still delivered. A Put that takes the
// group over capacity evicts the lowest-priority, oldest rows that are
// not pending and do not outrank the new record. If
// nothing qualifies the group stays over capacity until a later Put
// or Ack. The whole database is bounded by SetMaxStorageSize; a Put
// that hits the bound evicts and retries.
package logstore
