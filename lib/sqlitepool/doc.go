// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool behind the outbox
// log store.
//
// It wraps zombiezen's sqlitex.Pool and prepares every connection the
// same way:
//
//   - journal_mode=WAL so the flush path can read while a producer
//     writes.
//   - synchronous=NORMAL: a committed put survives a process crash,
//     which is the failure the outbox must tolerate. Power loss may
//     drop the last transactions.
//   - busy_timeout=5000 so concurrent writers queue instead of failing
//     with SQLITE_BUSY.
//   - temp_store=MEMORY and a bounded page cache.
//
// # Storage cap
//
// SQLite's max_page_count is a per-connection setting. The pool keeps
// the current cap and applies it to each connection as it is taken,
// so SetMaxPageCount reaches connections that were prepared earlier.
//
// In-memory databases (":memory:") are private to one connection;
// open them with PoolSize 1.
package sqlitepool
