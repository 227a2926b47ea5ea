// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import "fmt"

// PersistenceError reports a failed store operation. The record
// involved in a failed Put is not stored.
type PersistenceError struct {
	Op    string
	Group string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("logstore: %s %q: %v", e.Op, e.Group, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CorruptRecordError describes a row whose payload could not be read
// back. Take deletes such rows and logs this error; it is never
// returned to callers.
type CorruptRecordError struct {
	ID    int64
	Group string
	Err   error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("logstore: corrupt record %d in %q: %v", e.ID, e.Group, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }
