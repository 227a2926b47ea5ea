// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SessionEntry is one persisted session boundary: the session that
// became active at Start. An empty ID marks a process launch with no
// session yet.
type SessionEntry struct {
	ID    string
	Start time.Time
}

// LoadSessions returns the persisted session history, oldest first.
func (s *Store) LoadSessions(ctx context.Context) ([]SessionEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load sessions", Err: err}
	}
	defer s.pool.Put(conn)

	var entries []SessionEntry
	err = sqlitex.Execute(conn, `SELECT sid, started_at FROM sessions ORDER BY position`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, SessionEntry{
				ID:    stmt.ColumnText(0),
				Start: time.UnixMilli(stmt.ColumnInt64(1)).UTC(),
			})
			return nil
		},
	})
	if err != nil {
		return nil, &PersistenceError{Op: "load sessions", Err: err}
	}
	return entries, nil
}

// SaveSessions replaces the persisted session history.
func (s *Store) SaveSessions(ctx context.Context, entries []SessionEntry) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return &PersistenceError{Op: "save sessions", Err: err}
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return &PersistenceError{Op: "save sessions", Err: err}
	}
	defer endTransaction(&err)

	if err := sqlitex.Execute(conn, `DELETE FROM sessions`, nil); err != nil {
		return &PersistenceError{Op: "save sessions", Err: err}
	}
	for position, entry := range entries {
		err := sqlitex.Execute(conn, `INSERT INTO sessions (position, sid, started_at) VALUES (?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{int64(position), entry.ID, entry.Start.UnixMilli()},
		})
		if err != nil {
			return &PersistenceError{Op: "save sessions", Err: err}
		}
	}
	return nil
}
