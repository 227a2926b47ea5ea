// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	grp          TEXT    NOT NULL,
	type         TEXT    NOT NULL,
	priority     INTEGER NOT NULL,
	target_key   TEXT,
	target_token TEXT,
	compression  INTEGER NOT NULL DEFAULT 0,
	payload_size INTEGER NOT NULL,
	payload      BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS logs_by_group ON logs (grp, id);
CREATE INDEX IF NOT EXISTS logs_by_eviction ON logs (grp, priority, id);

CREATE TABLE IF NOT EXISTS sessions (
	position   INTEGER PRIMARY KEY,
	sid        TEXT    NOT NULL,
	started_at INTEGER NOT NULL
);
`

func initSchema(conn *sqlite.Conn) error {
	var version int64
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("logstore: reading schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("logstore: database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("logstore: creating schema: %w", err)
	}
	if err := sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version=%d", schemaVersion), nil); err != nil {
		return fmt.Errorf("logstore: writing schema version: %w", err)
	}
	return nil
}
