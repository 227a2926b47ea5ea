// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/outbox/lib/sqlitepool"
)

func TestOpenAppliesPragmas(t *testing.T) {
	pool := openTestPool(t, 2, nil)
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	synchronous, err := sqlitepool.PragmaInt64(conn, "synchronous")
	if err != nil {
		t.Fatalf("PragmaInt64: %v", err)
	}
	if synchronous != 1 {
		t.Errorf("synchronous = %d, want 1 (NORMAL)", synchronous)
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	pool := openTestPool(t, 1, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS logs (id INTEGER PRIMARY KEY, body TEXT);`, nil)
	})
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)
	if err := sqlitex.Execute(conn, "INSERT INTO logs (body) VALUES (?)", &sqlitex.ExecOptions{Args: []any{"x"}}); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
}

func TestMaxPageCountReachesEveryConnection(t *testing.T) {
	pool := openTestPool(t, 2, nil)
	ctx := context.Background()

	// Prepare both connections before the cap changes.
	first, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	second, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	pool.Put(first)
	pool.Put(second)

	accepted, err := pool.SetMaxPageCount(ctx, 5000)
	if err != nil {
		t.Fatalf("SetMaxPageCount: %v", err)
	}
	if accepted != 5000 {
		t.Fatalf("accepted = %d, want 5000", accepted)
	}

	for range 2 {
		conn, err := pool.Take(ctx)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		defer pool.Put(conn)
		got, err := sqlitepool.PragmaInt64(conn, "max_page_count")
		if err != nil {
			t.Fatalf("PragmaInt64: %v", err)
		}
		if got != 5000 {
			t.Errorf("max_page_count = %d on a pooled connection, want 5000", got)
		}
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{Logger: discardLogger()}); err == nil {
		t.Error("Open accepted an empty Path")
	}
	if _, err := sqlitepool.Open(sqlitepool.Config{Path: filepath.Join(t.TempDir(), "x.db")}); err == nil {
		t.Error("Open accepted a nil Logger")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	pool := openTestPool(t, 1, nil)
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take succeeded on an exhausted pool with a cancelled context")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestPool(t *testing.T, size int, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		PoolSize:  size,
		Logger:    discardLogger(),
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
