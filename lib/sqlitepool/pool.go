// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is used when Config.PoolSize is not positive. The
// outbox has at most a few writers and one reader per group.
const DefaultPoolSize = 4

// Config holds the parameters for opening a pool.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the number of connections. Defaults to
	// DefaultPoolSize.
	PoolSize int

	// Logger receives open/close messages. Required.
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas,
	// typically to create the schema. An error discards the
	// connection and fails the Take that triggered it.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of prepared connections. It is safe for
// concurrent use; a connection is owned by one goroutine between Take
// and Put.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string

	mu           sync.Mutex
	maxPageCount int64
	generation   uint64
	applied      map[*sqlite.Conn]uint64
}

// Open creates the pool. Connections are prepared lazily on first
// Take. The caller must Close the pool.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("sqlitepool: Logger is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	cfg.Logger.Info("sqlite pool opened", "path", cfg.Path, "pool_size", poolSize)
	return &Pool{
		inner:   inner,
		logger:  cfg.Logger,
		path:    cfg.Path,
		applied: make(map[*sqlite.Conn]uint64),
	}, nil
}

// Take borrows a connection, blocking until one is free or ctx is
// done. The current page cap is applied before the connection is
// returned. Pair every successful Take with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}

	p.mu.Lock()
	limit, generation := p.maxPageCount, p.generation
	stale := p.applied[conn] != generation
	p.mu.Unlock()

	if stale && limit > 0 {
		if _, err := applyMaxPageCount(conn, limit); err != nil {
			p.inner.Put(conn)
			return nil, err
		}
	}
	if stale {
		p.mu.Lock()
		p.applied[conn] = generation
		p.mu.Unlock()
	}
	return conn, nil
}

// Put returns a connection to the pool. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	if conn == nil {
		return
	}
	p.inner.Put(conn)
}

// SetMaxPageCount caps the database at pages pages and returns the cap
// SQLite actually accepted, which is never below the current page
// count. The new cap is applied immediately on one connection and
// lazily on the others.
func (p *Pool) SetMaxPageCount(ctx context.Context, pages int64) (int64, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: take: %w", err)
	}
	defer p.inner.Put(conn)

	accepted, err := applyMaxPageCount(conn, pages)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.maxPageCount = accepted
	p.generation++
	p.applied[conn] = p.generation
	p.mu.Unlock()
	return accepted, nil
}

// Close closes every connection, waiting for borrowed ones to be
// returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// PragmaInt64 runs a pragma that returns a single integer.
func PragmaInt64(conn *sqlite.Conn, pragma string) (int64, error) {
	var value int64
	err := sqlitex.ExecuteTransient(conn, "PRAGMA "+pragma, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: PRAGMA %s: %w", pragma, err)
	}
	return value, nil
}

func applyMaxPageCount(conn *sqlite.Conn, pages int64) (int64, error) {
	return PragmaInt64(conn, fmt.Sprintf("max_page_count=%d", pages))
}

func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-2048",
		"PRAGMA temp_store=MEMORY",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
