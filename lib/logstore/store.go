// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/outbox/lib/codec"
	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/sealed"
	"github.com/bureau-foundation/outbox/lib/sqlitepool"
)

// DefaultCompressionThreshold is the payload size at which compression
// is attempted when Config.CompressionThreshold is zero.
const DefaultCompressionThreshold = 4096

// sealedPrefix marks a target_token value written through a Sealer.
const sealedPrefix = "age:"

// ErrStorageFull is wrapped by the PersistenceError of a Put that hit
// the storage cap with nothing left to evict.
var ErrStorageFull = errors.New("storage full")

// errStopScan ends a row scan early. It never escapes this package.
var errStopScan = errors.New("stop scan")

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. Required.
	Path string

	// PoolSize is the SQLite connection pool size.
	PoolSize int

	// Logger receives evictions, corrupt rows and pool messages.
	// Required.
	Logger *slog.Logger

	// Sealer, if set, encrypts destination tokens at rest.
	Sealer *sealed.Sealer

	// Compression is applied to payloads of at least
	// CompressionThreshold bytes. CompressionNone disables it.
	Compression          Compression
	CompressionThreshold int
}

// Store is the durable outbox. It is safe for concurrent use.
type Store struct {
	pool      *sqlitepool.Pool
	logger    *slog.Logger
	sealer    *sealed.Sealer
	algorithm Compression
	threshold int

	groupsMu sync.Mutex
	groups   map[string]*groupState

	// mu guards pending and batches. It is never held across SQLite
	// calls.
	mu      sync.Mutex
	pending map[int64]string
	batches map[string]*checkout
}

type groupState struct {
	// mu serializes Put, Take and ClearGroup on the group.
	mu       sync.Mutex
	capacity int
}

type checkout struct {
	group string
	ids   []int64
}

// Batch is a set of records checked out together by Take.
type Batch struct {
	ID    string
	Group string

	// Records and IDs are parallel: IDs[i] is the row of Records[i].
	Records []*logrecord.Record
	IDs     []int64
}

// Open opens or creates the store at cfg.Path. Pending state starts
// empty.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logstore: Logger is required")
	}
	threshold := cfg.CompressionThreshold
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Path,
		PoolSize:  cfg.PoolSize,
		Logger:    cfg.Logger,
		OnConnect: initSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("logstore: %w", err)
	}

	return &Store{
		pool:      pool,
		logger:    cfg.Logger,
		sealer:    cfg.Sealer,
		algorithm: cfg.Compression,
		threshold: threshold,
		groups:    make(map[string]*groupState),
		pending:   make(map[int64]string),
		batches:   make(map[string]*checkout),
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) group(name string) *groupState {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	state, ok := s.groups[name]
	if !ok {
		state = &groupState{}
		s.groups[name] = state
	}
	return state
}

// ConfigureGroup sets the capacity of a group in rows: one per record,
// or one per destination token for records that carry tokens. Zero
// means unbounded. The new capacity is enforced on the next Put.
func (s *Store) ConfigureGroup(name string, capacity int) {
	state := s.group(name)
	state.mu.Lock()
	state.capacity = max(capacity, 0)
	state.mu.Unlock()
}

type row struct {
	kind        string
	priority    int64
	targetKey   any
	targetToken any
	compression Compression
	size        int
	payload     []byte
}

// encodeRows produces one row per destination token of record.
func (s *Store) encodeRows(record *logrecord.Record, priority logrecord.Priority) ([]row, error) {
	stripped := *record
	stripped.Tokens = nil
	data, err := codec.Marshal(&stripped)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	payload, compression, err := compressPayload(data, s.algorithm, s.threshold)
	if err != nil {
		return nil, err
	}

	tokens := record.Tokens
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	rows := make([]row, 0, len(tokens))
	for _, token := range tokens {
		r := row{
			kind:        string(record.Type),
			priority:    int64(priority),
			compression: compression,
			size:        len(data),
			payload:     payload,
		}
		if token != "" {
			r.targetKey = TargetKey(token)
			r.targetToken = token
			if s.sealer != nil {
				ciphertext, err := s.sealer.Seal(token)
				if err != nil {
					return nil, err
				}
				r.targetToken = sealedPrefix + ciphertext
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Put persists record in group. A record with several destination
// tokens is stored once per token. When the group is over capacity
// afterwards, older rows are evicted as described in the package
// documentation; the new rows are never evicted by their own Put.
func (s *Store) Put(ctx context.Context, group string, record *logrecord.Record, priority logrecord.Priority) error {
	rows, err := s.encodeRows(record, priority)
	if err != nil {
		return &PersistenceError{Op: "put", Group: group, Err: err}
	}

	state := s.group(group)
	state.mu.Lock()
	defer state.mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return &PersistenceError{Op: "put", Group: group, Err: err}
	}
	defer s.pool.Put(conn)

	for evict := int64(1); ; evict *= 2 {
		err = s.insertRows(conn, group, rows, int64(priority), state.capacity)
		if err == nil {
			return nil
		}
		if sqlite.ErrCode(err) != sqlite.ResultFull {
			return &PersistenceError{Op: "put", Group: group, Err: err}
		}
		evicted, evictErr := s.evictForSpace(conn, int64(priority), evict)
		if evictErr != nil {
			return &PersistenceError{Op: "put", Group: group, Err: errors.Join(err, evictErr)}
		}
		if evicted == 0 {
			return &PersistenceError{Op: "put", Group: group, Err: fmt.Errorf("%w: %v", ErrStorageFull, err)}
		}
		s.logger.Warn("storage cap reached, evicted records", "group", group, "evicted", evicted)
	}
}

const insertRow = `INSERT INTO logs (grp, type, priority, target_key, target_token, compression, payload_size, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) insertRows(conn *sqlite.Conn, group string, rows []row, priority int64, capacity int) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endTransaction(&err)

	inserted := make(map[int64]bool, len(rows))
	for _, r := range rows {
		err := sqlitex.Execute(conn, insertRow, &sqlitex.ExecOptions{
			Args: []any{group, r.kind, r.priority, r.targetKey, r.targetToken, int64(r.compression), int64(r.size), r.payload},
		})
		if err != nil {
			return err
		}
		inserted[conn.LastInsertRowID()] = true
	}
	if capacity > 0 {
		return s.enforceCapacity(conn, group, priority, capacity, inserted)
	}
	return nil
}

// enforceCapacity evicts rows of group until it holds at most capacity
// rows or nothing else may be evicted.
func (s *Store) enforceCapacity(conn *sqlite.Conn, group string, priority int64, capacity int, keep map[int64]bool) error {
	count, err := countRows(conn, group)
	if err != nil {
		return err
	}
	excess := count - capacity
	if excess <= 0 {
		return nil
	}

	victims, err := s.evictionCandidates(conn,
		`SELECT id FROM logs WHERE grp = ? AND priority <= ? ORDER BY priority, id`,
		[]any{group, priority}, excess, keep)
	if err != nil {
		return err
	}
	if err := deleteRows(conn, victims); err != nil {
		return err
	}
	if len(victims) < excess {
		s.logger.Debug("group over capacity, remaining records are pending or outrank the new record",
			"group", group,
			"capacity", capacity,
			"records", count-len(victims),
		)
	}
	if len(victims) > 0 {
		s.logger.Debug("evicted records over group capacity", "group", group, "evicted", len(victims))
	}
	return nil
}

// evictForSpace deletes up to limit of the lowest-priority, oldest
// non-pending rows in the whole database.
func (s *Store) evictForSpace(conn *sqlite.Conn, priority int64, limit int64) (int, error) {
	victims, err := s.evictionCandidates(conn,
		`SELECT id FROM logs WHERE priority <= ? ORDER BY priority, id`,
		[]any{priority}, int(limit), nil)
	if err != nil {
		return 0, err
	}
	return len(victims), deleteRows(conn, victims)
}

func (s *Store) evictionCandidates(conn *sqlite.Conn, query string, args []any, limit int, keep map[int64]bool) ([]int64, error) {
	var victims []int64
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id := stmt.ColumnInt64(0)
			if keep[id] || s.isPending(id) {
				return nil
			}
			victims = append(victims, id)
			if len(victims) == limit {
				return errStopScan
			}
			return nil
		},
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return victims, nil
}

func (s *Store) isPending(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pending := s.pending[id]
	return pending
}

// Take checks out up to limit records of group in insertion order,
// skipping rows pending in another batch and rows whose target key is
// in excludedKeys (see TargetKey). Rows that fail to decode are
// deleted and skipped. Take returns nil when nothing is eligible.
func (s *Store) Take(ctx context.Context, group string, limit int, excludedKeys []string) (*Batch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("logstore: take limit must be positive, got %d", limit)
	}
	excluded := make(map[string]bool, len(excludedKeys))
	for _, key := range excludedKeys {
		excluded[key] = true
	}

	state := s.group(group)
	state.mu.Lock()
	defer state.mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "take", Group: group, Err: err}
	}
	defer s.pool.Put(conn)

	batch := &Batch{Group: group}
	var corrupt []*CorruptRecordError
	err = sqlitex.Execute(conn,
		`SELECT id, type, compression, payload_size, payload, target_key, target_token FROM logs WHERE grp = ? ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: []any{group},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id := stmt.ColumnInt64(0)
				if s.isPending(id) || excluded[stmt.ColumnText(5)] {
					return nil
				}
				record, err := s.decodeRow(stmt)
				if err != nil {
					corrupt = append(corrupt, &CorruptRecordError{ID: id, Group: group, Err: err})
					return nil
				}
				batch.Records = append(batch.Records, record)
				batch.IDs = append(batch.IDs, id)
				if len(batch.Records) == limit {
					return errStopScan
				}
				return nil
			},
		})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, &PersistenceError{Op: "take", Group: group, Err: err}
	}

	if len(corrupt) > 0 {
		ids := make([]int64, len(corrupt))
		for i, record := range corrupt {
			ids[i] = record.ID
			s.logger.Warn("deleting corrupt record", "group", group, "record_id", record.ID, "error", record.Err)
		}
		if err := deleteRows(conn, ids); err != nil {
			s.logger.Error("deleting corrupt records failed", "group", group, "error", err)
		}
	}

	if len(batch.Records) == 0 {
		return nil, nil
	}

	batch.ID = uuid.NewString()
	s.mu.Lock()
	for _, id := range batch.IDs {
		s.pending[id] = batch.ID
	}
	s.batches[batch.ID] = &checkout{group: group, ids: batch.IDs}
	s.mu.Unlock()
	return batch, nil
}

func (s *Store) decodeRow(stmt *sqlite.Stmt) (*logrecord.Record, error) {
	stored := make([]byte, stmt.ColumnLen(4))
	stmt.ColumnBytes(4, stored)
	data, err := decompressPayload(stored, Compression(stmt.ColumnInt64(2)), int(stmt.ColumnInt64(3)))
	if err != nil {
		return nil, err
	}

	if err := codec.Wellformed(data); err != nil {
		return nil, fmt.Errorf("payload is not well-formed CBOR: %w", err)
	}
	record := new(logrecord.Record)
	if err := codec.Unmarshal(data, record); err != nil {
		s.diagnose(stmt.ColumnInt64(0), data)
		return nil, err
	}
	if kind := stmt.ColumnText(1); string(record.Type) != kind || !record.Type.Known() {
		s.diagnose(stmt.ColumnInt64(0), data)
		return nil, fmt.Errorf("payload type %q does not match row type %q", record.Type, kind)
	}

	if token := stmt.ColumnText(6); token != "" {
		if ciphertext, ok := strings.CutPrefix(token, sealedPrefix); ok {
			if s.sealer == nil {
				return nil, fmt.Errorf("destination token is sealed and the store has no identity")
			}
			token, err = s.sealer.Open(ciphertext)
			if err != nil {
				return nil, err
			}
		}
		record.Tokens = []string{token}
	}
	return record, nil
}

// diagnose logs a payload that is CBOR but not a valid record.
func (s *Store) diagnose(id int64, data []byte) {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	text, err := codec.Diagnose(data)
	if err != nil {
		return
	}
	s.logger.Debug("corrupt record payload", "record_id", id, "payload", text)
}

// Ack deletes the rows of a batch and forgets the batch. Acking an
// unknown or already acknowledged batch does nothing.
func (s *Store) Ack(ctx context.Context, batchID string) error {
	s.mu.Lock()
	batch, ok := s.batches[batchID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return &PersistenceError{Op: "ack", Group: batch.group, Err: err}
	}
	defer s.pool.Put(conn)

	if err := deleteRows(conn, batch.ids); err != nil {
		return &PersistenceError{Op: "ack", Group: batch.group, Err: err}
	}
	s.release(batchID)
	return nil
}

// Requeue makes the rows of a batch eligible for Take again. Unknown
// batches are ignored.
func (s *Store) Requeue(batchID string) {
	s.release(batchID)
}

func (s *Store) release(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return
	}
	delete(s.batches, batchID)
	for _, id := range batch.ids {
		if s.pending[id] == batchID {
			delete(s.pending, id)
		}
	}
}

// ClearPending forgets every outstanding batch without deleting rows.
func (s *Store) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pending)
	clear(s.batches)
}

// ClearGroup deletes every row of group and forgets its outstanding
// batches.
func (s *Store) ClearGroup(ctx context.Context, group string) error {
	state := s.group(group)
	state.mu.Lock()
	defer state.mu.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return &PersistenceError{Op: "clear", Group: group, Err: err}
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM logs WHERE grp = ?`, &sqlitex.ExecOptions{Args: []any{group}}); err != nil {
		return &PersistenceError{Op: "clear", Group: group, Err: err}
	}

	s.mu.Lock()
	for batchID, batch := range s.batches {
		if batch.group != group {
			continue
		}
		delete(s.batches, batchID)
		for _, id := range batch.ids {
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// Count returns the number of rows stored for group, pending or not.
func (s *Store) Count(ctx context.Context, group string) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, &PersistenceError{Op: "count", Group: group, Err: err}
	}
	defer s.pool.Put(conn)

	count, err := countRows(conn, group)
	if err != nil {
		return 0, &PersistenceError{Op: "count", Group: group, Err: err}
	}
	return count, nil
}

// Counts returns the number of rows of every group that has any.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "count", Err: err}
	}
	defer s.pool.Put(conn)

	counts := make(map[string]int)
	err = sqlitex.Execute(conn, `SELECT grp, COUNT(*) FROM logs GROUP BY grp`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			counts[stmt.ColumnText(0)] = int(stmt.ColumnInt64(1))
			return nil
		},
	})
	if err != nil {
		return nil, &PersistenceError{Op: "count", Err: err}
	}
	return counts, nil
}

// PendingCount returns how many rows are checked out, counting only
// groups when any are named.
func (s *Store) PendingCount(groups ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(groups) == 0 {
		return len(s.pending)
	}
	n := 0
	for _, batch := range s.batches {
		if slices.Contains(groups, batch.group) {
			n += len(batch.ids)
		}
	}
	return n
}

// SetMaxStorageSize caps the database file at bytes, rounded down to
// whole pages. It reports false and keeps the previous cap when the
// database is already larger than the request.
func (s *Store) SetMaxStorageSize(ctx context.Context, bytes int64) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, &PersistenceError{Op: "resize", Err: err}
	}
	pageSize, err := sqlitepool.PragmaInt64(conn, "page_size")
	if err == nil && pageSize <= 0 {
		err = fmt.Errorf("page_size is %d", pageSize)
	}
	var previous int64
	if err == nil {
		previous, err = sqlitepool.PragmaInt64(conn, "max_page_count")
	}
	s.pool.Put(conn)
	if err != nil {
		return false, &PersistenceError{Op: "resize", Err: err}
	}

	requested := bytes / pageSize
	accepted, err := s.pool.SetMaxPageCount(ctx, requested)
	if err != nil {
		return false, &PersistenceError{Op: "resize", Err: err}
	}
	if accepted == requested {
		s.logger.Info("storage cap set", "bytes", requested*pageSize)
		return true, nil
	}

	s.logger.Warn("storage cap below current database size, keeping previous cap",
		"requested_bytes", bytes,
		"current_bytes", accepted*pageSize,
	)
	if _, err := s.pool.SetMaxPageCount(ctx, previous); err != nil {
		return false, &PersistenceError{Op: "resize", Err: err}
	}
	return false, nil
}

func countRows(conn *sqlite.Conn, group string) (int, error) {
	var count int
	err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM logs WHERE grp = ?`, &sqlitex.ExecOptions{
		Args: []any{group},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	return count, err
}

// deleteRows deletes ids. It joins the caller's transaction if one is
// open and otherwise runs in its own.
func deleteRows(conn *sqlite.Conn, ids []int64) (err error) {
	if len(ids) == 0 {
		return nil
	}
	release := sqlitex.Save(conn)
	defer release(&err)
	for _, id := range ids {
		if err := sqlitex.Execute(conn, `DELETE FROM logs WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return err
		}
	}
	return nil
}
