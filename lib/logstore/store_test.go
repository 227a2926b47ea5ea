// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/sealed"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T, path string, configure func(*Config)) *Store {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "outbox.db")
	}
	cfg := Config{Path: path, Logger: testLogger()}
	if configure != nil {
		configure(&cfg)
	}
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func event(name string) *logrecord.Record {
	return &logrecord.Record{
		Type:      logrecord.TypeEvent,
		Timestamp: logrecord.NewTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		SessionID: "S1",
		ID:        "id-" + name,
		Name:      name,
	}
}

func put(t *testing.T, store *Store, group string, records ...*logrecord.Record) {
	t.Helper()
	for _, record := range records {
		if err := store.Put(context.Background(), group, record, logrecord.PriorityNormal); err != nil {
			t.Fatalf("Put(%s): %v", record.Name, err)
		}
	}
}

func take(t *testing.T, store *Store, group string, limit int) *Batch {
	t.Helper()
	batch, err := store.Take(context.Background(), group, limit, nil)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	return batch
}

func names(batch *Batch) []string {
	if batch == nil {
		return nil
	}
	var result []string
	for _, record := range batch.Records {
		result = append(result, record.Name)
	}
	return result
}

func count(t *testing.T, store *Store, group string) int {
	t.Helper()
	n, err := store.Count(context.Background(), group)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestTakeReturnsInsertionOrder(t *testing.T) {
	store := openTestStore(t, "", nil)
	put(t, store, "analytics", event("a"), event("b"), event("c"))

	batch := take(t, store, "analytics", 10)
	if got := names(batch); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("Take returned %v, want [a b c]", got)
	}
	if batch.ID == "" || batch.Group != "analytics" || len(batch.IDs) != 3 {
		t.Fatalf("batch = %+v", batch)
	}
	if got := batch.Records[0]; got.SessionID != "S1" || got.ID != "id-a" || got.Type != logrecord.TypeEvent {
		t.Fatalf("decoded record = %+v", got)
	}
}

func TestTakeEmptyGroup(t *testing.T) {
	store := openTestStore(t, "", nil)
	if batch := take(t, store, "analytics", 10); batch != nil {
		t.Fatalf("Take on empty group = %+v, want nil", batch)
	}
	if _, err := store.Take(context.Background(), "analytics", 0, nil); err == nil {
		t.Fatal("Take accepted limit 0")
	}
}

func TestTakeNeverReturnsPendingRecords(t *testing.T) {
	store := openTestStore(t, "", nil)
	put(t, store, "analytics", event("a"), event("b"), event("c"), event("d"), event("e"))

	first := take(t, store, "analytics", 2)
	second := take(t, store, "analytics", 10)
	if got := names(first); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("first batch %v, want [a b]", got)
	}
	if got := names(second); !slices.Equal(got, []string{"c", "d", "e"}) {
		t.Fatalf("second batch %v, want [c d e]", got)
	}
	for _, id := range first.IDs {
		if slices.Contains(second.IDs, id) {
			t.Fatalf("record %d checked out in two outstanding batches", id)
		}
	}
	if third := take(t, store, "analytics", 10); third != nil {
		t.Fatalf("third batch %v, want nil while everything is pending", names(third))
	}
	if got := store.PendingCount(); got != 5 {
		t.Fatalf("PendingCount() = %d, want 5", got)
	}
}

func TestAckDeletesAndIsIdempotent(t *testing.T) {
	store := openTestStore(t, "", nil)
	ctx := context.Background()
	put(t, store, "analytics", event("a"), event("b"), event("c"))

	batch := take(t, store, "analytics", 2)
	if err := store.Ack(ctx, batch.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := count(t, store, "analytics"); got != 1 {
		t.Fatalf("Count after Ack = %d, want 1", got)
	}
	if err := store.Ack(ctx, batch.ID); err != nil {
		t.Fatalf("second Ack: %v", err)
	}
	if err := store.Ack(ctx, "no-such-batch"); err != nil {
		t.Fatalf("Ack of unknown batch: %v", err)
	}
	if got := count(t, store, "analytics"); got != 1 {
		t.Fatalf("Count after repeated Ack = %d, want 1", got)
	}
	if got := names(take(t, store, "analytics", 10)); !slices.Equal(got, []string{"c"}) {
		t.Fatalf("remaining records %v, want [c]", got)
	}
}

func TestRequeueMakesRecordsEligible(t *testing.T) {
	store := openTestStore(t, "", nil)
	put(t, store, "analytics", event("a"), event("b"))

	first := take(t, store, "analytics", 10)
	store.Requeue(first.ID)
	store.Requeue(first.ID)

	second := take(t, store, "analytics", 10)
	if !slices.Equal(second.IDs, first.IDs) {
		t.Fatalf("requeued ids %v, retaken %v", first.IDs, second.IDs)
	}
	if second.ID == first.ID {
		t.Fatal("retake reused the old batch id")
	}
	// Acking the stale batch must not delete the records checked out again.
	if err := store.Ack(context.Background(), first.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := count(t, store, "analytics"); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	store := openTestStore(t, "", nil)
	store.ConfigureGroup("analytics", 2)
	put(t, store, "analytics", event("A"), event("B"), event("C"))

	if got := names(take(t, store, "analytics", 10)); !slices.Equal(got, []string{"B", "C"}) {
		t.Fatalf("stored %v, want [B C]", got)
	}
}

func TestCapacityCountsDestinationRows(t *testing.T) {
	store := openTestStore(t, "", nil)
	store.ConfigureGroup("analytics", 2)

	shared := event("shared")
	shared.Tokens = []string{"tenantA-one", "tenantB-two"}
	put(t, store, "analytics", shared)
	if got := count(t, store, "analytics"); got != 2 {
		t.Fatalf("Count = %d, want one row per destination", got)
	}

	put(t, store, "analytics", event("later"))
	batch := take(t, store, "analytics", 10)
	if got := names(batch); !slices.Equal(got, []string{"shared", "later"}) {
		t.Fatalf("stored %v, want [shared later]", got)
	}
	if got := batch.Records[0].Tokens; !slices.Equal(got, []string{"tenantB-two"}) {
		t.Fatalf("surviving destinations of shared = %v, want only the newer row", got)
	}
}

func TestCapacityNeverEvictsPending(t *testing.T) {
	store := openTestStore(t, "", nil)
	store.ConfigureGroup("analytics", 2)
	put(t, store, "analytics", event("A"), event("B"))
	batch := take(t, store, "analytics", 10)

	put(t, store, "analytics", event("C"))
	if got := count(t, store, "analytics"); got != 3 {
		t.Fatalf("Count = %d, want 3 (over capacity while everything else is pending)", got)
	}

	// Once the batch is released, the next put evicts back to capacity.
	store.Requeue(batch.ID)
	put(t, store, "analytics", event("D"))
	if got := names(take(t, store, "analytics", 10)); !slices.Equal(got, []string{"C", "D"}) {
		t.Fatalf("stored %v, want [C D]", got)
	}
}

func TestCapacityPrefersLowerPriority(t *testing.T) {
	store := openTestStore(t, "", nil)
	ctx := context.Background()
	store.ConfigureGroup("crashes", 2)

	if err := store.Put(ctx, "crashes", event("critical"), logrecord.PriorityHigh); err != nil {
		t.Fatalf("Put: %v", err)
	}
	put(t, store, "crashes", event("old"), event("new"))
	if got := names(take(t, store, "crashes", 10)); !slices.Equal(got, []string{"critical", "new"}) {
		t.Fatalf("stored %v, want [critical new]", got)
	}
}

func TestCapacityNormalRecordCannotEvictHigh(t *testing.T) {
	store := openTestStore(t, "", nil)
	ctx := context.Background()
	store.ConfigureGroup("crashes", 1)

	if err := store.Put(ctx, "crashes", event("critical"), logrecord.PriorityHigh); err != nil {
		t.Fatalf("Put: %v", err)
	}
	put(t, store, "crashes", event("normal"))
	if got := count(t, store, "crashes"); got != 2 {
		t.Fatalf("Count = %d, want 2: a normal record must not evict a high one", got)
	}
}

func TestCorruptRecordIsDeletedAndSkipped(t *testing.T) {
	store := openTestStore(t, "", nil)
	put(t, store, "analytics", event("a"), event("b"), event("c"))

	conn, err := store.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("pool.Take: %v", err)
	}
	err = sqlitex.Execute(conn, `UPDATE logs SET payload = ?, payload_size = 3 WHERE id = (SELECT id FROM logs ORDER BY id LIMIT 1 OFFSET 1)`,
		&sqlitex.ExecOptions{Args: []any{[]byte{0xff, 0x00, 0x13}}})
	store.pool.Put(conn)
	if err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	batch := take(t, store, "analytics", 10)
	if got := names(batch); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("Take returned %v, want [a c]", got)
	}
	if got := count(t, store, "analytics"); got != 2 {
		t.Fatalf("Count = %d, want 2 after the corrupt row is deleted", got)
	}
}

func TestCorruptRecordDoesNotConsumeLimit(t *testing.T) {
	store := openTestStore(t, "", nil)
	put(t, store, "analytics", event("a"), event("b"))

	conn, err := store.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("pool.Take: %v", err)
	}
	err = sqlitex.Execute(conn, `UPDATE logs SET type = 'page' WHERE id = (SELECT MIN(id) FROM logs)`, nil)
	store.pool.Put(conn)
	if err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	if got := names(take(t, store, "analytics", 1)); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("Take(limit 1) returned %v, want [b]", got)
	}
}

func TestCorruptPayloadIsLogged(t *testing.T) {
	var logs bytes.Buffer
	store := openTestStore(t, "", func(cfg *Config) {
		cfg.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})
	put(t, store, "analytics", event("a"), event("b"), event("c"))

	conn, err := store.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("pool.Take: %v", err)
	}
	// Row a: not CBOR at all. Row b: CBOR, but an array where a record
	// belongs.
	err = sqlitex.Execute(conn, `UPDATE logs SET payload = ?, payload_size = 3 WHERE id = (SELECT MIN(id) FROM logs)`,
		&sqlitex.ExecOptions{Args: []any{[]byte{0xff, 0x00, 0x13}}})
	if err == nil {
		err = sqlitex.Execute(conn, `UPDATE logs SET payload = ?, payload_size = 3 WHERE id = (SELECT id FROM logs ORDER BY id LIMIT 1 OFFSET 1)`,
			&sqlitex.ExecOptions{Args: []any{[]byte{0x82, 0x01, 0x02}}})
	}
	store.pool.Put(conn)
	if err != nil {
		t.Fatalf("corrupting rows: %v", err)
	}

	if got := names(take(t, store, "analytics", 10)); !slices.Equal(got, []string{"c"}) {
		t.Fatalf("Take returned %v, want [c]", got)
	}
	output := logs.String()
	if !strings.Contains(output, "not well-formed CBOR") {
		t.Errorf("log does not explain the malformed payload:\n%s", output)
	}
	if !strings.Contains(output, "corrupt record payload") || !strings.Contains(output, "[1, 2]") {
		t.Errorf("log lacks the diagnostic form of the mismatched payload:\n%s", output)
	}
}

func TestClearGroup(t *testing.T) {
	store := openTestStore(t, "", nil)
	ctx := context.Background()
	put(t, store, "analytics", event("a"), event("b"))
	put(t, store, "crashes", event("x"))
	take(t, store, "analytics", 1)
	take(t, store, "crashes", 1)
	if got := store.PendingCount("analytics"); got != 1 {
		t.Fatalf("PendingCount(analytics) = %d, want 1", got)
	}

	if err := store.ClearGroup(ctx, "analytics"); err != nil {
		t.Fatalf("ClearGroup: %v", err)
	}
	if got := count(t, store, "analytics"); got != 0 {
		t.Fatalf("analytics Count = %d, want 0", got)
	}
	if got := store.PendingCount("analytics"); got != 0 {
		t.Fatalf("PendingCount(analytics) = %d, want 0", got)
	}
	if got := store.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want the crashes checkout", got)
	}
	if got := count(t, store, "crashes"); got != 1 {
		t.Fatalf("crashes Count = %d, want 1", got)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if len(counts) != 1 || counts["crashes"] != 1 {
		t.Fatalf("Counts() = %v", counts)
	}
}

func TestClearPending(t *testing.T) {
	store := openTestStore(t, "", nil)
	put(t, store, "analytics", event("a"))
	first := take(t, store, "analytics", 10)

	store.ClearPending()
	second := take(t, store, "analytics", 10)
	if second == nil || !slices.Equal(second.IDs, first.IDs) {
		t.Fatalf("after ClearPending Take returned %v", second)
	}
}

func TestReopenForgetsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	first, err := Open(Config{Path: path, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	put(t, first, "analytics", event("a"), event("b"))
	take(t, first, "analytics", 10)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openTestStore(t, path, nil)
	if got := names(take(t, second, "analytics", 10)); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("after reopen Take returned %v, want [a b]", got)
	}
}

func TestTokensAreSplitAndSealed(t *testing.T) {
	identity, err := sealed.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	sealer, err := sealed.New(identity)
	if err != nil {
		t.Fatalf("sealed.New: %v", err)
	}
	store := openTestStore(t, "", func(cfg *Config) { cfg.Sealer = sealer })

	record := event("purchase")
	record.Tokens = []string{"tenantA-secret1", "tenantB-secret2"}
	put(t, store, "oneCollector", record)

	conn, err := store.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("pool.Take: %v", err)
	}
	var stored []string
	err = sqlitex.Execute(conn, `SELECT target_token, payload FROM logs ORDER BY id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stored = append(stored, stmt.ColumnText(0))
			payload := make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, payload)
			if strings.Contains(string(payload), "secret") {
				t.Errorf("payload contains a destination token")
			}
			return nil
		},
	})
	store.pool.Put(conn)
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("%d rows stored, want one per token", len(stored))
	}
	for _, token := range stored {
		if !strings.HasPrefix(token, sealedPrefix) || strings.Contains(token, "secret") {
			t.Fatalf("target_token %q is not sealed", token)
		}
	}

	batch := take(t, store, "oneCollector", 10)
	if len(batch.Records) != 2 {
		t.Fatalf("Take returned %d records, want 2", len(batch.Records))
	}
	if got := batch.Records[0].Tokens; !slices.Equal(got, []string{"tenantA-secret1"}) {
		t.Errorf("first record tokens %v", got)
	}
	if got := batch.Records[1].Tokens; !slices.Equal(got, []string{"tenantB-secret2"}) {
		t.Errorf("second record tokens %v", got)
	}
	if record.Tokens[0] != "tenantA-secret1" {
		t.Error("Put modified the caller's record")
	}
}

func TestTakeSkipsExcludedTargets(t *testing.T) {
	store := openTestStore(t, "", nil)
	paused := event("paused")
	paused.Tokens = []string{"tenantA-one"}
	active := event("active")
	active.Tokens = []string{"tenantB-two"}
	untargeted := event("untargeted")
	put(t, store, "oneCollector", paused, active, untargeted)

	batch, err := store.Take(context.Background(), "oneCollector", 10, []string{TargetKey("tenantA-another-secret")})
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if got := names(batch); !slices.Equal(got, []string{"active", "untargeted"}) {
		t.Fatalf("Take returned %v, want [active untargeted]", got)
	}
}

func TestTargetKey(t *testing.T) {
	if TargetKey("") != "" {
		t.Fatal("empty token has a key")
	}
	if TargetKey("tenant-a") != TargetKey("tenant-b") {
		t.Fatal("tokens of one tenant map to different keys")
	}
	if TargetKey("tenant-a") == TargetKey("other-a") {
		t.Fatal("tokens of different tenants share a key")
	}
	if key := TargetKey("tenant-a"); len(key) != 32 || strings.Contains(key, "tenant") {
		t.Fatalf("TargetKey = %q", key)
	}
}

func TestPayloadCompression(t *testing.T) {
	for _, algorithm := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(algorithm.String(), func(t *testing.T) {
			store := openTestStore(t, "", func(cfg *Config) {
				cfg.Compression = algorithm
				cfg.CompressionThreshold = 64
			})
			record := event("large")
			record.Properties = map[string]string{}
			for i := range 20 {
				record.Properties[fmt.Sprintf("key%02d", i)] = strings.Repeat("value ", 20)
			}
			put(t, store, "analytics", record)

			conn, err := store.pool.Take(context.Background())
			if err != nil {
				t.Fatalf("pool.Take: %v", err)
			}
			var stored Compression
			err = sqlitex.Execute(conn, `SELECT compression FROM logs`, &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stored = Compression(stmt.ColumnInt64(0))
					return nil
				},
			})
			store.pool.Put(conn)
			if err != nil {
				t.Fatalf("SELECT: %v", err)
			}
			if stored != algorithm {
				t.Fatalf("stored compression %s, want %s", stored, algorithm)
			}

			batch := take(t, store, "analytics", 1)
			if got := batch.Records[0].Properties["key07"]; got != strings.Repeat("value ", 20) {
				t.Fatalf("decompressed property = %q", got)
			}
		})
	}
}

func TestSmallPayloadIsNotCompressed(t *testing.T) {
	stored, compression, err := compressPayload([]byte("tiny"), CompressionZstd, 64)
	if err != nil {
		t.Fatalf("compressPayload: %v", err)
	}
	if compression != CompressionNone || string(stored) != "tiny" {
		t.Fatalf("compressPayload = %q, %s", stored, compression)
	}
	if _, err := decompressPayload([]byte("tiny"), CompressionNone, 5); err == nil {
		t.Fatal("size mismatch not detected")
	}
}

func TestSetMaxStorageSize(t *testing.T) {
	store := openTestStore(t, "", nil)
	ctx := context.Background()
	put(t, store, "analytics", event("a"))

	ok, err := store.SetMaxStorageSize(ctx, 64<<20)
	if err != nil {
		t.Fatalf("SetMaxStorageSize: %v", err)
	}
	if !ok {
		t.Fatal("SetMaxStorageSize(64 MiB) = false")
	}

	ok, err = store.SetMaxStorageSize(ctx, 1024)
	if err != nil {
		t.Fatalf("SetMaxStorageSize: %v", err)
	}
	if ok {
		t.Fatal("SetMaxStorageSize below the current size = true")
	}
	// The previous cap still allows writes.
	put(t, store, "analytics", event("b"))
}

func TestSessionsRoundTrip(t *testing.T) {
	store := openTestStore(t, "", nil)
	ctx := context.Background()
	entries := []SessionEntry{
		{ID: "", Start: time.UnixMilli(1000).UTC()},
		{ID: "S1", Start: time.UnixMilli(2000).UTC()},
	}
	if err := store.SaveSessions(ctx, entries); err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}
	if err := store.SaveSessions(ctx, entries[1:]); err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}
	loaded, err := store.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "S1" || !loaded[0].Start.Equal(entries[1].Start) {
		t.Fatalf("LoadSessions = %+v", loaded)
	}
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	inner := errors.New("disk on fire")
	var err error = &PersistenceError{Op: "put", Group: "analytics", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("PersistenceError does not unwrap")
	}
	if !strings.Contains(err.Error(), "analytics") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestConcurrentPutAndTake(t *testing.T) {
	store := openTestStore(t, "", nil)
	ctx := context.Background()

	const producers, perProducer, consumers = 4, 25, 3
	var produced sync.WaitGroup
	var done atomic.Bool
	for i := range producers {
		produced.Add(1)
		go func() {
			defer produced.Done()
			for j := range perProducer {
				if err := store.Put(ctx, "analytics", event(fmt.Sprintf("p%d-%d", i, j)), logrecord.PriorityNormal); err != nil {
					t.Errorf("Put: %v", err)
					return
				}
			}
		}()
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var consumed sync.WaitGroup
	for range consumers {
		consumed.Add(1)
		go func() {
			defer consumed.Done()
			for {
				finished := done.Load()
				batch, err := store.Take(ctx, "analytics", 7, nil)
				if err != nil {
					t.Errorf("Take: %v", err)
					return
				}
				if batch == nil {
					if finished {
						return
					}
					continue
				}
				mu.Lock()
				for _, record := range batch.Records {
					seen[record.Name]++
				}
				mu.Unlock()
				if err := store.Ack(ctx, batch.ID); err != nil {
					t.Errorf("Ack: %v", err)
					return
				}
			}
		}()
	}
	produced.Wait()
	done.Store(true)
	consumed.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("consumed %d distinct records, want %d", len(seen), producers*perProducer)
	}
	for name, n := range seen {
		if n != 1 {
			t.Fatalf("record %s taken %d times", name, n)
		}
	}
	if got := count(t, store, "analytics"); got != 0 {
		t.Fatalf("Count = %d after every batch was acked", got)
	}
	if got := store.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() = %d, want 0", got)
	}
}
