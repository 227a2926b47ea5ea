// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session stamps records with a session id.
//
// A session ends when the application has been idle long enough: no
// record for Timeout and, once foreground/background events have been
// seen, either a background period that is still running after
// Timeout or a completed one that lasted at least Timeout. The first
// record after that starts a new session: the Correlator persists a
// startSession record carrying the new id ahead of it. Listener events
// for that record are delivered after the Correlator's lock is
// released, so listeners may read the session or enqueue records.
//
// Records that already carry a timestamp were produced earlier (for
// example, crash reports from a previous run). They are stamped with
// the session that was active at that time, looked up in a small
// persisted History, and never start a session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/outbox/lib/clock"
	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/logstore"
)

// DefaultTimeout is the idle time after which a session ends.
const DefaultTimeout = 20 * time.Second

// Enqueuer persists startSession records. The channel implements it.
type Enqueuer interface {
	// EnqueueDeferred stores record without calling listeners and
	// returns a function that delivers what storing it caused.
	EnqueueDeferred(record *logrecord.Record, group string, priority logrecord.Priority) (notify func())
}

// Config holds the parameters for a Correlator.
type Config struct {
	// Enqueuer receives startSession records. Required.
	Enqueuer Enqueuer

	// Group is where startSession records go. Required.
	Group string

	// Clock is required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// HistorySize defaults to DefaultHistorySize.
	HistorySize int

	// Persister, if set, loads the history at construction and saves it
	// on every new session.
	Persister Persister

	// OnNewSession is called with each new session id before its
	// startSession record is stored. It runs under the Correlator's
	// lock and must not call back into it.
	OnNewSession func(sid string)

	// NewID defaults to random UUIDs.
	NewID func() string
}

// Correlator tracks the current session. It is safe for concurrent
// use.
type Correlator struct {
	enqueuer     Enqueuer
	group        string
	clock        clock.Clock
	logger       *slog.Logger
	timeout      time.Duration
	persister    Persister
	onNewSession func(string)
	newID        func() string

	// current mirrors sid for SessionID.
	current atomic.Pointer[string]

	mu          sync.Mutex
	sid         string
	history     *History
	lastLog     time.Time
	lastResumed time.Time
	lastPaused  time.Time
	resumed     bool
	paused      bool
}

// New returns a Correlator with no current session. The persisted
// history, if any, is loaded and a launch boundary is appended so
// that timestamped records from before this process's first session
// are not attributed to the previous process.
func New(cfg Config) (*Correlator, error) {
	if cfg.Enqueuer == nil {
		return nil, fmt.Errorf("session: Enqueuer is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("session: Group is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("session: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("session: Logger is required")
	}

	c := &Correlator{
		enqueuer:     cfg.Enqueuer,
		group:        cfg.Group,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		persister:    cfg.Persister,
		onNewSession: cfg.OnNewSession,
		newID:        cfg.NewID,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}

	var stored []logstore.SessionEntry
	if c.persister != nil {
		entries, err := c.persister.LoadSessions(context.Background())
		if err != nil {
			c.logger.Warn("loading session history failed, starting empty", "error", err)
		}
		stored = entries
	}
	c.history = NewHistory(cfg.HistorySize, stored)
	c.history.Add("", c.wallNow())
	c.saveLocked()
	return c, nil
}

// wallNow is the clock's time at record timestamp precision, so a
// session never appears to start after its first record.
func (c *Correlator) wallNow() time.Time {
	return logrecord.NewTime(c.clock.Now()).Std()
}

// Prepare stamps record with a session id. It has the signature of a
// channel preparer and must run before the channel timestamps the
// record.
func (c *Correlator) Prepare(_ string, record *logrecord.Record) {
	if record.Type == logrecord.TypeStartSession || record.SessionID != "" {
		return
	}

	c.mu.Lock()
	if !record.Timestamp.IsZero() {
		if past, ok := c.history.At(record.Timestamp.Std()); ok {
			record.SessionID = past.ID
		}
		c.mu.Unlock()
		return
	}

	notify := c.startSessionIfExpiredLocked()
	record.SessionID = c.sid
	c.lastLog = c.clock.Now()
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// startSessionIfExpiredLocked stores a startSession record when the
// session has expired. The row is written under mu, so no record
// stamped with the new id can be stored before it. The returned
// function, if any, must be called after mu is released.
func (c *Correlator) startSessionIfExpiredLocked() (notify func()) {
	if c.sid != "" && !c.expiredLocked(c.clock.Now()) {
		return nil
	}

	c.setSessionLocked(c.newID())
	c.history.Add(c.sid, c.wallNow())
	c.saveLocked()
	// Counts the startSession record as activity so a page logged
	// right after resuming does not start a second session.
	c.lastLog = c.clock.Now()
	c.logger.Info("session started", "session_id", c.sid)

	if c.onNewSession != nil {
		c.onNewSession(c.sid)
	}
	return c.enqueuer.EnqueueDeferred(logrecord.StartSession(c.sid), c.group, logrecord.PriorityNormal)
}

func (c *Correlator) setSessionLocked(sid string) {
	c.sid = sid
	c.current.Store(&sid)
}

// expiredLocked reports whether the current session has timed out at
// now.
func (c *Correlator) expiredLocked(now time.Time) bool {
	idle := now.Sub(c.lastLog) >= c.timeout

	switch {
	case !c.paused:
		// Never backgrounded. Foregrounded means the session is live;
		// neither event seen means a background start, which only
		// the idle time can end.
		return !c.resumed && idle
	case !c.resumed:
		return idle
	}

	inBackground := !c.lastPaused.Before(c.lastResumed) && now.Sub(c.lastPaused) >= c.timeout
	wasInBackground := c.lastResumed.Sub(later(c.lastPaused, c.lastLog)) >= c.timeout
	return idle && (inBackground || wasInBackground)
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Resumed records that the application came to the foreground.
func (c *Correlator) Resumed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResumed = c.clock.Now()
	c.resumed = true
	c.logger.Debug("application resumed")
}

// Paused records that the application went to the background.
func (c *Correlator) Paused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPaused = c.clock.Now()
	c.paused = true
	c.logger.Debug("application paused")
}

// SessionID returns the current session id, or "" before the first
// session.
func (c *Correlator) SessionID() string {
	if sid := c.current.Load(); sid != nil {
		return *sid
	}
	return ""
}

// ClearSessions forgets the current session and the history. The next
// untimestamped record starts a new session.
func (c *Correlator) ClearSessions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSessionLocked("")
	c.history.Clear()
	if c.persister == nil {
		return nil
	}
	if err := c.persister.SaveSessions(ctx, nil); err != nil {
		return fmt.Errorf("session: clearing history: %w", err)
	}
	return nil
}

// History returns a copy of the session boundaries, oldest first.
func (c *Correlator) History() []logstore.SessionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Entries()
}

func (c *Correlator) saveLocked() {
	if c.persister == nil {
		return
	}
	if err := c.persister.SaveSessions(context.Background(), c.history.Entries()); err != nil {
		c.logger.Warn("saving session history failed", "error", err)
	}
}
