// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel decides when persisted records are sent.
//
// Each group has a backlog count of records waiting to be sent. A
// record enqueued with high priority flushes its group immediately;
// otherwise the group flushes when the backlog reaches BatchSize or
// when Interval has passed since the first unsent record, whichever
// comes first. A flush checks a batch out of the store and hands it
// to the Sender. When the Sender reports back:
//
//   - success acknowledges the batch (deleting its rows) and emits
//     SendingSucceeded per record;
//   - a permanent failure acknowledges the batch too, discarding it,
//     and emits SendingFailed per record;
//   - a transient failure requeues the batch with no event. The
//     channel does not retry on its own: the next enqueue, timer or
//     FlushPending call picks the records up again.
//
// At most MaxParallelBatches batches per group are in flight. Groups
// share no locks, so a stalled group never delays another.
//
// Enqueue never returns an error. Every record ends in exactly one of
// SendingSucceeded, SendingFailed or Dropped, delivered to listeners.
package channel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/outbox/lib/clock"
	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/logstore"
	"github.com/bureau-foundation/outbox/lib/retrygate"
)

// Defaults for GroupConfig fields left zero.
const (
	DefaultBatchSize          = 50
	DefaultInterval           = 3 * time.Second
	DefaultMaxParallelBatches = 1
)

// drainBatchSize bounds each read when disabling the channel deletes
// stored records.
const drainBatchSize = 100

// Store is the persistence the channel drives. *logstore.Store
// implements it.
type Store interface {
	ConfigureGroup(name string, capacity int)
	Put(ctx context.Context, group string, record *logrecord.Record, priority logrecord.Priority) error
	Take(ctx context.Context, group string, limit int, excludedKeys []string) (*logstore.Batch, error)
	Ack(ctx context.Context, batchID string) error
	Requeue(batchID string)
	ClearPending()
	ClearGroup(ctx context.Context, group string) error
	Count(ctx context.Context, group string) (int, error)
}

// Sender delivers batches. *retrygate.Gate implements it.
type Sender interface {
	Send(ctx context.Context, records []*logrecord.Record, done func(retrygate.Result))
	Close()
	Reopen()
}

// GroupConfig describes one group.
type GroupConfig struct {
	Name string

	// BatchSize is the most records per batch and the backlog that
	// triggers an immediate flush.
	BatchSize int

	// Interval is how long the first unsent record may wait. Must be
	// positive after defaulting.
	Interval time.Duration

	// Capacity bounds the group's stored rows, one per destination
	// token of each record; zero is unbounded.
	Capacity int

	MaxParallelBatches int

	// Priority applies to records enqueued with priority zero.
	Priority logrecord.Priority
}

// Config holds the parameters for a Channel.
type Config struct {
	Store  Store
	Sender Sender
	Clock  clock.Clock
	Logger *slog.Logger

	// Devices, if set, supplies the snapshot attached to records that
	// have none.
	Devices DeviceProvider
}

// Channel batches records per group. It is safe for concurrent use.
type Channel struct {
	store   Store
	sender  Sender
	clock   clock.Clock
	logger  *slog.Logger
	devices DeviceProvider

	// enabled allows sending. discard drops new records; it is set
	// only by SetEnabled(false).
	enabled atomic.Bool
	discard atomic.Bool

	mu           sync.Mutex
	groups       map[string]*group
	listeners    []registeredListener
	nextListener ListenerID
	preparers    []Preparer
	device       *logrecord.Device
}

type registeredListener struct {
	id ListenerID
	fn Listener
}

type group struct {
	config GroupConfig

	mu         sync.Mutex
	enabled    bool
	paused     bool
	pausedKeys map[string]bool
	backlog    int
	timer      *clock.Timer
	timerGen   uint64
	sending    map[string]*flight
}

// flight is a batch handed to the Sender.
type flight struct {
	batch  *logstore.Batch
	cancel context.CancelFunc
}

// New returns an enabled channel with no groups.
func New(cfg Config) (*Channel, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("channel: Store is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("channel: Sender is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("channel: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("channel: Logger is required")
	}
	c := &Channel{
		store:   cfg.Store,
		sender:  cfg.Sender,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		devices: cfg.Devices,
		groups:  make(map[string]*group),
	}
	c.enabled.Store(true)
	return c, nil
}

// AddGroup registers a group. Records already stored for it count
// toward its backlog, so leftovers from a previous process are sent.
func (c *Channel) AddGroup(ctx context.Context, cfg GroupConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("channel: group name is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxParallelBatches <= 0 {
		cfg.MaxParallelBatches = DefaultMaxParallelBatches
	}
	if cfg.Priority == 0 {
		cfg.Priority = logrecord.PriorityNormal
	}

	c.mu.Lock()
	if _, exists := c.groups[cfg.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("channel: group %q already added", cfg.Name)
	}
	g := &group{
		config:     cfg,
		enabled:    true,
		pausedKeys: make(map[string]bool),
		sending:    make(map[string]*flight),
	}
	c.groups[cfg.Name] = g
	c.mu.Unlock()

	c.store.ConfigureGroup(cfg.Name, cfg.Capacity)
	stored, err := c.store.Count(ctx, cfg.Name)
	if err != nil {
		c.logger.Error("counting stored records failed", "group", cfg.Name, "error", err)
	}

	g.mu.Lock()
	g.backlog = stored
	now := c.scheduleLocked(g)
	g.mu.Unlock()

	c.logger.Info("group added",
		"group", cfg.Name,
		"batch_size", cfg.BatchSize,
		"interval", cfg.Interval,
		"capacity", cfg.Capacity,
		"stored", stored,
	)
	if now {
		c.flush(g)
	}
	return nil
}

func (c *Channel) group(name string) *group {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[name]
}

func (c *Channel) allGroups() []*group {
	c.mu.Lock()
	defer c.mu.Unlock()
	groups := make([]*group, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b *group) int { return cmp.Compare(a.config.Name, b.config.Name) })
	return groups
}

// Groups returns the names of the added groups, sorted.
func (c *Channel) Groups() []string {
	groups := c.allGroups()
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.config.Name
	}
	return names
}

// Backlog returns how many records of group are waiting to be
// checked out, as the channel counts them.
func (c *Channel) Backlog(name string) int {
	g := c.group(name)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backlog
}

// GroupEnabled reports whether group exists and accepts records.
func (c *Channel) GroupEnabled(name string) bool {
	g := c.group(name)
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// AddListener registers fn and returns its id.
func (c *Channel) AddListener(fn Listener) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListener++
	c.listeners = append(c.listeners, registeredListener{id: c.nextListener, fn: fn})
	return c.nextListener
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (c *Channel) RemoveListener(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = slices.DeleteFunc(c.listeners, func(l registeredListener) bool { return l.id == id })
}

// AddPreparer registers p. Preparers run in registration order.
func (c *Channel) AddPreparer(p Preparer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preparers = append(c.preparers, p)
}

// InvalidateDevice discards the cached device snapshot. The next
// record fetches a fresh one.
func (c *Channel) InvalidateDevice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = nil
}

func (c *Channel) currentDevice() (*logrecord.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		device, err := c.devices.Device()
		if err != nil {
			return nil, err
		}
		c.device = device
	}
	return c.device, nil
}

func (c *Channel) emit(event Event) {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, l := range listeners {
		l.fn(event)
	}
}

func (c *Channel) emitAll(kind EventKind, group string, records []*logrecord.Record, err error) {
	for _, record := range records {
		c.emit(Event{Kind: kind, Group: group, Record: record, Err: err})
	}
}

// Enqueue accepts record for group. A priority of zero means the
// group's default. Enqueue does not block on the network; the outcome
// is reported to listeners.
func (c *Channel) Enqueue(record *logrecord.Record, groupName string, priority logrecord.Priority) {
	g, priority, err := c.admit(record, groupName, priority)
	if err != nil {
		c.drop(groupName, record, err)
		return
	}

	c.mu.Lock()
	preparers := slices.Clone(c.preparers)
	c.mu.Unlock()
	for _, p := range preparers {
		p.Prepare(groupName, record)
	}

	if err := c.stamp(groupName, record); err != nil {
		c.drop(groupName, record, err)
		return
	}

	rejected := false
	c.emit(Event{Kind: BeforeSending, Group: groupName, Record: record, rejected: &rejected})
	if rejected {
		c.drop(groupName, record, ErrRejected)
		return
	}

	now, err := c.persist(g, groupName, record, priority)
	if err != nil {
		c.drop(groupName, record, err)
		return
	}
	if now {
		c.flush(g)
	}
}

// EnqueueDeferred persists record like Enqueue but runs no preparers
// and no BeforeSending listeners. The Dropped event or flush the record
// causes is left to the returned function, so a caller holding a lock
// can store a record and notify after releasing it.
func (c *Channel) EnqueueDeferred(record *logrecord.Record, groupName string, priority logrecord.Priority) (notify func()) {
	g, priority, err := c.admit(record, groupName, priority)
	if err == nil {
		err = c.stamp(groupName, record)
	}
	var now bool
	if err == nil {
		now, err = c.persist(g, groupName, record, priority)
	}
	return func() {
		if err != nil {
			c.drop(groupName, record, err)
			return
		}
		if now {
			c.flush(g)
		}
	}
}

// admit resolves the group and effective priority and validates
// record.
func (c *Channel) admit(record *logrecord.Record, groupName string, priority logrecord.Priority) (*group, logrecord.Priority, error) {
	g := c.group(groupName)
	if g == nil {
		return nil, 0, ErrUnknownGroup
	}
	if c.discard.Load() {
		return nil, 0, ErrDisabled
	}
	g.mu.Lock()
	enabled := g.enabled
	g.mu.Unlock()
	if !enabled {
		return nil, 0, ErrGroupDisabled
	}
	if priority == 0 {
		priority = g.config.Priority
	}

	notes, err := logrecord.Validate(record)
	for _, note := range notes {
		c.logger.Warn("record repaired", "group", groupName, "type", record.Type, "note", note)
	}
	if err != nil {
		return nil, 0, err
	}
	return g, priority, nil
}

// stamp attaches the device snapshot and timestamp.
func (c *Channel) stamp(groupName string, record *logrecord.Record) error {
	if record.Device == nil && c.devices != nil {
		device, err := c.currentDevice()
		if err != nil {
			c.logger.Error("collecting device snapshot failed", "group", groupName, "error", err)
			return err
		}
		record.Device = device
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = logrecord.NewTime(c.clock.Now())
	}
	return nil
}

// persist stores record and reports whether its group should flush
// now.
func (c *Channel) persist(g *group, groupName string, record *logrecord.Record, priority logrecord.Priority) (bool, error) {
	if err := c.store.Put(context.Background(), groupName, record, priority); err != nil {
		c.logger.Error("persisting record failed", "group", groupName, "type", record.Type, "error", err)
		return false, err
	}

	g.mu.Lock()
	g.backlog += eligibleRows(g, record)
	var now bool
	if priority >= logrecord.PriorityHigh && c.sendableLocked(g) && g.backlog > 0 {
		now = true
	} else {
		now = c.scheduleLocked(g)
	}
	g.mu.Unlock()

	c.logger.Debug("record enqueued", "group", groupName, "type", record.Type, "priority", priority)
	return now, nil
}

func (c *Channel) drop(group string, record *logrecord.Record, err error) {
	c.logger.Warn("dropping record", "group", group, "type", record.Type, "error", err)
	c.emit(Event{Kind: Dropped, Group: group, Record: record, Err: err})
}

// eligibleRows counts the stored rows of record that are not held by
// a paused destination.
func eligibleRows(g *group, record *logrecord.Record) int {
	if len(record.Tokens) == 0 {
		return 1
	}
	rows := 0
	for _, token := range record.Tokens {
		if !g.pausedKeys[logstore.TargetKey(token)] {
			rows++
		}
	}
	return rows
}

func (c *Channel) sendableLocked(g *group) bool {
	return c.enabled.Load() && g.enabled && !g.paused
}

// scheduleLocked arms the group's timer for a partial backlog and
// reports whether the backlog is large enough to flush now.
func (c *Channel) scheduleLocked(g *group) bool {
	if !c.sendableLocked(g) || g.backlog <= 0 {
		return false
	}
	if g.backlog >= g.config.BatchSize {
		return true
	}
	if g.timer == nil {
		g.timerGen++
		generation := g.timerGen
		g.timer = c.clock.AfterFunc(g.config.Interval, func() { c.timerFired(g, generation) })
	}
	return false
}

func (c *Channel) cancelTimerLocked(g *group) {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (c *Channel) timerFired(g *group, generation uint64) {
	g.mu.Lock()
	if g.timer == nil || g.timerGen != generation {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	g.mu.Unlock()
	c.flush(g)
}

// Flush sends the next batch of group now, regardless of thresholds.
func (c *Channel) Flush(name string) error {
	g := c.group(name)
	if g == nil {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	c.flush(g)
	return nil
}

// FlushPending flushes every group with a backlog. The pipeline calls
// it when sending becomes possible again.
func (c *Channel) FlushPending() {
	for _, g := range c.allGroups() {
		g.mu.Lock()
		now := c.sendableLocked(g) && g.backlog > 0
		g.mu.Unlock()
		if now {
			c.flush(g)
		}
	}
}

func (c *Channel) flush(g *group) {
	g.mu.Lock()
	f, ctx := c.checkoutLocked(g)
	g.mu.Unlock()
	if f == nil {
		return
	}
	batch := f.batch
	c.sender.Send(ctx, batch.Records, func(result retrygate.Result) {
		c.complete(g, batch, result)
	})
}

func (c *Channel) checkoutLocked(g *group) (*flight, context.Context) {
	name := g.config.Name
	if !c.sendableLocked(g) {
		return nil, nil
	}
	c.cancelTimerLocked(g)
	if len(g.sending) >= g.config.MaxParallelBatches {
		c.logger.Debug("batch limit reached, flush deferred", "group", name, "in_flight", len(g.sending))
		return nil, nil
	}

	excluded := make([]string, 0, len(g.pausedKeys))
	for key := range g.pausedKeys {
		excluded = append(excluded, key)
	}
	batch, err := c.store.Take(context.Background(), name, g.config.BatchSize, excluded)
	if err != nil {
		c.logger.Error("checking out batch failed", "group", name, "error", err)
		return nil, nil
	}
	if batch == nil {
		g.backlog = 0
		return nil, nil
	}
	g.backlog = max(g.backlog-len(batch.Records), 0)

	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{batch: batch, cancel: cancel}
	g.sending[batch.ID] = f
	c.logger.Debug("sending batch", "group", name, "batch_id", batch.ID, "records", len(batch.Records), "backlog", g.backlog)
	return f, ctx
}

func (c *Channel) complete(g *group, batch *logstore.Batch, result retrygate.Result) {
	name := g.config.Name
	g.mu.Lock()
	f, ok := g.sending[batch.ID]
	delete(g.sending, batch.ID)
	g.mu.Unlock()
	if !ok {
		// Cleared, disabled or shut down while in flight.
		c.logger.Debug("ignoring completion of abandoned batch", "group", name, "batch_id", batch.ID)
		return
	}
	f.cancel()

	switch result.Outcome {
	case retrygate.Succeeded:
		c.logger.Debug("batch delivered", "group", name, "batch_id", batch.ID, "attempt", result.Attempts)
		c.discardBatch(g, batch)
		c.emitAll(SendingSucceeded, name, batch.Records, nil)

	case retrygate.Permanent:
		c.logger.Warn("batch discarded", "group", name, "batch_id", batch.ID, "records", len(batch.Records), "error", result.Err)
		c.discardBatch(g, batch)
		c.emitAll(SendingFailed, name, batch.Records, result.Err)

	default:
		c.logger.Info("batch requeued", "group", name, "batch_id", batch.ID, "error", result.Err)
		c.store.Requeue(batch.ID)
		g.mu.Lock()
		g.backlog += len(batch.Records)
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	now := c.scheduleLocked(g)
	g.mu.Unlock()
	if now {
		c.flush(g)
	}
}

// discardBatch deletes a finished batch. If the delete fails the rows
// are released instead and may be sent again.
func (c *Channel) discardBatch(g *group, batch *logstore.Batch) {
	if err := c.store.Ack(context.Background(), batch.ID); err != nil {
		c.logger.Error("acknowledging batch failed, records will be resent", "group", g.config.Name, "batch_id", batch.ID, "error", err)
		c.store.Requeue(batch.ID)
		g.mu.Lock()
		g.backlog += len(batch.Records)
		g.mu.Unlock()
	}
}

// abandonLocked stops the group's timer and forgets its in-flight
// batches. Their completions are ignored afterwards.
func (c *Channel) abandonLocked(g *group) []*flight {
	c.cancelTimerLocked(g)
	flights := make([]*flight, 0, len(g.sending))
	for _, f := range g.sending {
		flights = append(flights, f)
	}
	clear(g.sending)
	g.backlog = 0
	return flights
}

// cancelFlights cancels abandoned batches and, when reason is set,
// reports their records as failed.
func (c *Channel) cancelFlights(name string, flights []*flight, reason error) {
	for _, f := range flights {
		f.cancel()
		if reason != nil {
			c.emitAll(SendingFailed, name, f.batch.Records, reason)
		}
	}
}

// SetGroupEnabled enables or disables one group. Disabling deletes
// the group's stored records, including those in flight, and drops
// records enqueued afterwards.
func (c *Channel) SetGroupEnabled(ctx context.Context, name string, enabled bool) error {
	g := c.group(name)
	if g == nil {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}

	g.mu.Lock()
	if g.enabled == enabled {
		g.mu.Unlock()
		return nil
	}
	g.enabled = enabled
	if enabled {
		g.mu.Unlock()
		c.logger.Info("group enabled", "group", name)
		return c.recount(ctx, g)
	}
	flights := c.abandonLocked(g)
	g.mu.Unlock()

	c.logger.Info("group disabled", "group", name, "in_flight", len(flights))
	c.cancelFlights(name, flights, ErrGroupDisabled)
	if err := c.store.ClearGroup(ctx, name); err != nil {
		return fmt.Errorf("channel: disabling %q: %w", name, err)
	}
	return nil
}

// Clear deletes every stored record of group without disabling it.
func (c *Channel) Clear(ctx context.Context, name string) error {
	g := c.group(name)
	if g == nil {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	g.mu.Lock()
	flights := c.abandonLocked(g)
	g.mu.Unlock()

	c.cancelFlights(name, flights, nil)
	if err := c.store.ClearGroup(ctx, name); err != nil {
		return fmt.Errorf("channel: clearing %q: %w", name, err)
	}
	c.logger.Info("group cleared", "group", name)
	return nil
}

// recount resets the backlog of g from the store and schedules it.
func (c *Channel) recount(ctx context.Context, g *group) error {
	stored, err := c.store.Count(ctx, g.config.Name)
	if err != nil {
		return fmt.Errorf("channel: counting %q: %w", g.config.Name, err)
	}
	g.mu.Lock()
	g.backlog = stored
	now := c.scheduleLocked(g)
	g.mu.Unlock()
	if now {
		c.flush(g)
	}
	return nil
}

// PauseGroup stops flushing group. With a token, only records for
// that destination are held back and the rest of the group keeps
// flowing.
func (c *Channel) PauseGroup(name, token string) error {
	g := c.group(name)
	if g == nil {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if token != "" {
		g.pausedKeys[logstore.TargetKey(token)] = true
		c.logger.Info("destination paused", "group", name, "target_key", logstore.TargetKey(token))
		return nil
	}
	g.paused = true
	c.cancelTimerLocked(g)
	c.logger.Info("group paused", "group", name)
	return nil
}

// ResumeGroup undoes PauseGroup with the same token.
func (c *Channel) ResumeGroup(ctx context.Context, name, token string) error {
	g := c.group(name)
	if g == nil {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
	}
	g.mu.Lock()
	if token != "" {
		key := logstore.TargetKey(token)
		if !g.pausedKeys[key] {
			g.mu.Unlock()
			return nil
		}
		delete(g.pausedKeys, key)
		g.mu.Unlock()
		c.logger.Info("destination resumed", "group", name, "target_key", key)
		// Held records were not counted while paused.
		return c.recount(ctx, g)
	}
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	g.paused = false
	now := c.scheduleLocked(g)
	g.mu.Unlock()
	c.logger.Info("group resumed", "group", name)
	if now {
		c.flush(g)
	}
	return nil
}

// Enabled reports whether the channel is enabled.
func (c *Channel) Enabled() bool {
	return !c.discard.Load()
}

// SetEnabled enables or disables the whole channel. Disabling closes
// the Sender, reports every stored and in-flight record as failed
// with ErrDisabled, deletes them, and drops records enqueued
// afterwards. Enabling reopens the Sender.
func (c *Channel) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		if c.enabled.Load() && !c.discard.Load() {
			return nil
		}
		c.discard.Store(false)
		c.enabled.Store(true)
		c.sender.Reopen()
		c.logger.Info("channel enabled")
		var errs []error
		for _, g := range c.allGroups() {
			errs = append(errs, c.recount(ctx, g))
		}
		return errors.Join(errs...)
	}

	if c.discard.Swap(true) {
		return nil
	}
	c.enabled.Store(false)

	groups := c.allGroups()
	for _, g := range groups {
		g.mu.Lock()
		flights := c.abandonLocked(g)
		g.mu.Unlock()
		c.cancelFlights(g.config.Name, flights, ErrDisabled)
	}
	c.sender.Close()

	var errs []error
	for _, g := range groups {
		if err := c.deleteStored(ctx, g.config.Name); err != nil {
			errs = append(errs, err)
		}
	}
	c.logger.Info("channel disabled")
	return errors.Join(errs...)
}

// deleteStored reports every stored record of group as failed and
// deletes it.
func (c *Channel) deleteStored(ctx context.Context, name string) error {
	for {
		batch, err := c.store.Take(ctx, name, drainBatchSize, nil)
		if err != nil {
			return fmt.Errorf("channel: deleting %q: %w", name, err)
		}
		if batch == nil {
			break
		}
		c.emitAll(SendingFailed, name, batch.Records, ErrDisabled)
		if err := c.store.Ack(ctx, batch.ID); err != nil {
			return fmt.Errorf("channel: deleting %q: %w", name, err)
		}
	}
	if err := c.store.ClearGroup(ctx, name); err != nil {
		return fmt.Errorf("channel: deleting %q: %w", name, err)
	}
	return nil
}

// Shutdown stops sending without deleting anything: timers are
// cancelled, in-flight batches abandoned, the Sender closed and every
// pending marker cleared so the records are sent by the next process.
// Records enqueued afterwards are still persisted.
func (c *Channel) Shutdown() {
	c.enabled.Store(false)
	for _, g := range c.allGroups() {
		g.mu.Lock()
		flights := c.abandonLocked(g)
		g.mu.Unlock()
		c.cancelFlights(g.config.Name, flights, nil)
	}
	c.sender.Close()
	c.store.ClearPending()
	c.logger.Info("channel shut down")
}
