// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bureau-foundation/outbox/lib/channel"
	"github.com/bureau-foundation/outbox/lib/clock"
	"github.com/bureau-foundation/outbox/lib/config"
	"github.com/bureau-foundation/outbox/lib/ingestion"
	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/logstore"
	"github.com/bureau-foundation/outbox/lib/netstate"
	"github.com/bureau-foundation/outbox/lib/retrygate"
	"github.com/bureau-foundation/outbox/lib/sealed"
	"github.com/bureau-foundation/outbox/lib/session"
)

// Options holds the collaborators of a Pipeline. Only Config and
// Logger are required.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Network defaults to always connected.
	Network netstate.Provider

	// Devices supplies the device snapshot attached to records.
	Devices channel.DeviceProvider

	// Credentials defaults to the app secret and install id from
	// Config, with a random install id when none is configured.
	Credentials ingestion.CredentialProvider

	// HTTPClient is used by the ingestion client built from Config.
	// Defaults to a client with Config.Ingestion.Timeout.
	HTTPClient *http.Client

	// Client replaces the ingestion client built from Config.
	Client ingestion.Client
}

// Pipeline is the assembled outbox.
type Pipeline struct {
	config *config.Config
	logger *slog.Logger

	store    *logstore.Store
	gate     *retrygate.Gate
	channel  *channel.Channel
	sessions *session.Correlator

	// sessionsActive gates the correlator while the session group's
	// feature is disabled.
	sessionsActive atomic.Bool

	mu       sync.Mutex
	features map[string]Feature

	closeOnce sync.Once
	closeErr  error
}

// New validates opts.Config and builds the pipeline. Stored records
// from a previous process are scheduled for delivery.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("pipeline: Config is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("pipeline: Logger is required")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		config:   cfg,
		logger:   logger,
		store:    store,
		features: make(map[string]Feature),
	}
	if err := p.build(opts); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func openStore(cfg config.StorageConfig, logger *slog.Logger) (*logstore.Store, error) {
	compression, err := logstore.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	var sealer *sealed.Sealer
	if cfg.IdentityFile != "" {
		sealer, err = sealed.LoadFile(cfg.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	store, err := logstore.Open(logstore.Config{
		Path:                 cfg.Path,
		PoolSize:             cfg.PoolSize,
		Logger:               logger.With("component", "logstore"),
		Sealer:               sealer,
		Compression:          compression,
		CompressionThreshold: cfg.CompressionThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	store.ClearPending()

	if cfg.MaxBytes > 0 {
		applied, err := store.SetMaxStorageSize(context.Background(), cfg.MaxBytes)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if !applied {
			logger.Warn("storage cap not applied, keeping previous limit", "max_bytes", cfg.MaxBytes)
		}
	}
	return store, nil
}

func (p *Pipeline) build(opts Options) error {
	cfg := p.config

	client := opts.Client
	if client == nil {
		httpClient := opts.HTTPClient
		if httpClient == nil && cfg.Ingestion.Timeout > 0 {
			httpClient = &http.Client{Timeout: cfg.Ingestion.Timeout}
		}
		httpIngestion, err := ingestion.New(ingestion.Config{
			Endpoint:      cfg.Ingestion.Endpoint,
			Variant:       ingestion.Variant(cfg.Ingestion.Variant),
			HTTPClient:    httpClient,
			GzipThreshold: cfg.Ingestion.GzipThreshold,
			Clock:         opts.Clock,
			Logger:        p.logger.With("component", "ingestion"),
		})
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		client = httpIngestion
	}

	credentials := opts.Credentials
	if credentials == nil {
		installID := uuid.New()
		if cfg.Ingestion.InstallID != "" {
			parsed, err := uuid.Parse(cfg.Ingestion.InstallID)
			if err != nil {
				return fmt.Errorf("pipeline: ingestion.install_id: %w", err)
			}
			installID = parsed
		}
		credentials = ingestion.StaticCredentials{InstallID: installID, AppSecret: cfg.Ingestion.AppSecret}
	}

	// A configured zero means no retries; the gate reads zero as
	// its default.
	maxRetries := cfg.Retry.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	gate, err := retrygate.New(retrygate.Config{
		Client:         client,
		Credentials:    credentials,
		Network:        opts.Network,
		Clock:          opts.Clock,
		Logger:         p.logger.With("component", "retrygate"),
		MaxRetries:     maxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.gate = gate

	ch, err := channel.New(channel.Config{
		Store:   p.store,
		Sender:  gate,
		Clock:   opts.Clock,
		Logger:  p.logger.With("component", "channel"),
		Devices: opts.Devices,
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.channel = ch
	gate.OnResume(ch.FlushPending)

	if cfg.Session.Group != "" {
		correlator, err := session.New(session.Config{
			Enqueuer:     ch,
			Group:        cfg.Session.Group,
			Clock:        opts.Clock,
			Logger:       p.logger.With("component", "session"),
			Timeout:      cfg.Session.Timeout,
			HistorySize:  cfg.Session.HistorySize,
			Persister:    p.store,
			OnNewSession: func(string) { ch.InvalidateDevice() },
		})
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		p.sessions = correlator
		p.sessionsActive.Store(true)
		ch.AddPreparer(channel.PreparerFunc(func(group string, record *logrecord.Record) {
			if p.sessionsActive.Load() {
				correlator.Prepare(group, record)
			}
		}))
	}

	for _, group := range cfg.Groups {
		priority, err := logrecord.ParsePriority(group.Priority)
		if err != nil {
			return fmt.Errorf("pipeline: group %q: %w", group.Name, err)
		}
		err = ch.AddGroup(context.Background(), channel.GroupConfig{
			Name:               group.Name,
			BatchSize:          group.BatchSize,
			Interval:           group.BatchInterval,
			Capacity:           group.Capacity,
			MaxParallelBatches: group.MaxParallelBatches,
			Priority:           priority,
		})
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	return nil
}

// Register adds f, creating its group if the configuration does not
// name it, and calls f.OnReady.
func (p *Pipeline) Register(ctx context.Context, f Feature) error {
	p.mu.Lock()
	if _, exists := p.features[f.Name()]; exists {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: feature %q already registered", f.Name())
	}
	p.features[f.Name()] = f
	p.mu.Unlock()

	group := f.GroupName()
	if group != "" && !p.hasGroup(group) {
		if err := p.channel.AddGroup(ctx, channel.GroupConfig{Name: group}); err != nil {
			p.mu.Lock()
			delete(p.features, f.Name())
			p.mu.Unlock()
			return fmt.Errorf("pipeline: registering %q: %w", f.Name(), err)
		}
	}
	p.logger.Info("feature registered", "feature", f.Name(), "group", group)
	f.OnReady(p)
	return nil
}

func (p *Pipeline) hasGroup(name string) bool {
	for _, group := range p.channel.Groups() {
		if group == name {
			return true
		}
	}
	return false
}

func (p *Pipeline) feature(name string) (Feature, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.features[name]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown feature %q", name)
	}
	return f, nil
}

// SetFeatureEnabled switches a feature's group on or off. Disabling
// deletes the group's stored records; disabling the feature that owns
// the session group also forgets the session history.
func (p *Pipeline) SetFeatureEnabled(ctx context.Context, name string, enabled bool) error {
	f, err := p.feature(name)
	if err != nil {
		return err
	}
	group := f.GroupName()
	var errs []error
	if group != "" {
		errs = append(errs, p.channel.SetGroupEnabled(ctx, group, enabled))
		if p.sessions != nil && group == p.config.Session.Group {
			p.sessionsActive.Store(enabled)
			if !enabled {
				errs = append(errs, p.sessions.ClearSessions(ctx))
			}
		}
	}
	if observer, ok := f.(EnabledObserver); ok {
		observer.OnEnabledChanged(enabled)
	}
	p.logger.Info("feature toggled", "feature", name, "enabled", enabled)
	return errors.Join(errs...)
}

// IsFeatureEnabled reports whether the pipeline is enabled and the
// feature's group accepts records.
func (p *Pipeline) IsFeatureEnabled(name string) bool {
	f, err := p.feature(name)
	if err != nil || !p.channel.Enabled() {
		return false
	}
	group := f.GroupName()
	return group == "" || p.channel.GroupEnabled(group)
}

// SetEnabled switches the whole pipeline on or off. Disabling reports
// every stored record as failed, deletes it and forgets the session
// history.
func (p *Pipeline) SetEnabled(ctx context.Context, enabled bool) error {
	var errs []error
	errs = append(errs, p.channel.SetEnabled(ctx, enabled))
	if p.sessions != nil {
		p.sessionsActive.Store(enabled)
		if !enabled {
			errs = append(errs, p.sessions.ClearSessions(ctx))
		}
	}
	return errors.Join(errs...)
}

// Enqueue accepts record for group. See channel.Channel.Enqueue.
func (p *Pipeline) Enqueue(record *logrecord.Record, group string, priority logrecord.Priority) {
	p.channel.Enqueue(record, group, priority)
}

// AddListener registers fn for channel events.
func (p *Pipeline) AddListener(fn channel.Listener) channel.ListenerID {
	return p.channel.AddListener(fn)
}

// RemoveListener unregisters a listener.
func (p *Pipeline) RemoveListener(id channel.ListenerID) {
	p.channel.RemoveListener(id)
}

// Clear deletes the stored records of group.
func (p *Pipeline) Clear(ctx context.Context, group string) error {
	return p.channel.Clear(ctx, group)
}

// Counts returns the number of stored records per group.
func (p *Pipeline) Counts(ctx context.Context) (map[string]int, error) {
	return p.store.Counts(ctx)
}

// Groups returns the names of the registered groups, sorted.
func (p *Pipeline) Groups() []string {
	return p.channel.Groups()
}

// SessionID returns the current session id, or "" when sessions are
// not tracked or none has started.
func (p *Pipeline) SessionID() string {
	if p.sessions == nil {
		return ""
	}
	return p.sessions.SessionID()
}

// Drain flushes groups until none of their records remain stored or
// checked out, or ctx is done. Requeued batches are flushed again once
// another batch completes.
func (p *Pipeline) Drain(ctx context.Context, groups ...string) error {
	if len(groups) == 0 {
		return nil
	}
	progress := make(chan struct{}, 1)
	id := p.channel.AddListener(func(event channel.Event) {
		if event.Kind == channel.SendingSucceeded || event.Kind == channel.SendingFailed {
			select {
			case progress <- struct{}{}:
			default:
			}
		}
	})
	defer p.channel.RemoveListener(id)

	for {
		remaining := 0
		for _, group := range groups {
			n, err := p.store.Count(ctx, group)
			if err != nil {
				return fmt.Errorf("pipeline: draining %q: %w", group, err)
			}
			if n == 0 {
				continue
			}
			remaining += n
			if err := p.channel.Flush(group); err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
		}
		// Acknowledged rows are deleted before their batch is
		// released; the completion event follows the release.
		if remaining == 0 && p.store.PendingCount(groups...) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("pipeline: %d records still stored: %w", remaining, context.Cause(ctx))
		case <-progress:
		}
	}
}

// Run feeds lifecycle events to the session correlator until ctx is
// done or events is closed. Without session tracking the events are
// discarded.
func (p *Pipeline) Run(ctx context.Context, events <-chan session.LifecycleEvent) error {
	if p.sessions != nil {
		return p.sessions.Run(ctx, events)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
		}
	}
}

// Close stops sending and closes the store. Stored records, including
// those that were in flight, are kept for the next process. Close is
// idempotent.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		if p.channel != nil {
			p.channel.Shutdown()
		}
		if p.gate != nil {
			p.gate.Stop()
		}
		p.closeErr = p.store.Close()
	})
	return p.closeErr
}
