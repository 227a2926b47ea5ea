// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retrygate wraps an ingestion client with failure
// classification, exponential backoff, and offline gating.
//
// A Gate runs each batch on its own goroutine. Transient failures are
// retried up to MaxRetries times with jittered exponential backoff;
// the server's retry hint, when present, replaces the computed delay.
// A batch that is still failing after the last retry is reported as
// permanent with an [ExhaustedRetriesError].
//
// While the network provider reports no connectivity, Send reports
// [ErrOffline] without touching the transport, and losing
// connectivity cancels every in-flight attempt the same way. The
// caller requeues those batches; the gate's resume hooks tell it when
// sending makes sense again.
package retrygate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bureau-foundation/outbox/lib/clock"
	"github.com/bureau-foundation/outbox/lib/ingestion"
	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/netstate"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 10 * time.Second
	DefaultMaxBackoff     = 20 * time.Minute
)

// Config holds the parameters for a Gate.
type Config struct {
	// Client performs one attempt. Required.
	Client ingestion.Client

	// Credentials are resolved before every attempt. Required.
	Credentials ingestion.CredentialProvider

	// Network defaults to netstate.AlwaysConnected.
	Network netstate.Provider

	// Clock schedules backoff waits. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger

	// MaxRetries is the number of attempts after the first. Zero means
	// DefaultMaxRetries; negative disables retries.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Jitter returns a uniformly distributed value in [0, n). Tests
	// replace it to make delays exact. Defaults to math/rand/v2.
	Jitter func(n int64) int64
}

// Result is delivered once per Send.
type Result struct {
	Outcome Outcome

	// Err is nil on success.
	Err error

	// Attempts is the number of transport calls made.
	Attempts int
}

// Gate sends batches through an ingestion client. It is safe for
// concurrent use.
type Gate struct {
	client         ingestion.Client
	credentials    ingestion.CredentialProvider
	network        netstate.Provider
	clock          clock.Clock
	logger         *slog.Logger
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitter         func(int64) int64

	unsubscribe func()
	running     sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	inflight      map[*call]struct{}
	resumeHooks   []func()
	nextAttemptID uint64
}

type call struct {
	cancel context.CancelCauseFunc
}

// New validates cfg and returns a gate subscribed to cfg.Network.
func New(cfg Config) (*Gate, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("retrygate: Client is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("retrygate: Credentials is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("retrygate: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("retrygate: Logger is required")
	}

	g := &Gate{
		client:         cfg.Client,
		credentials:    cfg.Credentials,
		network:        cfg.Network,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		jitter:         cfg.Jitter,
		inflight:       make(map[*call]struct{}),
	}
	if g.network == nil {
		g.network = netstate.AlwaysConnected()
	}
	switch {
	case g.maxRetries == 0:
		g.maxRetries = DefaultMaxRetries
	case g.maxRetries < 0:
		g.maxRetries = 0
	}
	if g.initialBackoff <= 0 {
		g.initialBackoff = DefaultInitialBackoff
	}
	if g.maxBackoff <= 0 {
		g.maxBackoff = DefaultMaxBackoff
	}
	if g.maxBackoff < g.initialBackoff {
		return nil, fmt.Errorf("retrygate: MaxBackoff %v is below InitialBackoff %v", g.maxBackoff, g.initialBackoff)
	}
	if g.jitter == nil {
		g.jitter = rand.Int64N
	}

	g.unsubscribe = g.network.Subscribe(g.networkChanged)
	return g, nil
}

// OnResume registers fn to run whenever sending becomes possible
// again: connectivity is restored or the gate is reopened. Hooks run
// on the goroutine that delivered the notification.
func (g *Gate) OnResume(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resumeHooks = append(g.resumeHooks, fn)
}

// Send attempts records and calls done exactly once with the result,
// from another goroutine unless the batch is rejected up front.
// Cancelling ctx abandons the batch as transient.
func (g *Gate) Send(ctx context.Context, records []*logrecord.Record, done func(Result)) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		done(Result{Outcome: Transient, Err: ErrClosed})
		return
	}
	if !g.network.Connected() {
		g.mu.Unlock()
		done(Result{Outcome: Transient, Err: ErrOffline})
		return
	}
	callCtx, cancel := context.WithCancelCause(ctx)
	c := &call{cancel: cancel}
	g.inflight[c] = struct{}{}
	g.nextAttemptID++
	attemptID := g.nextAttemptID
	g.running.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.running.Done()
		result := g.attempt(callCtx, attemptID, records)

		g.mu.Lock()
		delete(g.inflight, c)
		g.mu.Unlock()
		cancel(nil)

		done(result)
	}()
}

// attempt runs the retry loop for one batch.
func (g *Gate) attempt(ctx context.Context, id uint64, records []*logrecord.Record) Result {
	logger := g.logger.With("send_id", id, "records", len(records))

	for attempt := 1; ; attempt++ {
		if !g.network.Connected() {
			return Result{Outcome: Transient, Err: ErrOffline, Attempts: attempt - 1}
		}

		err := g.sendOnce(ctx, records)
		if err == nil {
			return Result{Outcome: Succeeded, Attempts: attempt}
		}
		if ctx.Err() != nil {
			return Result{Outcome: Transient, Err: cancelCause(ctx), Attempts: attempt}
		}

		if Classify(err) == Permanent {
			logger.Warn("batch rejected", "attempt", attempt, "error", err)
			return Result{Outcome: Permanent, Err: &PermanentError{Err: err}, Attempts: attempt}
		}
		if attempt > g.maxRetries {
			logger.Warn("batch retries exhausted", "attempt", attempt, "error", err)
			return Result{
				Outcome:  Permanent,
				Err:      &ExhaustedRetriesError{Attempts: attempt, Last: err},
				Attempts: attempt,
			}
		}

		delay := g.Backoff(attempt)
		var httpErr *ingestion.HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
		}
		logger.Warn("batch send failed, will retry", "attempt", attempt, "backoff", delay, "error", err)

		if !g.wait(ctx, delay) {
			return Result{Outcome: Transient, Err: cancelCause(ctx), Attempts: attempt}
		}
	}
}

func (g *Gate) sendOnce(ctx context.Context, records []*logrecord.Record) error {
	credentials, err := g.credentials.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("retrygate: resolving credentials: %w", err)
	}
	return g.client.Send(ctx, credentials, records)
}

// wait blocks for d on the gate's clock. It returns false if ctx ends
// first.
func (g *Gate) wait(ctx context.Context, d time.Duration) bool {
	elapsed := make(chan struct{})
	timer := g.clock.AfterFunc(d, func() { close(elapsed) })
	select {
	case <-elapsed:
		return true
	case <-ctx.Done():
		timer.Stop()
		return false
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// half of the capped exponential step plus up to the other half at
// random.
func (g *Gate) Backoff(attempt int) time.Duration {
	step := g.initialBackoff
	for i := 1; i < attempt && step < g.maxBackoff; i++ {
		step *= 2
	}
	step = min(step, g.maxBackoff)
	half := step / 2
	if half <= 0 {
		return step
	}
	return half + time.Duration(g.jitter(int64(half)))
}

// Close cancels every in-flight batch, which completes as transient
// with ErrClosed, and rejects new batches the same way until Reopen.
// Close does not wait for completions; see Wait.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.cancelLocked(ErrClosed)
	g.mu.Unlock()
	g.logger.Info("retry gate closed")
}

// Reopen undoes Close and runs the resume hooks.
func (g *Gate) Reopen() {
	g.mu.Lock()
	if !g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = false
	hooks := append([]func(){}, g.resumeHooks...)
	g.mu.Unlock()

	g.logger.Info("retry gate reopened")
	for _, hook := range hooks {
		hook()
	}
}

// Wait blocks until every batch handed to Send has completed. It must
// not be called from a done callback.
func (g *Gate) Wait() {
	g.running.Wait()
}

// Stop closes the gate, unsubscribes from the network provider, and
// waits for in-flight batches to complete.
func (g *Gate) Stop() {
	g.Close()
	g.unsubscribe()
	g.Wait()
}

func (g *Gate) networkChanged(connected bool) {
	g.mu.Lock()
	if !connected {
		count := len(g.inflight)
		g.cancelLocked(ErrOffline)
		g.mu.Unlock()
		g.logger.Info("network lost", "cancelled", count)
		return
	}
	if g.closed {
		g.mu.Unlock()
		return
	}
	hooks := append([]func(){}, g.resumeHooks...)
	g.mu.Unlock()

	g.logger.Info("network restored")
	for _, hook := range hooks {
		hook()
	}
}

func (g *Gate) cancelLocked(cause error) {
	for c := range g.inflight {
		c.cancel(cause)
	}
}

// cancelCause reports why ctx ended, preferring the gate's own causes
// over the bare context error.
func cancelCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
