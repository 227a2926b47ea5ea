// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retrygate

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/outbox/lib/ingestion"
	"github.com/bureau-foundation/outbox/lib/netutil"
)

var (
	// ErrOffline is reported when a batch is not attempted because the
	// network is down, or when an attempt is cancelled by a
	// connectivity loss.
	ErrOffline = errors.New("retrygate: network unavailable")

	// ErrClosed is reported for batches submitted to, or cancelled by,
	// a closed gate.
	ErrClosed = errors.New("retrygate: closed")
)

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that no retry can fix. The batch is
// discarded.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedRetriesError is a transient failure that kept failing
// through every allowed attempt. It is treated as permanent.
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("retrygate: giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// Outcome is the disposition of one batch.
type Outcome int

const (
	Succeeded Outcome = iota
	Transient
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Classify maps a send error to an outcome. Timeouts, connection
// failures, HTTP 408, 429 and 5xx are transient. Everything else,
// including errors this package does not recognize, is permanent.
func Classify(err error) Outcome {
	if err == nil {
		return Succeeded
	}

	var transient *TransientError
	var permanent *PermanentError
	var exhausted *ExhaustedRetriesError
	switch {
	case errors.As(err, &exhausted), errors.As(err, &permanent):
		return Permanent
	case errors.As(err, &transient),
		errors.Is(err, ErrOffline),
		errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled):
		return Transient
	}

	var serialization *ingestion.SerializationError
	if errors.As(err, &serialization) || errors.Is(err, ingestion.ErrNoAppSecret) {
		return Permanent
	}

	var httpErr *ingestion.HTTPError
	if errors.As(err, &httpErr) {
		switch code := httpErr.StatusCode; {
		case code == http.StatusRequestTimeout,
			code == http.StatusTooManyRequests,
			code >= 500:
			return Transient
		}
		return Permanent
	}

	if netutil.IsConnectionError(err) {
		return Transient
	}
	return Permanent
}
