// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingestion

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoAppSecret is returned by the container variant when the
// credentials carry no app secret. Nothing can be sent until the host
// configures one.
var ErrNoAppSecret = errors.New("ingestion: no app secret configured")

// HTTPError is a response with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string

	// RetryAfter is the delay the server asked for, or zero.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingestion: collector returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("ingestion: collector returned HTTP %d: %s", e.StatusCode, e.Body)
}

// SerializationError means the batch could not be encoded. Sending it
// again cannot succeed.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "ingestion: serializing batch: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error { return e.Err }
