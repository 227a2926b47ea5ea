// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds the HTTP and connection error helpers shared by
// the ingestion clients and the retry gate.
//
// Response helpers bound every body read at MaxResponseSize. Collector
// responses are small acknowledgements; anything larger is not worth
// holding in memory on a phone.
//
// Connection helpers classify transport errors that mean "the network
// did not carry the request" as opposed to "the server refused it".
package netutil

import (
	"io"
)

// MaxResponseSize bounds response body reads.
const MaxResponseSize int64 = 64 << 10

// ErrorBody reads a response body for use in an error message. Read
// errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}

// Drain discards up to MaxResponseSize bytes of body so the connection
// can be reused, then closes it.
func Drain(body io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
	return body.Close()
}
