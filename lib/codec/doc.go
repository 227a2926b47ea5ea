// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for data the pipeline keeps
// on disk.
//
// The outbox uses two formats with a fixed boundary. Records leave the
// device as JSON (lib/logrecord owns the wire encoding) and rest in
// the local store as CBOR. Both formats read the same `json` struct
// tags: fxamacker/cbor falls back to `json` tags when `cbor` tags are
// absent, so one tag set names the fields in both places. Types that
// only ever live on disk may use `cbor` tags instead; never put both
// tags on one field.
//
// Encoding is Core Deterministic (RFC 8949 §4.2), so equal values
// produce equal bytes. Tests rely on this to compare records.
package codec
