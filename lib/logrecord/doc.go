// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logrecord defines the telemetry record that flows through
// the outbox: the common envelope, the per-type variant fields, the
// device snapshot, and the validation rules applied before a record
// is persisted.
//
// A Record is one struct with a Type discriminator rather than an
// interface per variant. Variant fields that do not apply to a type
// are left empty and omitted from both encodings. Struct tags are
// `json`, which names the fields on the wire (see EncodeContainer and
// EncodeNDJSON) and in the local store (lib/codec reads `json` tags).
//
// Two envelope fields are write-once. Timestamp is assigned when the
// record is accepted and never changes; SessionID is assigned at most
// once, so a record stamped before it was persisted keeps its original
// session when replayed.
package logrecord
