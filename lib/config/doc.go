// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads outbox configuration from a single file.
//
// The file is named either by the OUTBOX_CONFIG environment variable
// (via [Load]) or explicitly (via [LoadFile]). There is no search path
// and no per-field environment override: the file is the single
// source of truth, layered over [Default].
//
// Files ending in .json or .jsonc are normalized with
// github.com/tidwall/jsonc (comments and trailing commas allowed)
// before decoding; everything else is YAML. Durations use Go syntax
// ("3s", "20m").
//
// Path fields (storage.path, storage.identity_file), the ingestion
// endpoint and the app secret undergo ${VAR} and ${VAR:-default}
// expansion after loading, so secrets can stay out of the file.
//
// This package depends on no other outbox packages. String-valued
// enumerations (variant, compression, priority) are checked here and
// parsed by the packages that own them.
package config
