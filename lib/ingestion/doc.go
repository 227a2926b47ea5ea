// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingestion turns a batch of records into one HTTP request to
// the collector and reports whether the collector accepted it. It does
// not retry; lib/retrygate decides what happens after a failure.
//
// Two wire variants exist:
//
//   - VariantContainer: POST {endpoint}/logs?api-version=1.0.0 with a
//     {"logs": [...]} body. The install id and app secret travel in
//     the Install-ID and App-Secret headers, an auth token (if any) as
//     a bearer token.
//   - VariantNDJSON: POST {endpoint} with one record per line. The
//     tenant credentials are the records' destination tokens, sent
//     comma-joined in the apikey header.
//
// Bodies at or above Config.GzipThreshold bytes are gzip-compressed.
// A non-2xx response becomes an *HTTPError carrying any server retry
// hint.
package ingestion
