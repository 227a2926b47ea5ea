// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingestion

import "strings"

// visibleSecretSuffix is how many trailing characters HideSecret
// keeps.
const visibleSecretSuffix = 8

// HideSecret masks all but the last eight characters of secret.
func HideSecret(secret string) string {
	if len(secret) <= visibleSecretSuffix {
		return strings.Repeat("*", len(secret))
	}
	hidden := len(secret) - visibleSecretSuffix
	return strings.Repeat("*", hidden) + secret[hidden:]
}

// HideAPIKeys masks a comma-separated list of destination tokens,
// keeping each token's tenant prefix.
func HideAPIKeys(header string) string {
	keys := strings.Split(header, ",")
	for i, key := range keys {
		tenant, secret, found := strings.Cut(key, "-")
		if !found {
			keys[i] = HideSecret(key)
			continue
		}
		keys[i] = tenant + "-" + strings.Repeat("*", len(secret))
	}
	return strings.Join(keys, ",")
}
