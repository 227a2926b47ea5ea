// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// targetDomainKey is the BLAKE3 key for target keys: the ASCII domain
// name, zero-padded to 32 bytes. Changing it orphans the target_key
// column of existing rows.
var targetDomainKey = [32]byte{
	'o', 'u', 't', 'b', 'o', 'x', '.', 't', 'a', 'r', 'g', 'e', 't', '-', 'k', 'e',
	'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// TargetKey returns the stored key for a destination token. Tokens
// have the form "<tenant>-<secret>"; only the tenant part contributes,
// so every token of one tenant maps to the same key. Empty tokens have
// no key.
func TargetKey(token string) string {
	if token == "" {
		return ""
	}
	tenant, _, _ := strings.Cut(token, "-")
	hasher, err := blake3.NewKeyed(targetDomainKey[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("logstore: blake3 keyed hasher: " + err.Error())
	}
	hasher.WriteString(tenant)
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}
