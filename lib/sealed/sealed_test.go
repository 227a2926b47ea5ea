// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	sealer, err := New(identity)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sealer
}

func TestSealOpen(t *testing.T) {
	sealer := newSealer(t)
	const token = "4bf2c1d0e6a84a5c-9a1e-4c7b-8f0d-2a5b6c7d8e9f-7711"

	ciphertext, err := sealer.Seal(token)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(ciphertext, token) {
		t.Fatal("ciphertext contains the plaintext token")
	}
	plaintext, err := sealer.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plaintext != token {
		t.Fatalf("Open = %q, want %q", plaintext, token)
	}
}

func TestOpenWithOtherIdentityFails(t *testing.T) {
	ciphertext, err := newSealer(t).Seal("token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := newSealer(t).Open(ciphertext); err == nil {
		t.Fatal("Open succeeded with a different identity")
	}
}

func TestOpenPlaintext(t *testing.T) {
	_, err := newSealer(t).Open("not base64 at all!")
	if !errors.Is(err, ErrNotSealed) {
		t.Fatalf("Open error = %v, want ErrNotSealed", err)
	}
}

func TestLoadFile(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	path := filepath.Join(t.TempDir(), "outbox.key")
	content := "# created: 2026-01-01T00:00:00Z\n# public key: age1...\n" + identity + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sealer, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !strings.HasPrefix(sealer.Recipient(), "age1") {
		t.Fatalf("Recipient() = %q", sealer.Recipient())
	}

	empty := filepath.Join(t.TempDir(), "empty.key")
	if err := os.WriteFile(empty, []byte("# nothing\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadFile(empty); err == nil {
		t.Fatal("LoadFile accepted a file without an identity")
	}
}

func TestNewRejectsGarbage(t *testing.T) {
	if _, err := New("AGE-SECRET-KEY-1NOTAKEY"); err == nil {
		t.Fatal("New accepted an invalid identity")
	}
}
