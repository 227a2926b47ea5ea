// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts destination tokens before they are written
// to the local store. Tokens are tenant credentials: anyone who can
// read the database file could otherwise replay them against the
// collector.
//
// A Sealer holds one age X25519 identity and encrypts to its own
// recipient. Ciphertext is standard base64 so it fits a TEXT column.
package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Sealer encrypts and decrypts with a single identity. It is safe for
// concurrent use.
type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// GenerateIdentity returns a new identity in AGE-SECRET-KEY-1... form.
func GenerateIdentity() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("sealed: generating identity: %w", err)
	}
	return identity.String(), nil
}

// New parses identity (AGE-SECRET-KEY-1... form) into a Sealer.
func New(identity string) (*Sealer, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("sealed: invalid identity: %w", err)
	}
	return &Sealer{identity: parsed, recipient: parsed.Recipient()}, nil
}

// LoadFile reads an identity file as written by age-keygen: comment
// lines starting with '#' are skipped and the first remaining line is
// the identity.
func LoadFile(path string) (*Sealer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return New(line)
	}
	return nil, fmt.Errorf("sealed: identity file %s contains no identity", path)
}

// Recipient returns the public half of the identity (age1... form).
func (s *Sealer) Recipient() string { return s.recipient.String() }

// Seal encrypts plaintext and returns base64 ciphertext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var buffer bytes.Buffer
	writer, err := age.Encrypt(&buffer, s.recipient)
	if err != nil {
		return "", fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, plaintext); err != nil {
		return "", fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("sealed: finalizing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buffer.Bytes()), nil
}

// ErrNotSealed is returned by Open for input that is not base64 age
// ciphertext.
var ErrNotSealed = errors.New("sealed: input is not sealed ciphertext")

// Open decrypts the output of Seal.
func (s *Sealer) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSealed, err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return string(plaintext), nil
}
