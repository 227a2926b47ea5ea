// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingestion

import (
	"context"

	"github.com/google/uuid"
)

// Credentials identify the installation to the collector.
type Credentials struct {
	InstallID uuid.UUID
	AppSecret string

	// AuthToken is an optional user token sent as a bearer token.
	AuthToken string
}

// CredentialProvider supplies credentials for each send attempt. The
// host backs it with its secure storage; tokens may rotate between
// attempts.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialProvider that always returns
// itself.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}
