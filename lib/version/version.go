// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the outbox library and
// its CLI. Release builds set the variables with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/outbox/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// Version is the semantic version.
	Version = "0.1.0-dev"
)

// SDKName is the name reported to the collector.
const SDKName = "outbox.go"

// Info returns the --version line.
func Info() string {
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// ClientVersion is the value of the Client-Version request header.
func ClientVersion() string {
	return SDKName + "-" + Version
}
