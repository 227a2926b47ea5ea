// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// outboxctl inspects and operates an outbox store from the command
// line: per-group record counts, clearing a group, flushing stored
// records to the collector and enqueueing test events.
//
// The configuration file is named by --config or OUTBOX_CONFIG.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root(os.Stdout).Execute(ctx, os.Args[1:])
}
