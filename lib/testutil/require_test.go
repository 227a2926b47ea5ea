// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
)

type recorder struct {
	failed  bool
	message string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, "value"); got != 7 {
		t.Fatalf("RequireReceive = %d, want 7", got)
	}
}

func TestRequireEmpty(t *testing.T) {
	ch := make(chan string, 1)
	RequireEmpty(t, ch, "empty channel")

	ch <- "late"
	r := &recorder{}
	RequireEmpty(r, ch, "batch %d", 3)
	if !r.failed || !strings.Contains(r.message, "late") || !strings.Contains(r.message, "batch 3") {
		t.Fatalf("RequireEmpty on a ready channel: failed=%v message=%q", r.failed, r.message)
	}
}

func TestRequireClosed(t *testing.T) {
	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, "closed")
}

func TestEventIDsAreUnique(t *testing.T) {
	a, b := Event("a", "tenant-x"), Event("b")
	if a.ID == b.ID {
		t.Fatalf("ids collide: %q", a.ID)
	}
	if len(a.Tokens) != 1 || a.Tokens[0] != "tenant-x" || b.Tokens != nil {
		t.Fatalf("tokens = %v / %v", a.Tokens, b.Tokens)
	}
}
