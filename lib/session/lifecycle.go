// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
)

// LifecycleEvent is a foreground/background transition reported by
// the host.
type LifecycleEvent int

const (
	// Resumed means the application came to the foreground.
	Resumed LifecycleEvent = iota + 1

	// Paused means the application went to the background.
	Paused
)

func (e LifecycleEvent) String() string {
	switch e {
	case Resumed:
		return "resumed"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("lifecycle(%d)", int(e))
}

// Run feeds events into the correlator until ctx is done or events is
// closed. It returns ctx.Err() in the first case and nil in the
// second.
func (c *Correlator) Run(ctx context.Context, events <-chan LifecycleEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			switch event {
			case Resumed:
				c.Resumed()
			case Paused:
				c.Paused()
			default:
				c.logger.Warn("ignoring unknown lifecycle event", "event", event)
			}
		}
	}
}
