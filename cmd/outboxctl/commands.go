// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/outbox/lib/channel"
	"github.com/bureau-foundation/outbox/lib/config"
	"github.com/bureau-foundation/outbox/lib/logrecord"
	"github.com/bureau-foundation/outbox/lib/netstate"
	"github.com/bureau-foundation/outbox/lib/pipeline"
	"github.com/bureau-foundation/outbox/lib/version"
)

func root(stdout io.Writer) *Command {
	return &Command{
		Name: "outboxctl",
		Description: `outboxctl: inspect and operate an outbox store.

The store is the SQLite file named by storage.path in the config file
(--config or OUTBOX_CONFIG).`,
		Subcommands: []*Command{
			statsCommand(stdout),
			clearCommand(stdout),
			flushCommand(stdout),
			emitCommand(stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string) error {
					fmt.Fprintf(stdout, "outboxctl %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// commonFlags are accepted by every command that opens the store.
type commonFlags struct {
	config  string
	verbose bool
}

func (f *commonFlags) register(set *pflag.FlagSet) {
	set.StringVar(&f.config, "config", "", "config file (default $"+config.EnvVar+")")
	set.BoolVarP(&f.verbose, "verbose", "v", false, "log debug output to stderr")
}

// open loads the configuration and builds a pipeline. Offline
// pipelines never contact the collector.
func (f *commonFlags) open(online bool) (*pipeline.Pipeline, error) {
	var cfg *config.Config
	var err error
	if f.config != "" {
		cfg, err = config.LoadFile(f.config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	network := netstate.AlwaysConnected()
	if !online {
		network = netstate.NewMonitor(false)
	}
	p, err := pipeline.New(pipeline.Options{
		Config:  cfg,
		Logger:  newLogger(f.verbose),
		Network: network,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func statsCommand(stdout io.Writer) *Command {
	var common commonFlags
	return &Command{
		Name:    "stats",
		Summary: "Print stored record counts per group",
		Flags: func() *pflag.FlagSet {
			set := newFlagSet("stats")
			common.register(set)
			return set
		},
		Run: func(ctx context.Context, args []string) error {
			p, err := common.open(false)
			if err != nil {
				return err
			}
			defer p.Close()

			counts, err := p.Counts(ctx)
			if err != nil {
				return err
			}
			groups := p.Groups()
			for group := range counts {
				if !slices.Contains(groups, group) {
					groups = append(groups, group)
				}
			}
			slices.Sort(groups)

			tw := tabwriter.NewWriter(stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "GROUP\tRECORDS")
			for _, group := range groups {
				fmt.Fprintf(tw, "%s\t%d\n", group, counts[group])
			}
			return tw.Flush()
		},
	}
}

func clearCommand(stdout io.Writer) *Command {
	var common commonFlags
	var group string
	return &Command{
		Name:    "clear",
		Summary: "Delete every stored record of a group",
		Usage:   "outboxctl clear --group <name> [flags]",
		Flags: func() *pflag.FlagSet {
			set := newFlagSet("clear")
			common.register(set)
			set.StringVar(&group, "group", "", "group to clear (required)")
			return set
		},
		Run: func(ctx context.Context, args []string) error {
			if group == "" {
				return fmt.Errorf("--group is required")
			}
			p, err := common.open(false)
			if err != nil {
				return err
			}
			defer p.Close()

			counts, err := p.Counts(ctx)
			if err != nil {
				return err
			}
			if err := p.Clear(ctx, group); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "cleared %d records from %s\n", counts[group], group)
			return nil
		},
	}
}

func flushCommand(stdout io.Writer) *Command {
	var common commonFlags
	var groups []string
	var timeout time.Duration
	return &Command{
		Name:    "flush",
		Summary: "Send stored records to the collector and wait for the outcome",
		Flags: func() *pflag.FlagSet {
			set := newFlagSet("flush")
			common.register(set)
			set.StringSliceVar(&groups, "group", nil, "groups to flush (default all configured groups)")
			set.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for delivery")
			return set
		},
		Run: func(ctx context.Context, args []string) error {
			p, err := common.open(true)
			if err != nil {
				return err
			}
			defer p.Close()

			targets := groups
			if len(targets) == 0 {
				targets = p.Groups()
			}
			before, err := p.Counts(ctx)
			if err != nil {
				return err
			}

			var succeeded, failed atomic.Int64
			id := p.AddListener(func(event channel.Event) {
				switch event.Kind {
				case channel.SendingSucceeded:
					succeeded.Add(1)
				case channel.SendingFailed:
					failed.Add(1)
				}
			})
			drainCtx, cancel := context.WithTimeout(ctx, timeout)
			drainErr := p.Drain(drainCtx, targets...)
			cancel()
			p.RemoveListener(id)

			after, err := p.Counts(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "GROUP\tBEFORE\tREMAINING")
			for _, group := range targets {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", group, before[group], after[group])
			}
			tw.Flush()
			fmt.Fprintf(stdout, "delivered %d, discarded %d\n", succeeded.Load(), failed.Load())
			return drainErr
		},
	}
}

func emitCommand(stdout io.Writer) *Command {
	var common commonFlags
	var group, name string
	var high, flush bool
	var properties map[string]string
	var timeout time.Duration
	return &Command{
		Name:    "emit",
		Summary: "Enqueue an event record",
		Usage:   "outboxctl emit --group <name> --name <event> [flags]",
		Flags: func() *pflag.FlagSet {
			set := newFlagSet("emit")
			common.register(set)
			set.StringVar(&group, "group", "", "group to enqueue into (required)")
			set.StringVar(&name, "name", "", "event name (required)")
			set.BoolVar(&high, "high", false, "enqueue with high priority")
			set.BoolVar(&flush, "flush", false, "send the group before exiting")
			set.DurationVar(&timeout, "timeout", 30*time.Second, "how long --flush waits for delivery")
			set.StringToStringVar(&properties, "property", nil, "event property as key=value (repeatable)")
			return set
		},
		Run: func(ctx context.Context, args []string) error {
			if group == "" || name == "" {
				return fmt.Errorf("--group and --name are required")
			}
			p, err := common.open(flush)
			if err != nil {
				return err
			}
			defer p.Close()

			var dropped error
			id := p.AddListener(func(event channel.Event) {
				if event.Kind == channel.Dropped && event.Record.Name == name {
					dropped = event.Err
				}
			})
			defer p.RemoveListener(id)

			tracker := pipeline.NewTracker("outboxctl", group)
			if err := p.Register(ctx, tracker); err != nil {
				return err
			}
			priority := logrecord.PriorityNormal
			if high {
				priority = logrecord.PriorityHigh
			}
			tracker.TrackEvent(name, properties, priority)
			if dropped != nil {
				return fmt.Errorf("event dropped: %w", dropped)
			}
			fmt.Fprintf(stdout, "enqueued %q in %s (properties: %v)\n", name, group, slices.Sorted(maps.Keys(properties)))

			if flush {
				drainCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return p.Drain(drainCtx, group)
			}
			return nil
		},
	}
}
