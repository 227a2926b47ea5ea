// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/outbox/lib/logrecord"
)

var (
	// ErrUnknownGroup is reported for records enqueued to a group that
	// was never added.
	ErrUnknownGroup = errors.New("channel: unknown group")

	// ErrGroupDisabled is reported for records enqueued to a disabled
	// group.
	ErrGroupDisabled = errors.New("channel: group disabled")

	// ErrDisabled is reported for records enqueued while the channel
	// is disabled, and for records deleted by disabling it.
	ErrDisabled = errors.New("channel: disabled")

	// ErrRejected is reported for records a BeforeSending listener
	// rejected.
	ErrRejected = errors.New("channel: rejected by listener")
)

// EventKind discriminates listener events.
type EventKind int

const (
	// BeforeSending fires once per record after it is prepared and
	// before it is persisted. A listener may call Reject.
	BeforeSending EventKind = iota + 1

	// SendingSucceeded fires once per record the collector accepted.
	SendingSucceeded

	// SendingFailed fires once per persisted record that was discarded
	// without being delivered.
	SendingFailed

	// Dropped fires once per record that was never persisted.
	Dropped
)

func (k EventKind) String() string {
	switch k {
	case BeforeSending:
		return "before-sending"
	case SendingSucceeded:
		return "sending-succeeded"
	case SendingFailed:
		return "sending-failed"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event describes what happened to one record.
type Event struct {
	Kind   EventKind
	Group  string
	Record *logrecord.Record

	// Err is set for SendingFailed and Dropped.
	Err error

	rejected *bool
}

// Reject drops the record. It has an effect only on BeforeSending
// events and only while the listener is running.
func (e Event) Reject() {
	if e.rejected != nil {
		*e.rejected = true
	}
}

// Listener receives events synchronously on the goroutine that caused
// them: the producer for BeforeSending and Dropped, the transport's
// completion goroutine otherwise. Listeners must not block.
type Listener func(Event)

// ListenerID identifies a registered listener.
type ListenerID uint64

// Preparer decorates records before they are timestamped and
// persisted. The session correlator is one. Preparers see records
// passed to Enqueue only, never those passed to EnqueueDeferred.
type Preparer interface {
	Prepare(group string, record *logrecord.Record)
}

// PreparerFunc adapts a function to Preparer.
type PreparerFunc func(group string, record *logrecord.Record)

func (f PreparerFunc) Prepare(group string, record *logrecord.Record) { f(group, record) }

// DeviceProvider supplies the device snapshot attached to records.
type DeviceProvider interface {
	Device() (*logrecord.Device, error)
}

// StaticDevice is a DeviceProvider that always returns the same
// snapshot.
type StaticDevice logrecord.Device

func (d *StaticDevice) Device() (*logrecord.Device, error) {
	device := logrecord.Device(*d)
	return &device, nil
}
