// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netstate reports whether the host has network connectivity.
//
// The host platform owns the real signal. It feeds transitions into a
// Monitor with Set; the retry gate subscribes and stops sending while
// the network is down.
package netstate

import "sync"

// Provider reports connectivity and notifies subscribers on change.
type Provider interface {
	Connected() bool

	// Subscribe registers fn to be called with the new state on each
	// transition. The returned function removes the subscription.
	Subscribe(fn func(connected bool)) (cancel func())
}

// Monitor is a Provider driven by Set. The zero value is not usable;
// use NewMonitor.
type Monitor struct {
	mu          sync.Mutex
	connected   bool
	nextID      uint64
	subscribers map[uint64]func(bool)
}

// NewMonitor returns a Monitor in the given initial state.
func NewMonitor(connected bool) *Monitor {
	return &Monitor{
		connected:   connected,
		subscribers: make(map[uint64]func(bool)),
	}
}

func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Monitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Set records the current state. Subscribers are called, outside the
// lock and in no particular order, only when the state changes.
func (m *Monitor) Set(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	subscribers := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(connected)
	}
}

// AlwaysConnected is a Provider for hosts without a connectivity
// signal.
func AlwaysConnected() Provider { return always{} }

type always struct{}

func (always) Connected() bool             { return true }
func (always) Subscribe(func(bool)) func() { return func() {} }
