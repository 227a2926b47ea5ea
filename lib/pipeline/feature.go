// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

// Feature is a producer of records. Each feature owns one group.
type Feature interface {
	// Name identifies the feature in SetFeatureEnabled.
	Name() string

	// GroupName is the group the feature enqueues into. A group
	// missing from the configuration is added with default batching.
	GroupName() string

	// OnReady is called once by Register, after the feature's group
	// exists.
	OnReady(p *Pipeline)
}

// EnabledObserver is implemented by features that react to being
// switched on or off.
type EnabledObserver interface {
	OnEnabledChanged(enabled bool)
}
