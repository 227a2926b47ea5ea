// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logrecord

import "fmt"

// Type discriminates record variants. The string form is the wire
// value of the "type" field.
type Type string

const (
	TypeEvent            Type = "event"
	TypePage             Type = "page"
	TypeStartSession     Type = "startSession"
	TypeCustomProperties Type = "customProperties"
	TypeHandledError     Type = "handledError"
)

// Known reports whether t is a type this package can validate.
func (t Type) Known() bool {
	switch t {
	case TypeEvent, TypePage, TypeStartSession, TypeCustomProperties, TypeHandledError:
		return true
	}
	return false
}

// Priority orders records for flushing and for eviction when a group
// is at capacity. Higher values flush sooner and are evicted later.
type Priority int

const (
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts the String forms of the defined priorities.
// The empty string is PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("logrecord: unknown priority %q", s)
}

// Record is one telemetry log.
type Record struct {
	// Type selects which variant fields are meaningful.
	Type Type `json:"type"`

	// Timestamp is when the record was produced. Zero until the
	// channel accepts the record; set exactly once.
	Timestamp Time `json:"timestamp"`

	// SessionID correlates records of one session. Set at most once.
	SessionID string `json:"sid,omitempty"`

	// UserID is the host-supplied account identifier, if any.
	UserID string `json:"userId,omitempty"`

	// DistributionGroupID identifies the release channel the install
	// came from, if any.
	DistributionGroupID string `json:"distributionGroupId,omitempty"`

	// Device is shared by every record of a session. Treat the
	// pointed-to value as immutable.
	Device *Device `json:"device,omitempty"`

	// Tokens are destination tokens selecting which collector tenants
	// receive the record. The store keeps them out of the payload
	// column (see lib/logstore).
	Tokens []string `json:"targetTokens,omitempty"`

	// ID identifies an event or handled error. Generated by the
	// producer; servers use it to discard duplicates.
	ID string `json:"id,omitempty"`

	// Name is the event or page name.
	Name string `json:"name,omitempty"`

	// Properties are free-form string attributes of an event or page.
	Properties map[string]string `json:"properties,omitempty"`

	// CustomProperties is the typed property list of a
	// customProperties record.
	CustomProperties []CustomProperty `json:"customProperties,omitempty"`

	// Exception describes a handledError record.
	Exception *Exception `json:"exception,omitempty"`
}

// Exception is the error payload of a handledError record.
type Exception struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// StartSession returns the record that opens session sid.
func StartSession(sid string) *Record {
	return &Record{Type: TypeStartSession, SessionID: sid}
}

// Clone returns a copy of r that shares no mutable state with it,
// except Device, which is shared by reference.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Tokens != nil {
		clone.Tokens = append([]string(nil), r.Tokens...)
	}
	if r.Properties != nil {
		clone.Properties = make(map[string]string, len(r.Properties))
		for key, value := range r.Properties {
			clone.Properties[key] = value
		}
	}
	if r.CustomProperties != nil {
		clone.CustomProperties = append([]CustomProperty(nil), r.CustomProperties...)
	}
	if r.Exception != nil {
		exception := *r.Exception
		clone.Exception = &exception
	}
	return &clone
}
