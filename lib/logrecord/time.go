// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logrecord

import (
	"fmt"
	"time"
)

// TimeLayout is ISO-8601 in UTC with exactly millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Time is a record timestamp. It encodes as a TimeLayout string in
// both JSON and CBOR and holds no precision finer than a millisecond,
// so a decoded Time equals the value that was encoded.
type Time time.Time

// NewTime truncates t to the millisecond and converts it to UTC. The
// monotonic reading is discarded.
func NewTime(t time.Time) Time {
	return Time(t.Round(0).UTC().Truncate(time.Millisecond))
}

// Std returns the time.Time value.
func (t Time) Std() time.Time { return time.Time(t) }

// IsZero reports whether t has not been set.
func (t Time) IsZero() bool { return time.Time(t).IsZero() }

// Equal reports whether t and u are the same instant.
func (t Time) Equal(u Time) bool { return time.Time(t).Equal(time.Time(u)) }

func (t Time) String() string { return time.Time(t).UTC().Format(TimeLayout) }

func (t Time) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Time) UnmarshalText(data []byte) error {
	parsed, err := time.Parse(TimeLayout, string(data))
	if err != nil {
		// Producers outside this package may send RFC 3339 with any
		// fractional precision.
		parsed, err = time.Parse(time.RFC3339Nano, string(data))
		if err != nil {
			return fmt.Errorf("logrecord: invalid timestamp %q: %w", data, err)
		}
	}
	*t = NewTime(parsed)
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("logrecord: timestamp must be a JSON string, got %s", data)
	}
	return t.UnmarshalText(data[1 : len(data)-1])
}
