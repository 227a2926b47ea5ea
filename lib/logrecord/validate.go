// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logrecord

import (
	"fmt"
	"regexp"
	"slices"
	"unicode/utf8"
)

// Limits enforced by Validate.
const (
	MaxNameLength                 = 256
	MaxProperties                 = 20
	MaxPropertyKeyLength          = 125
	MaxPropertyValueLength        = 125
	MaxCustomProperties           = 60
	MaxCustomPropertyStringLength = 128
)

var customPropertyName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9\-_]*$`)

// ValidationError reports a record that cannot be persisted.
type ValidationError struct {
	Type   Type
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("logrecord: invalid %s record: %s: %s", e.Type, e.Field, e.Reason)
}

// Validate checks r and repairs what can be repaired in place: long
// names, keys and values are truncated, surplus and empty-keyed
// properties and malformed custom properties are dropped. Each repair
// is described in the returned notes so the caller can log it. A
// record that cannot be repaired yields a *ValidationError and must
// be dropped.
func Validate(r *Record) (notes []string, err error) {
	invalid := func(field, reason string) error {
		return &ValidationError{Type: r.Type, Field: field, Reason: reason}
	}

	switch r.Type {
	case TypeEvent, TypePage:
		if r.Name == "" {
			return nil, invalid("name", "required")
		}
		if name, cut := truncate(r.Name, MaxNameLength); cut {
			notes = append(notes, fmt.Sprintf("name truncated to %d characters", MaxNameLength))
			r.Name = name
		}
		notes = append(notes, validateProperties(r)...)

	case TypeStartSession:
		if r.SessionID == "" {
			return nil, invalid("sid", "required")
		}

	case TypeCustomProperties:
		var kept []CustomProperty
		for _, property := range r.CustomProperties {
			if !customPropertyName.MatchString(property.Name) {
				notes = append(notes, fmt.Sprintf("custom property name %q is invalid, dropped", property.Name))
				continue
			}
			if property.Type == PropertyString && utf8.RuneCountInString(property.Value) > MaxCustomPropertyStringLength {
				notes = append(notes, fmt.Sprintf("custom property %q value exceeds %d characters, dropped", property.Name, MaxCustomPropertyStringLength))
				continue
			}
			if err := property.check(); err != nil {
				notes = append(notes, fmt.Sprintf("custom property %q dropped: %v", property.Name, err))
				continue
			}
			if len(kept) == MaxCustomProperties {
				notes = append(notes, fmt.Sprintf("more than %d custom properties, %q dropped", MaxCustomProperties, property.Name))
				continue
			}
			kept = append(kept, property)
		}
		if len(kept) == 0 {
			return notes, invalid("customProperties", "no valid properties")
		}
		r.CustomProperties = kept

	case TypeHandledError:
		if r.Exception == nil || r.Exception.Type == "" {
			return nil, invalid("exception", "type required")
		}

	default:
		return nil, invalid("type", "unknown record type")
	}
	return notes, nil
}

func validateProperties(r *Record) (notes []string) {
	if len(r.Properties) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Properties))
	for key := range r.Properties {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	validated := make(map[string]string, min(len(keys), MaxProperties))
	for _, key := range keys {
		if key == "" {
			notes = append(notes, "property with empty key dropped")
			continue
		}
		if len(validated) == MaxProperties {
			notes = append(notes, fmt.Sprintf("more than %d properties, %q dropped", MaxProperties, key))
			continue
		}
		value := r.Properties[key]
		shortKey, keyCut := truncate(key, MaxPropertyKeyLength)
		if keyCut {
			notes = append(notes, fmt.Sprintf("property key %q truncated to %d characters", shortKey, MaxPropertyKeyLength))
		}
		if _, taken := validated[shortKey]; taken {
			notes = append(notes, fmt.Sprintf("property key %q collides after truncation, dropped", shortKey))
			continue
		}
		shortValue, valueCut := truncate(value, MaxPropertyValueLength)
		if valueCut {
			notes = append(notes, fmt.Sprintf("property %q value truncated to %d characters", shortKey, MaxPropertyValueLength))
		}
		validated[shortKey] = shortValue
	}
	r.Properties = validated
	return notes
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	count := 0
	for index := range s {
		if count == limit {
			return s[:index], true
		}
		count++
	}
	return s, false
}
