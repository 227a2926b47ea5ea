// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logrecord

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// PropertyType is the declared type of a CustomProperty.
type PropertyType string

const (
	PropertyClear    PropertyType = "clear"
	PropertyBoolean  PropertyType = "boolean"
	PropertyNumber   PropertyType = "number"
	PropertyDateTime PropertyType = "dateTime"
	PropertyString   PropertyType = "string"
)

// CustomProperty is one typed entry of a customProperties record.
// Value holds the canonical string form of the typed value and is
// empty for PropertyClear.
type CustomProperty struct {
	Type  PropertyType `json:"type"`
	Name  string       `json:"name"`
	Value string       `json:"value,omitempty"`
}

// ClearProperty removes name on the server.
func ClearProperty(name string) CustomProperty {
	return CustomProperty{Type: PropertyClear, Name: name}
}

func BoolProperty(name string, value bool) CustomProperty {
	return CustomProperty{Type: PropertyBoolean, Name: name, Value: strconv.FormatBool(value)}
}

func NumberProperty(name string, value float64) CustomProperty {
	return CustomProperty{Type: PropertyNumber, Name: name, Value: strconv.FormatFloat(value, 'g', -1, 64)}
}

func DateTimeProperty(name string, value time.Time) CustomProperty {
	return CustomProperty{Type: PropertyDateTime, Name: name, Value: NewTime(value).String()}
}

func StringProperty(name, value string) CustomProperty {
	return CustomProperty{Type: PropertyString, Name: name, Value: value}
}

// check verifies that Value parses as the declared type.
func (p CustomProperty) check() error {
	switch p.Type {
	case PropertyClear:
		if p.Value != "" {
			return fmt.Errorf("clear property carries value %q", p.Value)
		}
	case PropertyBoolean:
		if _, err := strconv.ParseBool(p.Value); err != nil {
			return fmt.Errorf("boolean value %q: %w", p.Value, err)
		}
	case PropertyNumber:
		value, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return fmt.Errorf("number value %q: %w", p.Value, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("number value %q is not finite", p.Value)
		}
	case PropertyDateTime:
		var t Time
		if err := t.UnmarshalText([]byte(p.Value)); err != nil {
			return err
		}
	case PropertyString:
	default:
		return fmt.Errorf("unknown property type %q", p.Type)
	}
	return nil
}
