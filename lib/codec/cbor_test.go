// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type storedRow struct {
	Group    string            `json:"group"`
	Priority int               `json:"priority,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

type upperText string

func (u upperText) MarshalText() ([]byte, error) {
	return []byte(strings.ToUpper(string(u))), nil
}

func (u *upperText) UnmarshalText(data []byte) error {
	*u = upperText(strings.ToLower(string(data)))
	return nil
}

func TestMarshalDeterministicAcrossMapOrder(t *testing.T) {
	first, err := Marshal(storedRow{Group: "analytics", Labels: map[string]string{"a": "1", "b": "2", "c": "3"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(storedRow{Group: "analytics", Labels: map[string]string{"c": "3", "b": "2", "a": "1"}})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding differs: %x != %x", first, again)
		}
	}
}

func TestJSONTagsNameCBORFields(t *testing.T) {
	data, err := Marshal(storedRow{Group: "crashes", Priority: 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"group"`) || !strings.Contains(diagnostic, `"priority"`) {
		t.Fatalf("diagnostic %s does not use json tag names", diagnostic)
	}
	if strings.Contains(diagnostic, `"labels"`) {
		t.Fatalf("omitempty not honored: %s", diagnostic)
	}
}

func TestTextMarshalerRoundTrip(t *testing.T) {
	type wrapper struct {
		Value upperText `json:"value"`
	}
	data, err := Marshal(wrapper{Value: "abc"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, _ := Diagnose(data)
	if !strings.Contains(diagnostic, `"ABC"`) {
		t.Fatalf("TextMarshaler not used, diagnostic %s", diagnostic)
	}
	var decoded wrapper
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Value != "abc" {
		t.Fatalf("decoded %q, want %q", decoded.Value, "abc")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var row storedRow
	for _, input := range [][]byte{
		{},
		{0xff, 0x00, 0x13},
		[]byte("not cbor at all"),
	} {
		if err := Unmarshal(input, &row); err == nil {
			t.Errorf("Unmarshal(%x) succeeded", input)
		}
	}
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {"group": "a", "group": "b"}
	data := []byte{0xa2, 0x65, 'g', 'r', 'o', 'u', 'p', 0x61, 'a', 0x65, 'g', 'r', 'o', 'u', 'p', 0x61, 'b'}
	var row storedRow
	if err := Unmarshal(data, &row); err == nil {
		t.Fatalf("duplicate map keys accepted, decoded %+v", row)
	}
}

func TestWellformed(t *testing.T) {
	data, err := Marshal(storedRow{Group: "analytics"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := Wellformed(data); err != nil {
		t.Fatalf("Wellformed on valid data: %v", err)
	}
	if err := Wellformed(data[:len(data)-1]); err == nil {
		t.Fatal("Wellformed accepted truncated data")
	}
}
