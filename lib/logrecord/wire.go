// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logrecord

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ContentTypeContainer and ContentTypeNDJSON are the media types of
// the two wire encodings.
const (
	ContentTypeContainer = "application/json"
	ContentTypeNDJSON    = "application/x-json-stream; charset=utf-8"
)

type container struct {
	Logs []*Record `json:"logs"`
}

// EncodeContainer writes records as a single JSON object
// {"logs": [...]}.
func EncodeContainer(w io.Writer, records []*Record) error {
	if err := json.NewEncoder(w).Encode(container{Logs: records}); err != nil {
		return fmt.Errorf("logrecord: encoding container: %w", err)
	}
	return nil
}

// DecodeContainer reads the output of EncodeContainer.
func DecodeContainer(r io.Reader) ([]*Record, error) {
	var decoded container
	if err := json.NewDecoder(r).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("logrecord: decoding container: %w", err)
	}
	return decoded.Logs, nil
}

// EncodeNDJSON writes one JSON object per record, each terminated by
// a newline.
func EncodeNDJSON(w io.Writer, records []*Record) error {
	encoder := json.NewEncoder(w)
	for index, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("logrecord: encoding record %d: %w", index, err)
		}
	}
	return nil
}

// DecodeNDJSON reads newline-delimited records. Blank lines are
// skipped.
func DecodeNDJSON(r io.Reader) ([]*Record, error) {
	var records []*Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		record := new(Record)
		if err := json.Unmarshal(text, record); err != nil {
			return nil, fmt.Errorf("logrecord: decoding line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("logrecord: reading records: %w", err)
	}
	return records, nil
}
