// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logtail implements incremental reads of an append-only
// structured log file, yielding only records that have not previously
// crossed the tailer's cursor.
package logtail

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
)

// Record is one parsed line of the structured log file. Only numeric
// fields are meaningful to the Monitor Loop; the rest are carried for
// completeness but otherwise ignored by the core.
type Record struct {
	Ordinal int
	Raw     json.RawMessage
	Fields  map[string]any
}

// Tailer incrementally reads path, a structured append-only file where
// each line is a self-describing JSON record. It owns a LogCursor: the
// count of records already forwarded. poll() never re-emits a record at or
// below the cursor, and the cursor never decreases.
type Tailer struct {
	path   string
	cursor int
	logger *slog.Logger
}

// New constructs a Tailer for path starting at startCursor. Records at or
// before startCursor are never emitted, which makes the tailer safe to
// reconstruct across a process restart if the cursor is persisted
// elsewhere.
func New(path string, startCursor int, logger *slog.Logger) *Tailer {
	return &Tailer{path: path, cursor: startCursor, logger: logger}
}

// Cursor returns the tailer's current LogCursor value.
func (t *Tailer) Cursor() int {
	return t.cursor
}

// Poll reads the file's current line count and returns all records with
// ordinal greater than the cursor, in file order, advancing the cursor past
// every line read (including malformed ones, so the same garbage is never
// re-reported). A missing file returns an empty slice, not an error.
func (t *Tailer) Poll() ([]Record, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []Record
	ordinal := 0
	for scanner.Scan() {
		ordinal++
		if ordinal <= t.cursor {
			continue
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			t.logger.Warn("logtail: skipping malformed line", "path", t.path, "ordinal", ordinal, "error", err)
			continue
		}

		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		records = append(records, Record{Ordinal: ordinal, Raw: raw, Fields: fields})
	}
	if err := scanner.Err(); err != nil {
		return records, err
	}

	if ordinal > t.cursor {
		t.cursor = ordinal
	}
	return records, nil
}

// NumericFields extracts the float64-valued keys from a record's fields,
// dropping anything non-numeric. This is what the Monitor Loop forwards to
// the tracker via log_metrics.
func (r Record) NumericFields() map[string]float64 {
	out := make(map[string]float64)
	for k, v := range r.Fields {
		switch n := v.(type) {
		case float64:
			out[k] = n
		}
	}
	return out
}
