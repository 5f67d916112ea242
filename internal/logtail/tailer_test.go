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

package logtail

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestPollEmptyFileReturnsEmptyCursorZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trainer_log.jsonl")
	writeLines(t, path)

	tailer := New(path, 0, testLogger())
	records, err := tailer.Poll()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, tailer.Cursor())
}

func TestPollMissingFileReturnsEmpty(t *testing.T) {
	tailer := New("/nonexistent/trainer_log.jsonl", 0, testLogger())
	records, err := tailer.Poll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPollAdvancesCursorAndOnlyEmitsNewRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trainer_log.jsonl")
	writeLines(t, path, `{"loss": 0.5, "step": 1}`, `{"loss": 0.4, "step": 2}`)

	tailer := New(path, 0, testLogger())
	records, err := tailer.Poll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, tailer.Cursor())

	writeLines(t, path, `{"loss": 0.3, "step": 3}`)
	records, err = tailer.Poll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0.3, records[0].Fields["loss"])
	assert.Equal(t, 3, tailer.Cursor())
}

func TestPollSkipsMalformedLinesAndAdvancesCursorPastThem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trainer_log.jsonl")
	writeLines(t, path, `{"loss": 0.5}`, `not json at all`, `{"loss": 0.1}`)

	tailer := New(path, 0, testLogger())
	records, err := tailer.Poll()
	require.NoError(t, err)
	require.Len(t, records, 2, "malformed line must be skipped, not block subsequent records")
	assert.Equal(t, 3, tailer.Cursor(), "cursor must advance past the malformed line")

	records, err = tailer.Poll()
	require.NoError(t, err)
	assert.Empty(t, records, "the skipped garbage line must never be re-reported")
}

func TestPollRestartSafetyStartCursorSkipsPriorRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trainer_log.jsonl")
	writeLines(t, path, `{"a": 1}`, `{"a": 2}`, `{"a": 3}`)

	tailer := New(path, 2, testLogger())
	records, err := tailer.Poll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, float64(3), records[0].Fields["a"])
}

func TestNumericFieldsDropsNonNumeric(t *testing.T) {
	r := Record{Fields: map[string]any{
		"loss":    0.5,
		"name":    "run-1",
		"enabled": true,
	}}
	numeric := r.NumericFields()
	assert.Equal(t, map[string]float64{"loss": 0.5}, numeric)
}
