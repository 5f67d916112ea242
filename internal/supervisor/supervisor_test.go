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

package supervisor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpawnCapturesStdoutAndStderr(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "echo out-line; echo err-line 1>&2"}, nil, "", testLogger())
	require.NoError(t, err)

	var got []Line
	for line := range h.Lines() {
		got = append(got, line)
	}
	h.Wait()

	require.Len(t, got, 2)
	assert.Equal(t, 0, h.ExitCode())
	assert.False(t, h.IsRunning())
}

func TestExitCodePropagatesNonZero(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "exit 2"}, nil, "", testLogger())
	require.NoError(t, err)
	for range h.Lines() {
	}
	h.Wait()
	assert.Equal(t, 2, h.ExitCode())
}

func TestIsRunningWhileChildSleeps(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "sleep 0.2"}, nil, "", testLogger())
	require.NoError(t, err)
	assert.True(t, h.IsRunning())
	h.Wait()
	assert.False(t, h.IsRunning())
}

func TestTerminateKillsProcessGroup(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "sleep 30"}, nil, "", testLogger())
	require.NoError(t, err)

	go func() {
		for range h.Lines() {
		}
	}()

	h.Terminate(100 * time.Millisecond)

	select {
	case <-h.waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("child was not terminated")
	}
	assert.False(t, h.IsRunning())
}
