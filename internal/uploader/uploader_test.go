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

package uploader

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenthutra3004/job-orchestrator/internal/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTracker struct {
	mu             sync.Mutex
	registered     []string
	loggedDirs     []string
	metrics        []string
	registerErr    error
	logDirectoryFn func()
}

func (f *fakeTracker) InitRun(ctx context.Context, project, jobType string, config map[string]any, name, trainParentID string) (*tracker.RunHandle, error) {
	return &tracker.RunHandle{RunID: "r1"}, nil
}
func (f *fakeTracker) LogMetric(ctx context.Context, key string, value float64, step *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, key)
	return nil
}
func (f *fakeTracker) LogMetrics(ctx context.Context, metrics map[string]float64, step *int) error {
	return nil
}
func (f *fakeTracker) LogTable(ctx context.Context, key string, rows []tracker.TableRow) error {
	return nil
}
func (f *fakeTracker) LogArtifact(ctx context.Context, localPath, logicalName string, kind tracker.ArtifactKind) (string, error) {
	return "", nil
}
func (f *fakeTracker) LogDirectory(ctx context.Context, localPath, logicalName string, kind tracker.ArtifactKind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedDirs = append(f.loggedDirs, localPath)
	return "ref://" + logicalName, nil
}
func (f *fakeTracker) RegisterModel(ctx context.Context, path, modelName, collection, registry string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return "", f.registerErr
	}
	f.registered = append(f.registered, path)
	return registry + "/" + collection + "/v1", nil
}
func (f *fakeTracker) FinishRun(ctx context.Context) error                          { return nil }
func (f *fakeTracker) UpdateConfig(ctx context.Context, updates map[string]any) error { return nil }

func (f *fakeTracker) snapshot() (registered, loggedDirs, metrics []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registered...), append([]string(nil), f.loggedDirs...), append([]string(nil), f.metrics...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestUploadReturnsLogicalNameImmediately(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "checkpoint-100")
	require.NoError(t, os.Mkdir(ckpt, 0o755))

	ft := &fakeTracker{}
	u := New(ft, http.DefaultClient, "", testLogger())

	name := u.Upload(context.Background(), Request{CheckpointPath: ckpt, Register: false})
	assert.Equal(t, "model/checkpoint-100", name)
}

func TestUploadPrunesKnownTransientFiles(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "checkpoint-200")
	require.NoError(t, os.Mkdir(ckpt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ckpt, "optimizer.pt"), []byte("x"), 0o644))

	ft := &fakeTracker{}
	u := New(ft, http.DefaultClient, "", testLogger())
	u.Upload(context.Background(), Request{CheckpointPath: ckpt, Register: false})

	_, err := os.Stat(filepath.Join(ckpt, "optimizer.pt"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadRegistersModelWhenRequested(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "checkpoint-300")
	require.NoError(t, os.Mkdir(ckpt, 0o755))

	ft := &fakeTracker{}
	u := New(ft, http.DefaultClient, "", testLogger())
	u.Upload(context.Background(), Request{CheckpointPath: ckpt, Register: true, Collection: "ckpt", Registry: "models"})

	waitFor(t, time.Second, func() bool {
		registered, _, metrics := ft.snapshot()
		return len(registered) == 1 && len(metrics) == 1
	})
	registered, _, metrics := ft.snapshot()
	assert.Equal(t, ckpt, registered[0])
	assert.Equal(t, "checkpoint_upload_complete", metrics[0])
}

func TestUploadLogDirectoryWhenNotRegistering(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "checkpoint-400")
	require.NoError(t, os.Mkdir(ckpt, 0o755))

	ft := &fakeTracker{}
	u := New(ft, http.DefaultClient, "", testLogger())
	u.Upload(context.Background(), Request{CheckpointPath: ckpt, Register: false})

	waitFor(t, time.Second, func() bool {
		_, loggedDirs, _ := ft.snapshot()
		return len(loggedDirs) == 1
	})
}

func TestUploadSwallowsRegisterFailure(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "checkpoint-500")
	require.NoError(t, os.Mkdir(ckpt, 0o755))

	ft := &fakeTracker{registerErr: assertError{}}
	u := New(ft, http.DefaultClient, "", testLogger())

	name := u.Upload(context.Background(), Request{CheckpointPath: ckpt, Register: true, Collection: "c", Registry: "r"})
	assert.Equal(t, "model/checkpoint-500", name)

	time.Sleep(50 * time.Millisecond)
	registered, _, metrics := ft.snapshot()
	assert.Empty(t, registered)
	assert.Empty(t, metrics, "a failed register must never log the completion metric")
}

type assertError struct{}

func (assertError) Error() string { return "registration failed" }

func TestUploadSkipsVanishedCheckpointDirectory(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "checkpoint-600")
	require.NoError(t, os.Mkdir(ckpt, 0o755))

	ft := &fakeTracker{}
	u := New(ft, http.DefaultClient, "", testLogger())
	require.NoError(t, os.Remove(ckpt))

	assert.NotPanics(t, func() {
		u.Upload(context.Background(), Request{CheckpointPath: ckpt, Register: true})
		time.Sleep(50 * time.Millisecond)
	})
}

func TestTriggerEvalPostsBestEffort(t *testing.T) {
	var gotBody evalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	ckpt := filepath.Join(dir, "checkpoint-700")
	require.NoError(t, os.Mkdir(ckpt, 0o755))

	ft := &fakeTracker{}
	u := New(ft, srv.Client(), srv.URL, testLogger())
	u.Upload(context.Background(), Request{
		CheckpointPath: ckpt,
		Register:       false,
		TriggerEval:    true,
		TrainID:        "train-1",
		EvalFields:     map[string]any{"base_model_name": "base-1"},
	})

	waitFor(t, time.Second, func() bool { return gotBody.TrainID != "" })
	assert.Equal(t, "train-1", gotBody.TrainID)
	assert.Equal(t, "base-1", gotBody.BaseModelName)
	assert.Equal(t, "latest", gotBody.DataVersion)
}
