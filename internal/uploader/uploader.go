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

// Package uploader registers/uploads a completed checkpoint directory
// against the configured tracker backend, optionally triggers an
// evaluation run, and always runs the IO-heavy part on a detached worker
// so the Monitor Loop never blocks on it.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nguyenthutra3004/job-orchestrator/internal/tracker"
)

// PruneFiles lists transient scratch files removed from a checkpoint
// directory before upload, to reduce upload size. Pruning is best-effort.
var PruneFiles = []string{"optimizer.pt"}

// Request describes one checkpoint upload.
type Request struct {
	CheckpointPath string
	Register       bool
	Collection     string
	Registry       string
	TriggerEval    bool
	TrainID        string
	EvalFields     map[string]any
}

// Uploader uploads checkpoints for a single job run against a shared
// tracker instance.
type Uploader struct {
	tracker       tracker.Tracker
	httpClient    *http.Client
	evalServerURL string
	logger        *slog.Logger
}

// New constructs an Uploader. evalServerURL may be empty if evaluation
// triggers are never requested.
func New(trk tracker.Tracker, httpClient *http.Client, evalServerURL string, logger *slog.Logger) *Uploader {
	return &Uploader{tracker: trk, httpClient: httpClient, evalServerURL: evalServerURL, logger: logger}
}

// Upload prunes known-large transient files synchronously, computes the
// logical name, and returns it immediately. The register/upload, eval
// trigger, and completion metric all run on a detached goroutine; any
// failure there is logged and swallowed, never propagated to the caller,
// and never marks the job failed.
func (u *Uploader) Upload(ctx context.Context, req Request) string {
	name := filepath.Base(req.CheckpointPath)
	logicalName := "model/" + name
	log := u.logger.With("checkpoint", name)

	u.prune(req.CheckpointPath, log)

	go u.runDetached(req, logicalName, log)

	return logicalName
}

func (u *Uploader) prune(checkpointPath string, log *slog.Logger) {
	for _, f := range PruneFiles {
		path := filepath.Join(checkpointPath, f)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warn("uploader: prune failed, continuing with upload", "file", f, "error", err)
		}
	}
}

func (u *Uploader) runDetached(req Request, logicalName string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("uploader: panic in detached upload, swallowed", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := os.Stat(req.CheckpointPath); err != nil {
		log.Warn("uploader: checkpoint directory vanished before upload, skipping", "error", err)
		return
	}

	var modelRef string
	var err error
	if req.Register {
		modelRef, err = u.tracker.RegisterModel(ctx, req.CheckpointPath, logicalName, req.Collection, req.Registry)
	} else {
		modelRef, err = u.tracker.LogDirectory(ctx, req.CheckpointPath, logicalName, tracker.KindModel)
	}
	if err != nil {
		log.Error("uploader: upload failed", "error", err)
		return
	}

	if req.TriggerEval {
		go u.triggerEval(req, modelRef, log)
	}

	step := 0
	if err := u.tracker.LogMetric(ctx, "checkpoint_upload_complete", 1, &step); err != nil {
		log.Warn("uploader: failed to log checkpoint_upload_complete", "error", err)
	}
}

// evalRequest mirrors the evaluation-trigger POST body: the same fields as
// a job submission to the evaluation endpoint.
type evalRequest struct {
	BaseModelName  string `json:"base_model_name"`
	LoraModelName  string `json:"lora_model_name"`
	DataVersion    string `json:"data_version"`
	TrackingBackend string `json:"tracking_backend"`
	TrainID        string `json:"train_id"`
}

func (u *Uploader) triggerEval(req Request, modelRef string, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("uploader: panic triggering evaluation, swallowed", "panic", r)
		}
	}()

	if u.evalServerURL == "" {
		log.Warn("uploader: evaluation trigger requested but no eval_server_url configured")
		return
	}

	body := evalRequest{
		LoraModelName:   modelRef,
		DataVersion:     "latest",
		TrackingBackend: "mlflow",
		TrainID:         req.TrainID,
	}
	if v, ok := req.EvalFields["base_model_name"].(string); ok {
		body.BaseModelName = v
	}
	if v, ok := req.EvalFields["tracking_backend"].(string); ok {
		body.TrackingBackend = v
	}
	if v, ok := req.EvalFields["data_version"].(string); ok {
		body.DataVersion = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		log.Warn("uploader: failed to marshal evaluation request", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.evalServerURL, bytes.NewReader(data))
	if err != nil {
		log.Warn("uploader: failed to build evaluation request", "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		log.Warn("uploader: evaluation trigger POST failed, best-effort", "error", err)
		return
	}
	defer resp.Body.Close()

	log.Info("uploader: evaluation triggered", "status", resp.StatusCode)
}
