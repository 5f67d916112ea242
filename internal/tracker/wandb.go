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

package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/nguyenthutra3004/job-orchestrator/internal/config"
	jerrors "github.com/nguyenthutra3004/job-orchestrator/pkg/errors"
)

const wandbDefaultBaseURL = "https://api.wandb.ai"

// wandbTracker implements Tracker against the Weights & Biases REST API.
type wandbTracker struct {
	base

	httpClient *http.Client
	baseURL    string
	apiKey     string
	project    string
	entity     string
}

func newWandbTracker(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*wandbTracker, error) {
	if cfg.WandbAPIKey == "" {
		return nil, &jerrors.TrackerUnavailableError{
			Backend:   "wandb",
			Operation: "init_run",
			Cause:     fmt.Errorf("wandb_api_key is not configured"),
		}
	}

	baseURL := cfg.WandbBaseURL
	if baseURL == "" {
		baseURL = wandbDefaultBaseURL
	}

	return &wandbTracker{
		base:       newBase("wandb", logger),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     cfg.WandbAPIKey,
		project:    cfg.WandbProject,
		entity:     cfg.WandbEntity,
	}, nil
}

func (t *wandbTracker) authHeader(req *http.Request) {
	req.SetBasicAuth("api", t.apiKey)
}

type wandbInitRunRequest struct {
	Project  string         `json:"project"`
	Entity   string         `json:"entity,omitempty"`
	JobType  string         `json:"job_type,omitempty"`
	Name     string         `json:"name,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	ParentID string         `json:"parent_run_id,omitempty"`
}

type wandbInitRunResponse struct {
	RunID string `json:"run_id"`
	URL   string `json:"url"`
}

func (t *wandbTracker) InitRun(ctx context.Context, project, jobType string, cfg map[string]any, name, trainParentID string) (*RunHandle, error) {
	parentID := ""
	if trainParentID != "" {
		resolved, err := t.resolveParentRun(ctx, trainParentID)
		if err != nil {
			t.logger.Warn("wandb parent run could not be resolved, continuing without link",
				"train_parent_id", trainParentID, "error", err)
		} else {
			parentID = resolved
		}
	}

	reqBody := wandbInitRunRequest{
		Project:  project,
		Entity:   t.entity,
		JobType:  jobType,
		Name:     name,
		Config:   cfg,
		ParentID: parentID,
	}

	var resp wandbInitRunResponse
	url := fmt.Sprintf("%s/api/v1/runs", t.baseURL)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, t.authHeader, reqBody, &resp); err != nil {
		return nil, &jerrors.TrackerUnavailableError{Backend: "wandb", Operation: "init_run", Cause: err}
	}

	run := &RunHandle{RunID: resp.RunID, TrackingURL: resp.URL, Backend: "wandb"}
	if err := t.beginRun(run, cfg); err != nil {
		return nil, err
	}
	return run, nil
}

// resolveParentRun looks up a prior run by ID so InitRun can attach the new
// run as its child. A lookup failure is never fatal to InitRun.
func (t *wandbTracker) resolveParentRun(ctx context.Context, parentID string) (string, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	url := fmt.Sprintf("%s/api/v1/runs/%s", t.baseURL, parentID)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodGet, url, t.authHeader, nil, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

func (t *wandbTracker) LogMetric(ctx context.Context, key string, value float64, step *int) error {
	return t.LogMetrics(ctx, map[string]float64{key: value}, step)
}

type wandbHistoryRequest struct {
	Step    int                `json:"step"`
	History map[string]float64 `json:"history"`
}

func (t *wandbTracker) LogMetrics(ctx context.Context, metrics map[string]float64, step *int) error {
	run, ok := t.requireActive("log_metrics")
	if !ok {
		return nil
	}

	normalized, effectiveStep := normalizeStep(metrics, step)

	toSend := make(map[string]float64, len(normalized))
	for k, v := range normalized {
		if t.markMetricLogged(k, effectiveStep) {
			toSend[k] = v
		}
	}
	if len(toSend) == 0 {
		return nil
	}

	reqBody := wandbHistoryRequest{Step: effectiveStep, History: toSend}
	url := fmt.Sprintf("%s/api/v1/runs/%s/history", t.baseURL, run.RunID)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, t.authHeader, reqBody, nil); err != nil {
		return &jerrors.TrackerUnavailableError{Backend: "wandb", Operation: "log_metrics", Cause: err}
	}
	return nil
}

type wandbTableRequest struct {
	Key  string     `json:"key"`
	Rows []TableRow `json:"rows"`
}

func (t *wandbTracker) LogTable(ctx context.Context, key string, rows []TableRow) error {
	run, ok := t.requireActive("log_table")
	if !ok {
		return nil
	}

	reqBody := wandbTableRequest{Key: ensureJSONSuffix(key), Rows: rows}
	url := fmt.Sprintf("%s/api/v1/runs/%s/tables", t.baseURL, run.RunID)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, t.authHeader, reqBody, nil); err != nil {
		return &jerrors.TrackerUnavailableError{Backend: "wandb", Operation: "log_table", Cause: err}
	}
	return nil
}

type wandbArtifactRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	LocalPath string `json:"local_path"`
	Recursive bool   `json:"recursive"`
}

type wandbArtifactResponse struct {
	Ref string `json:"ref"`
}

func (t *wandbTracker) uploadArtifact(ctx context.Context, localPath, logicalName string, kind ArtifactKind, recursive bool) (string, error) {
	run, ok := t.requireActive(string(kind) + "_upload")
	if !ok {
		return "", nil
	}

	reqBody := wandbArtifactRequest{
		Name:      logicalName,
		Type:      string(kind),
		LocalPath: localPath,
		Recursive: recursive,
	}

	var resp wandbArtifactResponse
	url := fmt.Sprintf("%s/api/v1/runs/%s/artifacts", t.baseURL, run.RunID)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, t.authHeader, reqBody, &resp); err != nil {
		return "", &jerrors.TrackerUnavailableError{Backend: "wandb", Operation: "upload_artifact", Cause: err}
	}

	if resp.Ref != "" {
		return resp.Ref, nil
	}
	return fmt.Sprintf("%s/%s/%s", t.entity, t.project, logicalName), nil
}

func (t *wandbTracker) LogArtifact(ctx context.Context, localPath, logicalName string, kind ArtifactKind) (string, error) {
	return t.uploadArtifact(ctx, localPath, logicalName, kind, false)
}

func (t *wandbTracker) LogDirectory(ctx context.Context, localPath, logicalName string, kind ArtifactKind) (string, error) {
	return t.uploadArtifact(ctx, localPath, logicalName, kind, true)
}

type wandbRegisterModelRequest struct {
	LocalPath string            `json:"local_path"`
	Name      string            `json:"name"`
	Tags      map[string]string `json:"tags"`
}

type wandbRegisterModelResponse struct {
	Version string `json:"version"`
}

func (t *wandbTracker) RegisterModel(ctx context.Context, path, modelName, collection, registry string) (string, error) {
	run, ok := t.requireActive("register_model")
	if !ok {
		return "", nil
	}

	logicalName := "model/" + filepath.Base(path)

	tags := map[string]string{"evaluate": "pending"}
	if checkpoint := extractTrailingInt(filepath.Base(path)); checkpoint != "" {
		tags["checkpoint"] = checkpoint
	}
	if prior := t.getLastModelRef(); prior != "" {
		tags["original"] = prior
	}

	reqBody := wandbRegisterModelRequest{LocalPath: path, Name: logicalName, Tags: tags}
	var resp wandbRegisterModelResponse
	url := fmt.Sprintf("%s/api/v1/registry/%s/%s/versions", t.baseURL, registry, collection)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, t.authHeader, reqBody, &resp); err != nil {
		return "", &jerrors.TrackerUnavailableError{Backend: "wandb", Operation: "register_model", Cause: err}
	}

	_ = run
	ref := fmt.Sprintf("%s/%s/%s", registry, collection, resp.Version)
	t.setLastModelRef(ref)
	return ref, nil
}

func (t *wandbTracker) FinishRun(ctx context.Context) error {
	run, ok := t.requireActive("finish_run")
	if !ok {
		return nil
	}

	url := fmt.Sprintf("%s/api/v1/runs/%s/finish", t.baseURL, run.RunID)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, t.authHeader, nil, nil); err != nil {
		t.logger.Warn("wandb finish_run best-effort call failed", "run_id", run.RunID, "error", err)
	}

	t.endRun()
	return nil
}

func (t *wandbTracker) UpdateConfig(ctx context.Context, updates map[string]any) error {
	t.updateConfig(updates)
	return nil
}
