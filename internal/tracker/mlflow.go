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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nguyenthutra3004/job-orchestrator/internal/config"
	jerrors "github.com/nguyenthutra3004/job-orchestrator/pkg/errors"
)

// mlflowTracker implements Tracker against the MLflow REST API
// (api/2.0/mlflow/...).
type mlflowTracker struct {
	base

	httpClient     *http.Client
	baseURL        string
	experimentName string
}

func newMLflowTracker(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*mlflowTracker, error) {
	if cfg.MLflowTrackingURI == "" {
		return nil, &jerrors.TrackerUnavailableError{
			Backend:   "mlflow",
			Operation: "init_run",
			Cause:     fmt.Errorf("mlflow_tracking_uri is not configured"),
		}
	}

	return &mlflowTracker{
		base:           newBase("mlflow", logger),
		httpClient:     httpClient,
		baseURL:        cfg.MLflowTrackingURI,
		experimentName: cfg.MLflowExperimentName,
	}, nil
}

func (t *mlflowTracker) resolveExperimentID(ctx context.Context, name string) (string, error) {
	var getResp struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	url := fmt.Sprintf("%s/api/2.0/mlflow/experiments/get-by-name?experiment_name=%s", t.baseURL, name)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodGet, url, nil, nil, &getResp); err == nil && getResp.Experiment.ExperimentID != "" {
		return getResp.Experiment.ExperimentID, nil
	}

	var createResp struct {
		ExperimentID string `json:"experiment_id"`
	}
	createReq := struct {
		Name string `json:"name"`
	}{Name: name}
	createURL := fmt.Sprintf("%s/api/2.0/mlflow/experiments/create", t.baseURL)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, createURL, nil, createReq, &createResp); err != nil {
		return "", err
	}
	return createResp.ExperimentID, nil
}

type mlflowTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowCreateRunRequest struct {
	ExperimentID string      `json:"experiment_id"`
	RunName      string      `json:"run_name,omitempty"`
	Tags         []mlflowTag `json:"tags,omitempty"`
}

type mlflowRunInfo struct {
	RunID string `json:"run_id"`
}

type mlflowCreateRunResponse struct {
	Run struct {
		Info mlflowRunInfo `json:"info"`
	} `json:"run"`
}

func (t *mlflowTracker) InitRun(ctx context.Context, project, jobType string, cfg map[string]any, name, trainParentID string) (*RunHandle, error) {
	expName := t.experimentName
	if expName == "" {
		expName = project
	}

	expID, err := t.resolveExperimentID(ctx, expName)
	if err != nil {
		return nil, &jerrors.TrackerUnavailableError{Backend: "mlflow", Operation: "init_run", Cause: err}
	}

	tags := []mlflowTag{{Key: "job_type", Value: jobType}}
	if name != "" {
		tags = append(tags, mlflowTag{Key: "mlflow.runName", Value: name})
	}

	if trainParentID != "" {
		if _, err := t.fetchRun(ctx, trainParentID); err != nil {
			t.logger.Warn("mlflow parent run could not be resolved, continuing without link",
				"train_parent_id", trainParentID, "error", err)
		} else {
			tags = append(tags, mlflowTag{Key: "mlflow.parentRunId", Value: trainParentID})
		}
	}

	reqBody := mlflowCreateRunRequest{ExperimentID: expID, RunName: name, Tags: tags}
	var resp mlflowCreateRunResponse
	url := fmt.Sprintf("%s/api/2.0/mlflow/runs/create", t.baseURL)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, nil, reqBody, &resp); err != nil {
		return nil, &jerrors.TrackerUnavailableError{Backend: "mlflow", Operation: "init_run", Cause: err}
	}

	run := &RunHandle{
		RunID:       resp.Run.Info.RunID,
		TrackingURL: fmt.Sprintf("%s/#/experiments/%s/runs/%s", t.baseURL, expID, resp.Run.Info.RunID),
		Backend:     "mlflow",
	}
	if err := t.beginRun(run, cfg); err != nil {
		return nil, err
	}
	return run, nil
}

// fetchRun resolves a run by ID, used only to validate a train_parent_id
// reference before attaching it as a tag.
func (t *mlflowTracker) fetchRun(ctx context.Context, runID string) (*mlflowRunInfo, error) {
	var resp struct {
		Run struct {
			Info mlflowRunInfo `json:"info"`
		} `json:"run"`
	}
	url := fmt.Sprintf("%s/api/2.0/mlflow/runs/get?run_id=%s", t.baseURL, runID)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodGet, url, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Run.Info, nil
}

func (t *mlflowTracker) LogMetric(ctx context.Context, key string, value float64, step *int) error {
	return t.LogMetrics(ctx, map[string]float64{key: value}, step)
}

type mlflowMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int     `json:"step"`
}

type mlflowLogBatchRequest struct {
	RunID   string         `json:"run_id"`
	Metrics []mlflowMetric `json:"metrics"`
}

func (t *mlflowTracker) LogMetrics(ctx context.Context, metrics map[string]float64, step *int) error {
	run, ok := t.requireActive("log_metrics")
	if !ok {
		return nil
	}

	normalized, effectiveStep := normalizeStep(metrics, step)

	var batch []mlflowMetric
	for k, v := range normalized {
		if !t.markMetricLogged(k, effectiveStep) {
			continue
		}
		batch = append(batch, mlflowMetric{Key: k, Value: v, Step: effectiveStep})
	}
	if len(batch) == 0 {
		return nil
	}

	reqBody := mlflowLogBatchRequest{RunID: run.RunID, Metrics: batch}
	url := fmt.Sprintf("%s/api/2.0/mlflow/runs/log-batch", t.baseURL)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, nil, reqBody, nil); err != nil {
		return &jerrors.TrackerUnavailableError{Backend: "mlflow", Operation: "log_metrics", Cause: err}
	}
	return nil
}

// LogTable serializes rows to a temp JSON file and uploads it as a regular
// file artifact, matching MLflow's own table-logging behavior.
func (t *mlflowTracker) LogTable(ctx context.Context, key string, rows []TableRow) error {
	if _, ok := t.requireActive("log_table"); !ok {
		return nil
	}

	f, err := os.CreateTemp("", "mlflow-table-*.json")
	if err != nil {
		return &jerrors.IOError{Path: "mlflow-table-*.json", Op: "create", Cause: err}
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rows); err != nil {
		return fmt.Errorf("encode table rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return &jerrors.IOError{Path: f.Name(), Op: "close", Cause: err}
	}

	_, err = t.LogArtifact(ctx, f.Name(), ensureJSONSuffix(key), KindFile)
	return err
}

func (t *mlflowTracker) artifactUploadURL(runID, logicalName string) string {
	return fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s/%s", t.baseURL, runID, logicalName)
}

func (t *mlflowTracker) uploadFile(ctx context.Context, run *RunHandle, localPath, logicalName string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &jerrors.IOError{Path: localPath, Op: "read", Cause: err}
	}

	url := t.artifactUploadURL(run.RunID, logicalName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build artifact upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("artifact upload http %d", resp.StatusCode)
	}
	return nil
}

func (t *mlflowTracker) LogArtifact(ctx context.Context, localPath, logicalName string, kind ArtifactKind) (string, error) {
	run, ok := t.requireActive("log_artifact")
	if !ok {
		return "", nil
	}

	if err := t.uploadFile(ctx, run, localPath, logicalName); err != nil {
		return "", &jerrors.TrackerUnavailableError{Backend: "mlflow", Operation: "log_artifact", Cause: err}
	}
	return fmt.Sprintf("runs:/%s/%s", run.RunID, logicalName), nil
}

func (t *mlflowTracker) LogDirectory(ctx context.Context, localPath, logicalName string, kind ArtifactKind) (string, error) {
	run, ok := t.requireActive("log_directory")
	if !ok {
		return "", nil
	}

	err := filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		return t.uploadFile(ctx, run, path, filepath.Join(logicalName, rel))
	})
	if err != nil {
		return "", &jerrors.TrackerUnavailableError{Backend: "mlflow", Operation: "log_directory", Cause: err}
	}
	return fmt.Sprintf("runs:/%s/%s", run.RunID, logicalName), nil
}

type mlflowCreateModelVersionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	RunID  string `json:"run_id"`
}

type mlflowCreateModelVersionResponse struct {
	ModelVersion struct {
		Version string `json:"version"`
	} `json:"model_version"`
}

type mlflowSetTagRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

func (t *mlflowTracker) RegisterModel(ctx context.Context, path, modelName, collection, registry string) (string, error) {
	run, ok := t.requireActive("register_model")
	if !ok {
		return "", nil
	}

	logicalName := "model/" + filepath.Base(path)
	artifactURI, err := t.LogDirectory(ctx, path, logicalName, KindModel)
	if err != nil {
		return "", err
	}

	reqBody := mlflowCreateModelVersionRequest{Name: collection, Source: artifactURI, RunID: run.RunID}
	var resp mlflowCreateModelVersionResponse
	url := fmt.Sprintf("%s/api/2.0/mlflow/model-versions/create", t.baseURL)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, nil, reqBody, &resp); err != nil {
		return "", &jerrors.TrackerUnavailableError{Backend: "mlflow", Operation: "register_model", Cause: err}
	}

	tags := map[string]string{"evaluate": "pending"}
	if checkpoint := extractTrailingInt(filepath.Base(path)); checkpoint != "" {
		tags["checkpoint"] = checkpoint
	}
	if prior := t.getLastModelRef(); prior != "" {
		tags["original"] = prior
	}

	tagURL := fmt.Sprintf("%s/api/2.0/mlflow/model-versions/set-tag", t.baseURL)
	for k, v := range tags {
		tagReq := mlflowSetTagRequest{Name: collection, Version: resp.ModelVersion.Version, Key: k, Value: v}
		if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, tagURL, nil, tagReq, nil); err != nil {
			t.logger.Warn("mlflow set-tag failed", "key", k, "error", err)
		}
	}

	ref := fmt.Sprintf("%s/%s/%s", registry, collection, resp.ModelVersion.Version)
	t.setLastModelRef(ref)
	return ref, nil
}

type mlflowUpdateRunRequest struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (t *mlflowTracker) FinishRun(ctx context.Context) error {
	run, ok := t.requireActive("finish_run")
	if !ok {
		return nil
	}

	reqBody := mlflowUpdateRunRequest{RunID: run.RunID, Status: "FINISHED"}
	url := fmt.Sprintf("%s/api/2.0/mlflow/runs/update", t.baseURL)
	if err := doJSONRequest(ctx, t.httpClient, http.MethodPost, url, nil, reqBody, nil); err != nil {
		t.logger.Warn("mlflow finish_run best-effort call failed", "run_id", run.RunID, "error", err)
	}

	t.endRun()
	return nil
}

func (t *mlflowTracker) UpdateConfig(ctx context.Context, updates map[string]any) error {
	t.updateConfig(updates)
	return nil
}
