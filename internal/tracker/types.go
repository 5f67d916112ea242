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

// Package tracker is the uniform capability surface the rest of the job
// orchestration core depends on for experiment tracking: run lifecycle,
// metrics, tables, artifacts, and model registry operations, implemented
// once per supported backend (wandb-shaped and mlflow-shaped REST APIs).
// Swapping the backend never touches any other component.
package tracker

import (
	"context"
	"errors"
)

// ErrAlreadyActive is returned by InitRun when a run is already active on
// this tracker instance and FinishRun was not called in between.
var ErrAlreadyActive = errors.New("tracker: run already active")

// ArtifactKind classifies what an uploaded artifact represents.
type ArtifactKind string

const (
	KindFile      ArtifactKind = "file"
	KindDirectory ArtifactKind = "directory"
	KindModel     ArtifactKind = "model"
)

// TableRow is a single row logged via LogTable.
type TableRow map[string]any

// RunHandle is an opaque reference to an active tracker run.
type RunHandle struct {
	RunID       string
	TrackingURL string
	Backend     string
}

// Tracker is the capability surface described in the job orchestration
// core's tracker abstraction. Every operation is safe to call from multiple
// goroutines concurrently (the Monitor Loop and the detached uploader
// workers share one instance per job).
type Tracker interface {
	// InitRun starts a new run. Returns ErrAlreadyActive if a run is
	// already active. trainParentID, if non-empty, links the run to a
	// prior run for cross-run metric attachment; if the parent cannot be
	// resolved the implementation logs a warning and continues without
	// the link rather than failing InitRun.
	InitRun(ctx context.Context, project, jobType string, config map[string]any, name, trainParentID string) (*RunHandle, error)

	// LogMetric logs a single metric. step defaults to 0 when nil. No-op
	// with a warning if no run is active. Idempotent per (key, step).
	LogMetric(ctx context.Context, key string, value float64, step *int) error

	// LogMetrics logs several metrics at once. The reserved key
	// "current_steps", if present, overrides step and is never itself
	// forwarded as a metric.
	LogMetrics(ctx context.Context, metrics map[string]float64, step *int) error

	// LogTable logs a set of rows under key, which is coerced to end with
	// ".json".
	LogTable(ctx context.Context, key string, rows []TableRow) error

	// LogArtifact uploads a single file and returns its canonical
	// artifact reference string.
	LogArtifact(ctx context.Context, localPath, logicalName string, kind ArtifactKind) (string, error)

	// LogDirectory uploads an entire directory subtree and returns its
	// canonical artifact reference string.
	LogDirectory(ctx context.Context, localPath, logicalName string, kind ArtifactKind) (string, error)

	// RegisterModel uploads path under "model/<basename>", registers it
	// in the backend's model registry under collection, tags it with the
	// checkpoint number extracted from the basename (if any), the prior
	// registered model ref (if any), and evaluate=pending, and returns
	// "<registry>/<collection>/<version>".
	RegisterModel(ctx context.Context, path, modelName, collection, registry string) (string, error)

	// FinishRun ends the active run. Idempotent: calling it twice, or
	// with no active run, never raises.
	FinishRun(ctx context.Context) error

	// UpdateConfig merges updates into the run's config snapshot.
	// Warning, no error, if no run is active.
	UpdateConfig(ctx context.Context, updates map[string]any) error
}
