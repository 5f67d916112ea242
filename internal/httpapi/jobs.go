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

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nguyenthutra3004/job-orchestrator/internal/jobrunner"
	jerrors "github.com/nguyenthutra3004/job-orchestrator/pkg/errors"
)

// JobsHandler implements §4.8's HTTP Surface over a jobrunner.Runner.
type JobsHandler struct {
	runner *jobrunner.Runner
}

// NewJobsHandler creates a new jobs handler over runner.
func NewJobsHandler(runner *jobrunner.Runner) *JobsHandler {
	return &JobsHandler{runner: runner}
}

// RegisterRoutes registers the jobs and queue API routes on mux.
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", h.handleCreate)
	mux.HandleFunc("GET /jobs", h.handleList)
	mux.HandleFunc("GET /jobs/{id}", h.handleGet)
	mux.HandleFunc("DELETE /jobs/{id}", h.handleCancel)
	mux.HandleFunc("GET /queue", h.handleQueue)
}

// handleCreate handles POST /jobs. The request body is decoded into
// jobrunner.Request as either JSON or YAML, sniffed from Content-Type; the
// strategy query param selects admission behavior and defaults to "queue"
// per §6.
func (h *JobsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJobRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Kind = requestKind(r)

	strategy := jobrunner.Strategy(r.URL.Query().Get("strategy"))
	switch strategy {
	case "":
		strategy = jobrunner.StrategyQueue
	case jobrunner.StrategyReject, jobrunner.StrategyQueue:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("strategy must be %q or %q, got %q", jobrunner.StrategyReject, jobrunner.StrategyQueue, strategy))
		return
	}

	if h.runner.IsDraining() {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, "orchestrator is shutting down gracefully")
		return
	}

	snap, admission, err := h.runner.Submit(r.Context(), *req, strategy)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	message := "job started"
	if admission == jobrunner.AdmissionQueued {
		message = fmt.Sprintf("job queued at position %d", snap.QueuePosition)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":  snap.JobID,
		"status":  admission,
		"message": message,
	})
}

// decodeJobRequest decodes a job request body as JSON or YAML, sniffed from
// the Content-Type header. An absent or application/json content type
// decodes as JSON; application/x-yaml or text/yaml decodes as YAML.
func decodeJobRequest(r *http.Request) (*jobrunner.Request, error) {
	contentType := r.Header.Get("Content-Type")
	req := &jobrunner.Request{}

	switch {
	case contentType == "", strings.HasPrefix(contentType, "application/json"):
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, fmt.Errorf("invalid JSON request body: %w", err)
		}
	case strings.HasPrefix(contentType, "application/x-yaml"), strings.HasPrefix(contentType, "text/yaml"):
		if err := yaml.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, fmt.Errorf("invalid YAML request body: %w", err)
		}
	default:
		return nil, fmt.Errorf("content-type must be application/json, application/x-yaml, or text/yaml")
	}

	return req, nil
}

// requestKind decides whether the submission is a training or evaluation
// job from the kind query parameter: "evaluation" selects an evaluation
// job, any other value (or none) a training job. The request body's fields
// play no part in the decision.
func requestKind(r *http.Request) jobrunner.Kind {
	if r.URL.Query().Get("kind") == "evaluation" {
		return jobrunner.KindEvaluation
	}
	return jobrunner.KindTraining
}

// handleList handles GET /jobs.
func (h *JobsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.List())
}

// handleGet handles GET /jobs/{id}.
func (h *JobsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.runner.Get(id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCancel handles DELETE /jobs/{id}.
func (h *JobsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.runner.Cancel(id); err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "cancelled",
		"message": "job cancelled",
	})
}

// handleQueue handles GET /queue.
func (h *JobsHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.QueueState())
}

// writeClassifiedError maps the seven pkg/errors kinds (§7) onto HTTP
// status codes. Errors that don't implement ErrorClassifier are treated
// as internal and return 500 without leaking their message.
func writeClassifiedError(w http.ResponseWriter, err error) {
	var classifier jerrors.ErrorClassifier
	if !jerrors.As(err, &classifier) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch classifier.ErrorType() {
	case "bad_request":
		status = http.StatusBadRequest
	case "conflict":
		status = http.StatusConflict
	case "not_found":
		status = http.StatusNotFound
	case "invalid_state":
		status = http.StatusBadRequest
	case "tracker_unavailable", "io_error", "child_failed":
		status = http.StatusInternalServerError
	}

	writeError(w, status, err.Error())
}
