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

// Package webhook fires a best-effort, fire-and-forget notification POST
// when a job reaches a terminal state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Payload is the webhook POST body. OutputPath is populated on success,
// Error on failure; only one of the two is ever set.
type Payload struct {
	Timestamp   int64  `json:"timestamp"`
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	TrackingURL string `json:"tracking_url,omitempty"`
	OutputPath  string `json:"output_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Dispatcher fires webhook notifications. It never retries and never
// returns an error to the caller: failures are logged only.
type Dispatcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New constructs a Dispatcher using httpClient, which should already be
// configured with a short timeout (<=10s) and zero retries.
func New(httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{httpClient: httpClient, logger: logger}
}

// Dispatch POSTs payload to url on a detached goroutine and returns
// immediately. A missing url is a no-op.
func (d *Dispatcher) Dispatch(url string, payload Payload) {
	if url == "" {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("webhook: panic dispatching notification, swallowed", "panic", r, "job_id", payload.JobID)
			}
		}()

		data, err := json.Marshal(payload)
		if err != nil {
			d.logger.Warn("webhook: failed to marshal payload", "job_id", payload.JobID, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			d.logger.Warn("webhook: failed to build request", "job_id", payload.JobID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			d.logger.Warn("webhook: POST failed, best-effort", "job_id", payload.JobID, "url", url, "error", err)
			return
		}
		defer resp.Body.Close()

		d.logger.Info("webhook: dispatched", "job_id", payload.JobID, "status", payload.Status, "response_status", resp.StatusCode)
	}()
}
