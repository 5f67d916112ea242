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
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nguyenthutra3004/job-orchestrator/internal/config"
)

// New constructs a Tracker for the given backend. Each job gets its own
// Tracker instance, so InitRun never observes a run already active on a
// freshly constructed tracker.
func New(backend config.TrackingBackend, cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (Tracker, error) {
	switch backend {
	case config.BackendWandb:
		return newWandbTracker(cfg, httpClient, logger)
	case config.BackendMLflow:
		return newMLflowTracker(cfg, httpClient, logger)
	default:
		return nil, fmt.Errorf("tracker: unsupported backend %q", backend)
	}
}
