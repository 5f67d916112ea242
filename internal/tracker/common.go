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
	"sync"
)

const reservedStepKey = "current_steps"

// metricKey identifies a single (key, step) pair for idempotency tracking.
type metricKey struct {
	key  string
	step int
}

// base holds the state shared by every backend implementation: the active
// run, its local config snapshot, per-(key,step) idempotency bookkeeping,
// and the last registered model ref used as lineage for the next
// RegisterModel call within the same run.
type base struct {
	mu            sync.Mutex
	logger        *slog.Logger
	backendName   string
	active        bool
	run           *RunHandle
	config        map[string]any
	loggedMetrics map[metricKey]struct{}
	lastModelRef  string
}

func newBase(backendName string, logger *slog.Logger) base {
	return base{
		logger:        logger,
		backendName:   backendName,
		loggedMetrics: make(map[metricKey]struct{}),
	}
}

// beginRun marks a run active and stores its handle and initial config. It
// returns ErrAlreadyActive if a run is already active.
func (b *base) beginRun(run *RunHandle, config map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active {
		return ErrAlreadyActive
	}

	b.active = true
	b.run = run
	b.config = make(map[string]any, len(config))
	for k, v := range config {
		b.config[k] = v
	}
	b.loggedMetrics = make(map[metricKey]struct{})
	b.lastModelRef = ""

	return nil
}

// requireActive returns the active run handle, or false if no run is
// active, logging a warning in that case. Callers use this to implement the
// "no-op with warning when inactive" contract.
func (b *base) requireActive(op string) (*RunHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		b.logger.Warn("tracker operation with no active run", "op", op, "backend", b.backendName)
		return nil, false
	}
	return b.run, true
}

// markMetricLogged reports whether (key, step) has not been logged before,
// and records it as logged if so. Used to make LogMetrics idempotent.
func (b *base) markMetricLogged(key string, step int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	mk := metricKey{key: key, step: step}
	if _, seen := b.loggedMetrics[mk]; seen {
		return false
	}
	b.loggedMetrics[mk] = struct{}{}
	return true
}

// updateConfig merges updates into the local config snapshot only. The
// backends never issue a network call for config updates.
func (b *base) updateConfig(updates map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		b.logger.Warn("update_config with no active run", "backend", b.backendName)
		return
	}
	for k, v := range updates {
		b.config[k] = v
	}
}

// endRun clears the active run. It is always safe to call, including when
// no run is active or FinishRun was already called.
func (b *base) endRun() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
}

func (b *base) setLastModelRef(ref string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastModelRef = ref
}

func (b *base) getLastModelRef() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastModelRef
}

// normalizeStep implements the uniform step semantics shared by every
// backend: the reserved "current_steps" key, if present and numeric,
// overrides the effective step and is stripped from the returned map before
// the remaining metrics are forwarded. step defaults to 0 when nil.
func normalizeStep(metrics map[string]float64, step *int) (map[string]float64, int) {
	effective := 0
	if step != nil {
		effective = *step
	}

	out := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		if k == reservedStepKey {
			effective = int(v)
			continue
		}
		out[k] = v
	}

	return out, effective
}

// doJSONRequest marshals body (if non-nil) as a JSON request to url via
// method, applies auth (if non-nil) to set request headers, and decodes the
// JSON response into out (if non-nil). Any HTTP status >= 400 is treated as
// an error.
func doJSONRequest(ctx context.Context, client *http.Client, method, url string, auth func(*http.Request), body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		auth(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, buf.String())
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}

	return nil
}

// ensureJSONSuffix coerces key to end with ".json".
func ensureJSONSuffix(key string) string {
	const suffix = ".json"
	if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
		return key
	}
	return key + suffix
}

// extractTrailingInt extracts the trailing run of digits from name, e.g.
// "checkpoint-4000" -> "4000". Returns "" if name has no trailing digits.
func extractTrailingInt(name string) string {
	end := len(name)
	start := end
	for start > 0 && name[start-1] >= '0' && name[start-1] <= '9' {
		start--
	}
	if start == end {
		return ""
	}
	return name[start:end]
}
