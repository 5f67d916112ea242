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

// Package monitor drives the log tailer and checkpoint watcher at a fixed
// cadence, forwards activity to the tracker, and declares a stall once
// enough consecutive ticks pass without activity.
package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nguyenthutra3004/job-orchestrator/internal/checkpoint"
	"github.com/nguyenthutra3004/job-orchestrator/internal/logtail"
	"github.com/nguyenthutra3004/job-orchestrator/internal/tracker"
	"github.com/nguyenthutra3004/job-orchestrator/internal/uploader"
)

// stallMultiplier (K) widens the stall grace period until the first sign
// of activity, so a slow-starting child is never mistaken for a stall.
const stallMultiplier = 8

// Config configures one Monitor Loop instance, scoped to a single job.
type Config struct {
	Interval      time.Duration
	StallTimeout  time.Duration
	UploadTimeout time.Duration

	Tailer   *logtail.Tailer
	Watcher  *checkpoint.Watcher
	Uploader *uploader.Uploader
	Tracker  tracker.Tracker

	Register    bool
	Collection  string
	Registry    string
	TriggerEval bool
	TrainID     string
	EvalFields  map[string]any

	Logger *slog.Logger
}

// Loop is one Monitor Loop instance. SignalTrainingCompleted must be called
// exactly once, from the job worker, when the child process exits.
type Loop struct {
	cfg Config

	trainingCompleted atomic.Bool
	done              chan struct{}
}

// New constructs a Loop. Call Run to start it on a dedicated goroutine by
// the caller (the job worker owns the goroutine).
func New(cfg Config) *Loop {
	return &Loop{cfg: cfg, done: make(chan struct{})}
}

// SignalTrainingCompleted tells the loop the child process has exited. On
// the very next tick the effective stall threshold switches to
// UploadTimeout immediately, even if the loop was already sleeping when
// this was called.
func (l *Loop) SignalTrainingCompleted() {
	l.trainingCompleted.Store(true)
}

// Run drives C2/C3/C4 at cfg.Interval until a termination condition fires,
// then performs one final drain before returning. It is safe to call Run
// exactly once per Loop; callers bound how long they wait for it with
// their own timeout around this call (max_wait).
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	notUpdateCount := 0
	hadActivity := false

	var nudge <-chan struct{}
	if l.cfg.Watcher != nil {
		nudge = l.cfg.Watcher.Nudge()
	}

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case <-nudge:
			// Wake early; fall through to the same tick logic below by
			// continuing the loop body via a synthetic tick.
		case <-ticker.C:
		}

		activity := l.tick()
		if activity {
			notUpdateCount = 0
			hadActivity = true
		} else {
			notUpdateCount++
		}

		threshold := l.effectiveThreshold(hadActivity)
		elapsed := time.Duration(notUpdateCount) * l.cfg.Interval
		if elapsed >= threshold {
			l.drain()
			return
		}
	}
}

// effectiveThreshold implements the three-way stall/upload threshold
// selection: training_completed takes priority over had_activity, which in
// turn relaxes the pre-activity K-multiplied grace period.
func (l *Loop) effectiveThreshold(hadActivity bool) time.Duration {
	if l.trainingCompleted.Load() {
		return l.cfg.UploadTimeout
	}
	if hadActivity {
		return l.cfg.StallTimeout
	}
	return l.cfg.StallTimeout * stallMultiplier
}

// tick drains the log tailer and checkpoint watcher once and reports
// whether either produced activity.
func (l *Loop) tick() bool {
	activity := false

	if l.cfg.Tailer != nil {
		records, err := l.cfg.Tailer.Poll()
		if err != nil {
			l.cfg.Logger.Warn("monitor: log tailer poll failed, continuing", "error", err)
		}
		if len(records) > 0 {
			activity = true
			l.forwardMetrics(records)
		}
	}

	if l.cfg.Watcher != nil {
		checkpoints := l.cfg.Watcher.Poll()
		if len(checkpoints) > 0 {
			activity = true
			l.uploadCheckpoints(checkpoints)
		}
	}

	return activity
}

func (l *Loop) forwardMetrics(records []logtail.Record) {
	for _, r := range records {
		numeric := r.NumericFields()
		if len(numeric) == 0 {
			continue
		}
		if err := l.cfg.Tracker.LogMetrics(context.Background(), numeric, nil); err != nil {
			l.cfg.Logger.Warn("monitor: log_metrics failed", "error", err)
		}
	}
}

func (l *Loop) uploadCheckpoints(checkpoints []checkpoint.Checkpoint) {
	for _, c := range checkpoints {
		l.cfg.Uploader.Upload(context.Background(), uploader.Request{
			CheckpointPath: c.Path,
			Register:       l.cfg.Register,
			Collection:     l.cfg.Collection,
			Registry:       l.cfg.Registry,
			TriggerEval:    l.cfg.TriggerEval,
			TrainID:        l.cfg.TrainID,
			EvalFields:     l.cfg.EvalFields,
		})

		step := 0
		if err := l.cfg.Tracker.LogMetric(context.Background(), "new_checkpoint", 1, &step); err != nil {
			l.cfg.Logger.Warn("monitor: failed to log new_checkpoint", "error", err)
		}
	}
}

// drain runs one final poll of the tailer and watcher, so the last batch
// of records or checkpoints observed right before exit is never lost.
func (l *Loop) drain() {
	l.tick()
}

// Wait blocks until Run has returned.
func (l *Loop) Wait() {
	<-l.done
}
