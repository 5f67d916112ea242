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

// Package jobrunner is the Job Queue & Runner: single-tenant mutual
// exclusion over one running job at a time, a strict FIFO admission queue
// for the rest, and the job worker that drives a submission through
// tracker init, subprocess supervision, monitoring, and completion.
package jobrunner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nguyenthutra3004/job-orchestrator/internal/checkpoint"
	"github.com/nguyenthutra3004/job-orchestrator/internal/config"
	"github.com/nguyenthutra3004/job-orchestrator/internal/logtail"
	"github.com/nguyenthutra3004/job-orchestrator/internal/monitor"
	"github.com/nguyenthutra3004/job-orchestrator/internal/queue"
	"github.com/nguyenthutra3004/job-orchestrator/internal/supervisor"
	"github.com/nguyenthutra3004/job-orchestrator/internal/tracker"
	"github.com/nguyenthutra3004/job-orchestrator/internal/uploader"
	"github.com/nguyenthutra3004/job-orchestrator/internal/webhook"
	jerrors "github.com/nguyenthutra3004/job-orchestrator/pkg/errors"
)

// Metrics is the observability surface a Runner reports through. It
// mirrors the teacher daemon's MetricsCollector pattern: an interface so
// the runner never imports the metrics backend directly.
type Metrics interface {
	JobSubmitted()
	JobCompleted(duration time.Duration)
	JobFailed(duration time.Duration)
	JobCancelled()
	SetQueueDepth(n int)
	SetActiveRun(active bool)
	CheckpointUploaded()
}

// noopMetrics is used when no Metrics is supplied.
type noopMetrics struct{}

func (noopMetrics) JobSubmitted()             {}
func (noopMetrics) JobCompleted(time.Duration) {}
func (noopMetrics) JobFailed(time.Duration)    {}
func (noopMetrics) JobCancelled()              {}
func (noopMetrics) SetQueueDepth(int)          {}
func (noopMetrics) SetActiveRun(bool)          {}
func (noopMetrics) CheckpointUploaded()        {}

// Runner is the Job Queue & Runner (C7). At most one job runs at a time,
// enforced by a capacity-1 RunToken channel; submit() and job completion
// are the only operations that touch it.
type Runner struct {
	mu   sync.Mutex
	jobs map[string]*Job
	q    *queue.Queue

	runToken chan struct{}

	cfg        *config.Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Metrics
	tracer     trace.Tracer
	webhook    *webhook.Dispatcher

	draining atomic.Bool
}

// Option configures optional Runner dependencies.
type Option func(*Runner)

// WithMetrics supplies a Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer supplies an OpenTelemetry tracer for the job worker span.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// New constructs a Runner. The RunToken starts populated (free).
func New(cfg *config.Config, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		jobs:       make(map[string]*Job),
		q:          queue.New(),
		runToken:   make(chan struct{}, 1),
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		metrics:    noopMetrics{},
		tracer:     trace.NewNoopTracerProvider().Tracer("jobrunner"),
		webhook:    webhook.New(httpClient, logger),
	}
	r.runToken <- struct{}{}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) tryAcquireToken() bool {
	select {
	case <-r.runToken:
		return true
	default:
		return false
	}
}

func (r *Runner) releaseToken() {
	select {
	case r.runToken <- struct{}{}:
	default:
		// Should never happen: release is called at most once per
		// acquire, from a single place.
	}
}

// Admission is the result of Submit: which path the request took.
type Admission string

const (
	AdmissionStarted Admission = "started"
	AdmissionQueued  Admission = "queued"
)

// Submit admits req under strategy. If the RunToken is free, the job
// starts immediately. If held and strategy is reject, a ConflictError is
// returned. If strategy is queue, the job is appended to the FIFO queue.
func (r *Runner) Submit(ctx context.Context, req Request, strategy Strategy) (*Snapshot, Admission, error) {
	if req.ModelName == "" && req.Kind == KindTraining {
		return nil, "", &jerrors.BadRequestError{Field: "model_name", Message: "model_name is required"}
	}

	id := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:         id,
		Request:    req,
		EnqueuedAt: time.Now(),
		ctx:        jobCtx,
		cancel:     cancel,
	}

	r.metrics.JobSubmitted()

	if r.tryAcquireToken() {
		job.Status = StatusRunning
		job.StartedAt = time.Now()

		r.mu.Lock()
		r.jobs[id] = job
		r.mu.Unlock()

		r.metrics.SetActiveRun(true)
		go r.runJob(job)

		return snapshotOf(job), AdmissionStarted, nil
	}

	if strategy == StrategyReject {
		cancel()
		return nil, "", &jerrors.ConflictError{Message: "a job is already running"}
	}

	job.Status = StatusQueued

	r.mu.Lock()
	r.jobs[id] = job
	job.QueuePosition = r.q.Enqueue(id)
	depth := r.q.Len()
	r.mu.Unlock()

	r.metrics.SetQueueDepth(depth)

	return snapshotOf(job), AdmissionQueued, nil
}

// Get returns a snapshot of job id, or NotFoundError.
func (r *Runner) Get(id string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, &jerrors.NotFoundError{Resource: "job", ID: id}
	}
	return snapshotOf(job), nil
}

// List returns snapshots of every known job, unordered.
func (r *Runner) List() []*Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Snapshot, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, snapshotOf(job))
	}
	return out
}

// QueueState introspects the current admission queue.
func (r *Runner) QueueState() QueueState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return QueueState{
		Holding:     len(r.runToken) == 0,
		QueueLength: r.q.Len(),
		QueuedIDs:   r.q.IDs(),
	}
}

// Cancel cancels a queued job. Running jobs cannot be cancelled through
// this path: per the chosen product decision, that returns InvalidState
// with a fixed message rather than attempting to signal the child.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return &jerrors.NotFoundError{Resource: "job", ID: id}
	}

	switch job.Status {
	case StatusQueued:
		r.q.Remove(id)
		job.Status = StatusCancelled
		job.EndedAt = time.Now()
		job.cancel()
		r.recomputeQueuePositionsLocked()
		r.metrics.JobCancelled()
		r.metrics.SetQueueDepth(r.q.Len())
		return nil
	case StatusRunning:
		return &jerrors.InvalidStateError{
			JobID:        id,
			CurrentState: string(job.Status),
			Message:      "cancellation of a running job is not implemented",
		}
	default:
		return &jerrors.InvalidStateError{
			JobID:        id,
			CurrentState: string(job.Status),
			Message:      "job is not cancellable from a terminal state",
		}
	}
}

// recomputeQueuePositionsLocked must be called with r.mu held. It keeps
// each queued Job's stored QueuePosition consistent with its index.
func (r *Runner) recomputeQueuePositionsLocked() {
	for i, id := range r.q.IDs() {
		if job, ok := r.jobs[id]; ok {
			job.QueuePosition = i + 1
		}
	}
}

// runJob drives a single job through its full lifecycle under the
// RunToken. It always releases the token and admits the next queued job
// on exit, regardless of how this job ends.
func (r *Runner) runJob(job *Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("jobrunner: panic in job worker, job marked failed", "job_id", job.ID, "panic", rec)
			r.finishJob(job, StatusFailed, fmt.Sprintf("internal error: %v", rec), "")
		}
	}()

	ctx, span := r.tracer.Start(job.ctx, "job.worker", trace.WithAttributes(attribute.String("job_id", job.ID)))
	defer span.End()

	log := r.logger.With("job_id", job.ID)

	backend := job.Request.TrackingBackend
	if backend == "" {
		backend = r.cfg.TrackingBackend
	}

	trk, err := tracker.New(backend, r.cfg, r.httpClient, log)
	if err != nil {
		r.finishJob(job, StatusFailed, err.Error(), "")
		return
	}

	run, err := trk.InitRun(ctx, job.Request.effectiveProject(), string(job.Request.Kind), job.Request.ToConfig(), job.Request.effectiveRunName(job.ID), job.Request.TrainID)
	if err != nil {
		r.finishJob(job, StatusFailed, err.Error(), "")
		return
	}

	r.mu.Lock()
	job.TrackingURL = run.TrackingURL
	r.mu.Unlock()

	outputDir := filepath.Join(r.cfg.DataDir, job.ID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		r.finishJob(job, StatusFailed, (&jerrors.IOError{Path: outputDir, Op: "mkdir", Cause: err}).Error(), "")
		return
	}

	command := r.buildCommand(job.Request, outputDir)
	h, err := supervisor.Spawn(command, os.Environ(), outputDir, log)
	if err != nil {
		r.finishJob(job, StatusFailed, err.Error(), "")
		return
	}

	go func() {
		for line := range h.Lines() {
			log.Debug("child output", "stream", line.Stream, "line", line.Text)
		}
	}()

	logPath := filepath.Join(outputDir, "trainer_log.jsonl")
	tailer := logtail.New(logPath, 0, log)
	watcher := checkpoint.New(outputDir, log)
	defer watcher.Close()

	up := uploader.New(trk, r.httpClient, r.cfg.EvalServerURL, log)

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	loop := monitor.New(monitor.Config{
		Interval:      r.cfg.MonitorInterval,
		StallTimeout:  r.cfg.StallTimeout,
		UploadTimeout: r.cfg.UploadTimeout,
		Tailer:        tailer,
		Watcher:       watcher,
		Uploader:      up,
		Tracker:       trk,
		Register:      job.Request.Register,
		Collection:    job.Request.Collection,
		Registry:      job.Request.Registry,
		TriggerEval:   job.Request.TriggerEval,
		TrainID:       job.Request.TrainID,
		EvalFields:    job.Request.evalFields(),
		Logger:        log,
	})

	loopDone := make(chan struct{})
	go func() {
		loop.Run(monitorCtx)
		close(loopDone)
	}()

	h.Wait()
	loop.SignalTrainingCompleted()

	select {
	case <-loopDone:
	case <-time.After(r.cfg.MaxWait):
		log.Warn("jobrunner: monitor loop exceeded max_wait, forcing drain")
		monitorCancel()
		<-loopDone
	}
	monitorCancel()

	if err := trk.FinishRun(ctx); err != nil {
		log.Warn("jobrunner: finish_run failed", "error", err)
	}

	if code := h.ExitCode(); code != 0 {
		childErr := &jerrors.ChildFailedError{ExitCode: code}
		r.finishJob(job, StatusFailed, childErr.Error(), "")
		return
	}

	r.finishJob(job, StatusCompleted, "", outputDir)
}

func (r *Runner) buildCommand(req Request, outputDir string) []string {
	base := r.cfg.TrainCommand
	if req.Kind == KindEvaluation {
		base = r.cfg.EvalCommand
	}

	cmd := make([]string, len(base))
	copy(cmd, base)
	cmd = append(cmd, "--job-dir="+outputDir)
	return cmd
}

// finishJob mutates job to a terminal state, releases the RunToken,
// dispatches the webhook, and admits the next queued job.
func (r *Runner) finishJob(job *Job, status Status, errMsg, outputPath string) {
	r.mu.Lock()
	job.Status = status
	job.Error = errMsg
	job.OutputPath = outputPath
	job.EndedAt = time.Now()
	r.mu.Unlock()

	duration := job.EndedAt.Sub(job.StartedAt)
	if status == StatusCompleted {
		r.metrics.JobCompleted(duration)
	} else {
		r.metrics.JobFailed(duration)
	}
	r.metrics.SetActiveRun(false)

	r.releaseToken()

	if job.Request.WebhookURL != "" {
		payload := webhook.Payload{
			Timestamp:   job.EndedAt.Unix(),
			JobID:       job.ID,
			Status:      string(status),
			TrackingURL: job.TrackingURL,
			OutputPath:  outputPath,
			Error:       errMsg,
		}
		r.webhook.Dispatch(job.Request.WebhookURL, payload)
	}

	r.admitNext()
}

// admitNext dequeues the next job, if any, and starts it identically to
// the submit() admission path.
func (r *Runner) admitNext() {
	if !r.tryAcquireToken() {
		return
	}

	r.mu.Lock()
	id, ok := r.q.Dequeue()
	if !ok {
		r.mu.Unlock()
		r.releaseToken()
		return
	}
	job := r.jobs[id]
	job.Status = StatusRunning
	job.StartedAt = time.Now()
	job.QueuePosition = 0
	r.recomputeQueuePositionsLocked()
	depth := r.q.Len()
	r.mu.Unlock()

	r.metrics.SetQueueDepth(depth)
	r.metrics.SetActiveRun(true)

	go r.runJob(job)
}

// StartDraining stops new job admission from being accepted by the HTTP
// layer (the HTTP layer checks IsDraining before calling Submit).
func (r *Runner) StartDraining() {
	r.draining.Store(true)
}

// IsDraining reports whether the runner is in graceful-shutdown mode.
func (r *Runner) IsDraining() bool {
	return r.draining.Load()
}

// WaitForDrain blocks until no job is running, or until timeout elapses.
func (r *Runner) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.After(timeout)
	for {
		if len(r.runToken) == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("jobrunner: drain timeout with a job still running")
		case <-ticker.C:
		}
	}
}

func (req Request) effectiveProject() string {
	if req.SaveName != "" {
		return req.SaveName
	}
	return req.ModelName
}

func (req Request) effectiveRunName(jobID string) string {
	if req.SaveName != "" {
		return req.SaveName
	}
	return jobID
}

// evalFields builds the field map the evaluation-trigger POST reads its
// base_model_name/tracking_backend/data_version overrides from.
func (req Request) evalFields() map[string]any {
	fields := map[string]any{}
	if req.BaseModelName != "" {
		fields["base_model_name"] = req.BaseModelName
	}
	if req.TrackingBackend != "" {
		fields["tracking_backend"] = string(req.TrackingBackend)
	}
	if req.DataVersion != "" {
		fields["data_version"] = req.DataVersion
	}
	return fields
}
