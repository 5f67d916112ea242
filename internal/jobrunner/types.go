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

package jobrunner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nguyenthutra3004/job-orchestrator/internal/config"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Strategy selects admission behavior when a job is already running.
type Strategy string

const (
	StrategyReject Strategy = "reject"
	StrategyQueue  Strategy = "queue"
)

// Kind distinguishes a training submission from an evaluation submission;
// it determines how the Subprocess Supervisor's command line is built.
type Kind string

const (
	KindTraining   Kind = "training"
	KindEvaluation Kind = "evaluation"
)

// Request is a job submission body. Fields recognized per the external
// submission schema. Integer fields take plain numbers; learning_rate
// accepts either a number or a string-encoded number in scientific
// notation (e.g. "2e-4") and is kept in its textual form.
type Request struct {
	Kind Kind `json:"-" yaml:"-"`

	ModelName                 string      `json:"model_name" yaml:"model_name"`
	DatasetVersion            string      `json:"dataset_version" yaml:"dataset_version"`
	DataVersion               string      `json:"data_version" yaml:"data_version"`
	Template                  string      `json:"template" yaml:"template"`
	CutoffLen                 int         `json:"cutoff_len" yaml:"cutoff_len"`
	MaxSamples                int         `json:"max_samples" yaml:"max_samples"`
	BatchSize                 int         `json:"batch_size" yaml:"batch_size"`
	GradientAccumulationSteps int         `json:"gradient_accumulation_steps" yaml:"gradient_accumulation_steps"`
	SaveSteps                 int         `json:"save_steps" yaml:"save_steps"`
	NumEpochs                 int         `json:"num_epochs" yaml:"num_epochs"`
	LearningRate              json.Number `json:"learning_rate" yaml:"learning_rate"`

	LoraName    string `json:"lora_name" yaml:"lora_name"`
	LoraVersion string `json:"lora_version" yaml:"lora_version"`
	LoraHFRepo  string `json:"lora_hf_repo" yaml:"lora_hf_repo"`
	AdapterPath string `json:"adapter_path" yaml:"adapter_path"`

	TrackingBackend config.TrackingBackend `json:"tracking_backend" yaml:"tracking_backend"`
	SaveName        string                 `json:"save_name" yaml:"save_name"`
	TrainingType    string                 `json:"training_type" yaml:"training_type"`
	WebhookURL      string                 `json:"webhook_url" yaml:"webhook_url"`

	BaseModelName string `json:"base_model_name" yaml:"base_model_name"`
	LoraModelName string `json:"lora_model_name" yaml:"lora_model_name"`
	LLMBackend    string `json:"llm_backend" yaml:"llm_backend"`
	MultiThread   bool   `json:"multi_thread" yaml:"multi_thread"`
	MaxWorkers    int    `json:"max_workers" yaml:"max_workers"`
	Port          int    `json:"port" yaml:"port"`
	NumRounds     int    `json:"num_rounds" yaml:"num_rounds"`
	TrainID       string `json:"train_id" yaml:"train_id"`

	// Register, Collection, Registry, TriggerEval configure C4's behavior
	// for checkpoints produced by this job.
	Register    bool   `json:"register" yaml:"register"`
	Collection  string `json:"collection" yaml:"collection"`
	Registry    string `json:"registry" yaml:"registry"`
	TriggerEval bool   `json:"trigger_eval" yaml:"trigger_eval"`
}

// ToConfig returns the request as a generic map, suitable as the config
// snapshot passed to the tracker's init_run.
func (r Request) ToConfig() map[string]any {
	cfg := map[string]any{
		"model_name":    r.ModelName,
		"training_type": r.effectiveTrainingType(),
	}
	if r.DatasetVersion != "" {
		cfg["dataset_version"] = r.DatasetVersion
	}
	if r.DataVersion != "" {
		cfg["data_version"] = r.DataVersion
	}
	if r.Template != "" {
		cfg["template"] = r.Template
	}
	if r.CutoffLen != 0 {
		cfg["cutoff_len"] = r.CutoffLen
	}
	if r.MaxSamples != 0 {
		cfg["max_samples"] = r.MaxSamples
	}
	if r.BatchSize != 0 {
		cfg["batch_size"] = r.BatchSize
	}
	if r.GradientAccumulationSteps != 0 {
		cfg["gradient_accumulation_steps"] = r.GradientAccumulationSteps
	}
	if r.SaveSteps != 0 {
		cfg["save_steps"] = r.SaveSteps
	}
	if r.NumEpochs != 0 {
		cfg["num_epochs"] = r.NumEpochs
	}
	if r.LearningRate != "" {
		cfg["learning_rate"] = r.LearningRate.String()
	}
	if r.LoraName != "" {
		cfg["lora_name"] = r.LoraName
	}
	return cfg
}

func (r Request) effectiveTrainingType() string {
	if r.TrainingType == "" {
		return "sft"
	}
	return r.TrainingType
}

// Job is the runner's mutable internal representation of one submission.
// Access is always mediated by the Runner's mutex; external callers only
// ever see a Snapshot.
type Job struct {
	ID             string
	Request        Request
	Status         Status
	EnqueuedAt     time.Time
	StartedAt      time.Time
	EndedAt        time.Time
	TrackingURL    string
	Error          string
	OutputPath     string
	QueuePosition  int

	ctx    context.Context
	cancel context.CancelFunc
}

// Snapshot is an immutable, deep-copied view of a Job for external
// consumption (HTTP responses, CLI output). It shares no mutable state
// with the Job it was taken from.
type Snapshot struct {
	JobID         string         `json:"job_id"`
	Status        Status         `json:"status"`
	Config        map[string]any `json:"config"`
	StartTime     int64          `json:"start_time,omitempty"`
	EndTime       int64          `json:"end_time,omitempty"`
	TrackingURL   string         `json:"tracking_url,omitempty"`
	Error         string         `json:"error,omitempty"`
	OutputPath    string         `json:"output_path,omitempty"`
	QueuePosition int            `json:"queue_position,omitempty"`
}

func snapshotOf(j *Job) *Snapshot {
	s := &Snapshot{
		JobID:         j.ID,
		Status:        j.Status,
		Config:        j.Request.ToConfig(),
		TrackingURL:   j.TrackingURL,
		Error:         j.Error,
		OutputPath:    j.OutputPath,
		QueuePosition: j.QueuePosition,
	}
	if !j.StartedAt.IsZero() {
		s.StartTime = j.StartedAt.Unix()
	}
	if !j.EndedAt.IsZero() {
		s.EndTime = j.EndedAt.Unix()
	}
	return s
}

// QueueState is the result of introspecting the admission queue.
type QueueState struct {
	Holding     bool     `json:"is_training_running"`
	QueueLength int      `json:"queue_length"`
	QueuedIDs   []string `json:"queued_jobs"`
}
