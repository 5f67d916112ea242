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

// Package config loads the job orchestration core's runtime configuration
// through a layered pipeline: compiled-in defaults, an optional YAML file,
// then environment variable overrides. CLI flag overrides are applied by
// the caller (cmd/orchestratord) after Load returns.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	jerrors "github.com/nguyenthutra3004/job-orchestrator/pkg/errors"
)

// TrackingBackend identifies a supported experiment tracker backend.
type TrackingBackend string

const (
	// BackendWandb selects the Weights & Biases tracker.
	BackendWandb TrackingBackend = "wandb"
	// BackendMLflow selects the MLflow tracker.
	BackendMLflow TrackingBackend = "mlflow"
)

// Config holds the job orchestration core's full runtime configuration.
type Config struct {
	// TrackingBackend selects which experiment tracker backend to use.
	TrackingBackend TrackingBackend `yaml:"tracking_backend"`

	// EvalServerURL is the evaluation-trigger endpoint C4 POSTs to.
	EvalServerURL string `yaml:"eval_server_url"`

	// WandbAPIKey, WandbProject, WandbEntity configure the wandb backend.
	WandbAPIKey  string `yaml:"wandb_api_key"`
	WandbProject string `yaml:"wandb_project"`
	WandbEntity  string `yaml:"wandb_entity"`

	// WandbBaseURL overrides the wandb API base URL, for self-hosted
	// wandb deployments. Empty selects the public SaaS API.
	WandbBaseURL string `yaml:"wandb_base_url"`

	// MLflowTrackingURI, MLflowExperimentName configure the mlflow backend.
	MLflowTrackingURI    string `yaml:"mlflow_tracking_uri"`
	MLflowExperimentName string `yaml:"mlflow_experiment_name"`

	// ListenAddr is the HTTP listen address for C8.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir is the root directory under which job output directories,
	// checkpoints, and structured log files live.
	DataDir string `yaml:"data_dir"`

	// StallTimeout is how long the Monitor Loop (C6) waits without
	// observing activity before declaring a stall.
	StallTimeout time.Duration `yaml:"stall_timeout"`

	// UploadTimeout bounds the post-completion drain window once
	// training_completed fires.
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	// MonitorInterval is the poll period of the Monitor Loop.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	// MaxWait bounds how long WaitForDrain blocks during graceful shutdown.
	MaxWait time.Duration `yaml:"max_wait"`

	// TrainCommand and EvalCommand are the argv templates used to spawn
	// the training/evaluation subprocess. The job worker appends
	// --job-dir=<output_dir> to whichever is selected for a submission.
	TrainCommand []string `yaml:"train_command"`
	EvalCommand  []string `yaml:"eval_command"`
}

// Default returns a Config populated with the package's compiled-in
// defaults. It deliberately leaves credential fields empty; those must
// come from a file, the environment, or CLI flags.
func Default() *Config {
	return &Config{
		TrackingBackend: BackendWandb,
		ListenAddr:      ":8080",
		DataDir:         "./data",
		StallTimeout:    10 * time.Minute,
		UploadTimeout:   20 * time.Minute,
		MonitorInterval: 5 * time.Second,
		MaxWait:         30 * time.Second,
		TrainCommand:    []string{"python", "-m", "training_cluster.cli.train"},
		EvalCommand:     []string{"python", "-m", "training_cluster.cli.evaluate"},
	}
}

// Load runs the full layered pipeline: defaults, then an optional YAML
// file at path (skipped if path is empty or the file does not exist), then
// environment variable overrides. It does not apply CLI flag overrides or
// call Validate; callers are expected to do both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	loadFromEnv(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &jerrors.IOError{Path: path, Op: "read", Cause: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &jerrors.IOError{Path: path, Op: "parse", Cause: err}
	}

	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("TRACKING_BACKEND"); v != "" {
		cfg.TrackingBackend = TrackingBackend(v)
	}
	if v := os.Getenv("EVAL_SERVER_URL"); v != "" {
		cfg.EvalServerURL = v
	}
	if v := os.Getenv("WANDB_API_KEY"); v != "" {
		cfg.WandbAPIKey = v
	}
	if v := os.Getenv("WANDB_PROJECT"); v != "" {
		cfg.WandbProject = v
	}
	if v := os.Getenv("WANDB_ENTITY"); v != "" {
		cfg.WandbEntity = v
	}
	if v := os.Getenv("WANDB_BASE_URL"); v != "" {
		cfg.WandbBaseURL = v
	}
	if v := os.Getenv("MLFLOW_TRACKING_URI"); v != "" {
		cfg.MLflowTrackingURI = v
	}
	if v := os.Getenv("MLFLOW_EXPERIMENT_NAME"); v != "" {
		cfg.MLflowExperimentName = v
	}
	if v := os.Getenv("CONDUCTOR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CONDUCTOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CONDUCTOR_STALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StallTimeout = d
		}
	}
	if v := os.Getenv("CONDUCTOR_UPLOAD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UploadTimeout = d
		}
	}
	if v := os.Getenv("CONDUCTOR_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MonitorInterval = d
		}
	}
	if v := os.Getenv("CONDUCTOR_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxWait = d
		}
	}
}

// Validate rejects configuration that is statically known to be wrong:
// an unsupported tracking backend, a non-positive timeout/interval, or a
// missing credential for the selected backend. Credentials that can only
// be confirmed against the live backend still fail at init_run.
func (c *Config) Validate() error {
	switch c.TrackingBackend {
	case BackendWandb, BackendMLflow:
	default:
		return &jerrors.BadRequestError{
			Field:   "tracking_backend",
			Message: fmt.Sprintf("unsupported tracking backend %q", c.TrackingBackend),
		}
	}

	for name, d := range map[string]time.Duration{
		"stall_timeout":    c.StallTimeout,
		"upload_timeout":   c.UploadTimeout,
		"monitor_interval": c.MonitorInterval,
		"max_wait":         c.MaxWait,
	} {
		if d <= 0 {
			return &jerrors.BadRequestError{
				Field:   name,
				Message: fmt.Sprintf("must be positive, got %s", d),
			}
		}
	}

	switch c.TrackingBackend {
	case BackendWandb:
		if c.WandbAPIKey == "" {
			return &jerrors.BadRequestError{
				Field:   "wandb_api_key",
				Message: "required when tracking_backend=wandb",
			}
		}
	case BackendMLflow:
		if c.MLflowTrackingURI == "" {
			return &jerrors.BadRequestError{
				Field:   "mlflow_tracking_uri",
				Message: "required when tracking_backend=mlflow",
			}
		}
	}

	return nil
}
