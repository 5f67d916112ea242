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

package errors

import (
	"fmt"
)

// BadRequestError represents a malformed job submission.
// Use this for invalid or missing required request fields.
type BadRequestError struct {
	// Field identifies which input field failed validation, if known.
	Field string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *BadRequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("bad request on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("bad request: %s", e.Message)
}

// IsUserVisible implements UserVisibleError.
func (e *BadRequestError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *BadRequestError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *BadRequestError) Suggestion() string {
	if e.Field != "" {
		return fmt.Sprintf("check the value supplied for %s", e.Field)
	}
	return "check the job request body against the API schema"
}

// ErrorType implements ErrorClassifier.
func (e *BadRequestError) ErrorType() string { return "bad_request" }

// IsRetryable implements ErrorClassifier.
func (e *BadRequestError) IsRetryable() bool { return false }

// ConflictError represents a reject-strategy submission while a job is running.
type ConflictError struct {
	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Message)
}

// IsUserVisible implements UserVisibleError.
func (e *ConflictError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ConflictError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *ConflictError) Suggestion() string {
	return "resubmit with strategy=queue, or wait for the running job to finish"
}

// ErrorType implements ErrorClassifier.
func (e *ConflictError) ErrorType() string { return "conflict" }

// IsRetryable implements ErrorClassifier.
func (e *ConflictError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested job does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "job").
	Resource string

	// ID is the identifier that was not found.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsUserVisible implements UserVisibleError.
func (e *NotFoundError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *NotFoundError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *NotFoundError) Suggestion() string {
	return fmt.Sprintf("confirm the %s id is correct", e.Resource)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// InvalidStateError represents an operation refused because of the current
// job lifecycle state (e.g. cancelling a job that is not queued).
type InvalidStateError struct {
	// JobID is the affected job.
	JobID string

	// CurrentState is the job's state at the time of the refused operation.
	CurrentState string

	// Message explains why the operation was refused.
	Message string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for job %s (state=%s): %s", e.JobID, e.CurrentState, e.Message)
}

// IsUserVisible implements UserVisibleError.
func (e *InvalidStateError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *InvalidStateError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *InvalidStateError) Suggestion() string {
	return "re-check the job status before retrying the operation"
}

// ErrorType implements ErrorClassifier.
func (e *InvalidStateError) ErrorType() string { return "invalid_state" }

// IsRetryable implements ErrorClassifier.
func (e *InvalidStateError) IsRetryable() bool { return false }

// ChildFailedError represents a non-zero exit from the supervised
// training/evaluation child process.
type ChildFailedError struct {
	// ExitCode is the child's exit status.
	ExitCode int

	// Message provides additional context (e.g. last stderr lines).
	Message string
}

// Error implements the error interface.
func (e *ChildFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("child process failed with exit code %d: %s", e.ExitCode, e.Message)
	}
	return fmt.Sprintf("child process failed with exit code %d", e.ExitCode)
}

// IsUserVisible implements UserVisibleError.
func (e *ChildFailedError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ChildFailedError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *ChildFailedError) Suggestion() string {
	return "inspect the job's tailed log for the failure cause"
}

// ErrorType implements ErrorClassifier.
func (e *ChildFailedError) ErrorType() string { return "child_failed" }

// IsRetryable implements ErrorClassifier.
func (e *ChildFailedError) IsRetryable() bool { return false }

// TrackerUnavailableError represents a failed call against the configured
// experiment tracker backend (init_run, metric, table, artifact, or model
// registration calls). A failed finish_run call is logged instead.
type TrackerUnavailableError struct {
	// Backend is the tracker backend tag (e.g. "wandb", "mlflow").
	Backend string

	// Operation is the tracker operation that failed (e.g. "init_run").
	Operation string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TrackerUnavailableError) Error() string {
	return fmt.Sprintf("tracker %s unavailable during %s: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TrackerUnavailableError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError.
func (e *TrackerUnavailableError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *TrackerUnavailableError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *TrackerUnavailableError) Suggestion() string {
	return fmt.Sprintf("verify credentials and connectivity for the %s tracker backend", e.Backend)
}

// ErrorType implements ErrorClassifier.
func (e *TrackerUnavailableError) ErrorType() string { return "tracker_unavailable" }

// IsRetryable reports true for every operation except init_run, where
// authentication failure is treated as fatal for the job.
func (e *TrackerUnavailableError) IsRetryable() bool { return e.Operation != "init_run" }

// IOError represents a failure to access the structured log file or the
// checkpoint output directory.
type IOError struct {
	// Path is the filesystem path involved.
	Path string

	// Op names the operation that failed (e.g. "read", "stat", "readdir").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("io error during %s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *IOError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError.
func (e *IOError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *IOError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *IOError) Suggestion() string {
	return fmt.Sprintf("check permissions and available space at %s", e.Path)
}

// ErrorType implements ErrorClassifier.
func (e *IOError) ErrorType() string { return "io_error" }

// IsRetryable implements ErrorClassifier.
func (e *IOError) IsRetryable() bool { return true }
