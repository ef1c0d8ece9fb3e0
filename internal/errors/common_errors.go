package errors

import (
	"fmt"
	"strings"
	"time"
)

// Common error codes
const (
	// Configuration error codes
	CodeDuplicateName = "001"
	CodeNotFound      = "002"
	CodeCycle         = "003"
	CodeInvalidConfig = "004"

	// Task error codes
	CodeTaskTimeout   = "001"
	CodeTaskExecution = "002"

	// Pipeline error codes
	CodePipelineFailed = "001"

	// GCP API error codes
	CodeGCPAPI = "001"
)

// NewDuplicateNameError is returned when a task name is registered twice
func NewDuplicateNameError(name string) *PipelineError {
	return NewPipelineError(ErrDuplicateName, ErrorCategoryConfiguration, CodeDuplicateName,
		fmt.Sprintf("Task '%s' is already registered", name),
		"Task registration").
		WithContext("task", name).
		WithTroubleshooting(
			"Task names must be unique within a pipeline",
			"Check for targets that normalize to the same identifier (case or spacing differences)",
		)
}

// NewNotFoundError is returned when a task name is not registered
func NewNotFoundError(name, operation string) *PipelineError {
	return NewPipelineError(ErrNotFound, ErrorCategoryConfiguration, CodeNotFound,
		fmt.Sprintf("Task '%s' is not registered", name),
		operation).
		WithContext("task", name)
}

// NewCycleError is returned when an edge would close a cycle. path lists the
// tasks along the cycle, starting and ending with the same name.
func NewCycleError(upstream, downstream string, path []string) *PipelineError {
	return NewPipelineError(ErrCycle, ErrorCategoryConfiguration, CodeCycle,
		fmt.Sprintf("Edge %s -> %s would create a cycle: %s", upstream, downstream, strings.Join(path, " -> ")),
		"Dependency registration").
		WithContext("upstream", upstream).
		WithContext("downstream", downstream).
		WithTroubleshooting(
			"Dependencies must form a directed acyclic graph",
			"Run 'bqflow plan' to inspect the current task order",
		)
}

// NewInvalidConfigError reports a malformed pipeline configuration
func NewInvalidConfigError(field, reason string) *PipelineError {
	return NewPipelineError(ErrInvalidConfig, ErrorCategoryConfiguration, CodeInvalidConfig,
		fmt.Sprintf("Invalid value for %s: %s", field, reason),
		"Configuration load").
		WithContext("field", field).
		WithTroubleshooting(
			"Check the pipeline file syntax and parameter values",
			"Use --help to see available options and examples",
		)
}

// NewTaskTimeoutError is returned when a task attempt exceeds its timeout
func NewTaskTimeoutError(task string, attempt int, timeout time.Duration, originalErr error) *PipelineError {
	return NewPipelineError(ErrTaskTimeout, ErrorCategoryTask, CodeTaskTimeout,
		fmt.Sprintf("Task '%s' timed out after %v", task, timeout),
		"Task execution").
		WithContext("task", task).
		WithContext("attempt", attempt).
		WithOriginalError(originalErr)
}

// NewTaskExecutionError wraps an operator failure for a single attempt
func NewTaskExecutionError(task string, attempt int, originalErr error) *PipelineError {
	return NewPipelineError(ErrTaskExecution, ErrorCategoryTask, CodeTaskExecution,
		fmt.Sprintf("Task '%s' failed on attempt %d", task, attempt),
		"Task execution").
		WithContext("task", task).
		WithContext("attempt", attempt).
		WithOriginalError(originalErr)
}

// NewPipelineFailedError is surfaced once retries are exhausted and downstream
// tasks have been skipped
func NewPipelineFailedError(pipeline, runID string, failed, skipped []string, originalErr error) *PipelineError {
	return NewPipelineError(ErrPipelineFailed, ErrorCategoryPipeline, CodePipelineFailed,
		fmt.Sprintf("Pipeline '%s' run %s failed: %d task(s) failed, %d skipped", pipeline, runID, len(failed), len(skipped)),
		"Pipeline run").
		WithContext("run_id", runID).
		WithContext("failed", failed).
		WithContext("skipped", skipped).
		WithOriginalError(originalErr).
		WithTroubleshooting(
			"Inspect the run with 'bqflow runs show "+runID+"'",
			"Fix the failing task and trigger a new run",
		)
}

// NewCloudAPIError creates an error for Google Cloud API failures
func NewCloudAPIError(operation string, originalErr error) *PipelineError {
	err := NewPipelineError(ErrCloudAPI, ErrorCategoryGCP, CodeGCPAPI, "Cloud API request failed", operation).
		WithOriginalError(originalErr)

	if originalErr != nil {
		errStr := strings.ToLower(originalErr.Error())
		if strings.Contains(errStr, "permission") || strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "403") {
			err = err.WithTroubleshooting(
				"Check your credentials: 'gcloud auth application-default login'",
				"Verify the service account has BigQuery Job User and Storage Object Viewer roles",
			)
		} else if strings.Contains(errStr, "quota") || strings.Contains(errStr, "exceeded") {
			err = err.WithTroubleshooting(
				"Check your BigQuery quotas in the Console",
				"Lower --max-parallel to reduce concurrent jobs",
			)
		} else if strings.Contains(errStr, "not found") || strings.Contains(errStr, "404") {
			err = err.WithTroubleshooting(
				"Verify the project, dataset and bucket names in the pipeline file",
			)
		}
	}

	return err
}

// IsRetryableError determines if a run-time error is worth retrying
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrTaskTimeout) || Is(err, ErrTaskExecution)
}

// IsConfigurationError reports whether err is fatal configuration-time error
func IsConfigurationError(err error) bool {
	if pErr, ok := As(err); ok {
		return pErr.Category == ErrorCategoryConfiguration
	}
	return false
}

// GetErrorSeverity returns the severity level of an error
func GetErrorSeverity(err error) string {
	if pErr, ok := As(err); ok {
		switch pErr.Category {
		case ErrorCategoryConfiguration:
			return "WARNING"
		case ErrorCategoryTask, ErrorCategoryGCP:
			return "ERROR"
		case ErrorCategoryPipeline:
			return "CRITICAL"
		}
	}
	return "ERROR"
}
