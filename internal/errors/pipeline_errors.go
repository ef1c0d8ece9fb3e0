package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory represents the category of error
type ErrorCategory string

const (
	// ErrorCategoryConfiguration covers errors raised while building a pipeline
	ErrorCategoryConfiguration ErrorCategory = "CONFIGURATION"
	// ErrorCategoryTask covers errors raised by a single task attempt
	ErrorCategoryTask ErrorCategory = "TASK"
	// ErrorCategoryPipeline covers errors surfaced for a whole run
	ErrorCategoryPipeline ErrorCategory = "PIPELINE"
	// ErrorCategoryGCP represents Google Cloud API errors
	ErrorCategoryGCP ErrorCategory = "GCP"
)

// Error kinds. Every PipelineError carries exactly one of these so callers
// can match with errors.Is.
var (
	ErrDuplicateName  = stderrors.New("duplicate task name")
	ErrNotFound       = stderrors.New("task not found")
	ErrCycle          = stderrors.New("dependency cycle")
	ErrInvalidConfig  = stderrors.New("invalid configuration")
	ErrTaskTimeout    = stderrors.New("task timed out")
	ErrTaskExecution  = stderrors.New("task execution failed")
	ErrPipelineFailed = stderrors.New("pipeline failed")
	ErrCloudAPI       = stderrors.New("cloud api request failed")
)

// PipelineError represents a structured error with context and troubleshooting information
type PipelineError struct {
	Kind            error
	Category        ErrorCategory
	Code            string
	Message         string
	Operation       string
	Context         map[string]interface{}
	Troubleshooting []string
	OriginalError   error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s-%s: %s", e.Category, e.Code, e.Message))

	if e.Operation != "" {
		sb.WriteString(fmt.Sprintf(" (operation: %s)", e.Operation))
	}

	if e.OriginalError != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.OriginalError))
	}

	return sb.String()
}

// Is matches the error kind so errors.Is(err, ErrCycle) works through wrapping
func (e *PipelineError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Unwrap returns the original error for error chain compatibility
func (e *PipelineError) Unwrap() error {
	return e.OriginalError
}

// NewPipelineError creates a new pipeline error with the specified parameters
func NewPipelineError(kind error, category ErrorCategory, code, message, operation string) *PipelineError {
	return &PipelineError{
		Kind:            kind,
		Category:        category,
		Code:            code,
		Message:         message,
		Operation:       operation,
		Context:         make(map[string]interface{}),
		Troubleshooting: []string{},
	}
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	e.Context[key] = value
	return e
}

// WithTroubleshooting adds troubleshooting steps to the error
func (e *PipelineError) WithTroubleshooting(steps ...string) *PipelineError {
	e.Troubleshooting = append(e.Troubleshooting, steps...)
	return e
}

// WithOriginalError adds the original error to the pipeline error
func (e *PipelineError) WithOriginalError(err error) *PipelineError {
	e.OriginalError = err
	return e
}

// contextKeys returns context keys in a stable order for display
func (e *PipelineError) contextKeys() []string {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// As is a convenience wrapper so callers don't need to import both error packages
func As(err error) (*PipelineError, bool) {
	var pErr *PipelineError
	if stderrors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}

// Is re-exports errors.Is for callers that import this package under its own name
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
