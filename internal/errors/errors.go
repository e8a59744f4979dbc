// Package errors provides a categorized service-error type so callers can
// distinguish transient-infra failures from data errors from fatal errors
// instead of testing error strings.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies which category of the pipeline's error taxonomy an
// error belongs to.
type ErrorCode string

const (
	// ErrCodeTransientInfra marks a failure in an outbound collaborator
	// (LLM, sandbox, hosting API, queue, Redis) that is safe to retry.
	ErrCodeTransientInfra ErrorCode = "TRANSIENT_INFRA"
	// ErrCodeToolFailure marks an analyzer tool invocation that failed or
	// exited outside its allowed exit codes.
	ErrCodeToolFailure ErrorCode = "TOOL_FAILURE"
	// ErrCodeDataError marks malformed or unparseable input data (a
	// report, a finding field) that the Normalizer recovers from rather
	// than aborting.
	ErrCodeDataError ErrorCode = "DATA_ERROR"
	// ErrCodeWorkflowStep marks a failure inside one Workflow Engine
	// stage for a single finding.
	ErrCodeWorkflowStep ErrorCode = "WORKFLOW_STEP"
	// ErrCodeSanityViolation marks a remediation patch rejected by the
	// SANITY stage's critical-token/mass-deletion/empty checks.
	ErrCodeSanityViolation ErrorCode = "SANITY_VIOLATION"
	// ErrCodePublisherFailure marks a failure opening a pull request.
	ErrCodePublisherFailure ErrorCode = "PUBLISHER_FAILURE"
	// ErrCodeFatal marks an error that aborts the whole scan (Scan-row
	// creation failure, cancellation, readiness timeout, clone failure).
	ErrCodeFatal ErrorCode = "FATAL"
)

// ServiceError is a structured error carrying a category, a message, and
// the underlying cause.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// New builds a ServiceError with no underlying cause.
func New(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Wrap builds a ServiceError around an existing error.
func Wrap(code ErrorCode, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// WithDetails attaches structured context (e.g. {"tool": "semgrep"}) and
// returns the same error for chaining.
func (e *ServiceError) WithDetails(details map[string]interface{}) *ServiceError {
	e.Details = details
	return e
}

// TransientInfra wraps err as a retryable infrastructure failure.
func TransientInfra(message string, err error) *ServiceError {
	return Wrap(ErrCodeTransientInfra, message, err)
}

// ToolFailure wraps err as an analyzer tool failure.
func ToolFailure(message string, err error) *ServiceError {
	return Wrap(ErrCodeToolFailure, message, err)
}

// Fatal wraps err as a scan-aborting failure.
func Fatal(message string, err error) *ServiceError {
	return Wrap(ErrCodeFatal, message, err)
}

// PublisherFailure wraps err as a pull-request-open failure.
func PublisherFailure(message string, err error) *ServiceError {
	return Wrap(ErrCodePublisherFailure, message, err)
}

// CodeOf returns the ErrorCode of err if it (or something it wraps) is a
// *ServiceError, and ok=false otherwise.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code, true
	}
	return "", false
}

// IsFatal reports whether err is a *ServiceError tagged ErrCodeFatal.
func IsFatal(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeFatal
}
