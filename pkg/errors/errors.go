// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Taskweave.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies orchestration errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeSkillNotFound indicates the requested capability is not registered.
	CodeSkillNotFound ErrorCode = "SKILL_NOT_FOUND"

	// CodeSkillDisabled indicates the capability exists but is disabled.
	CodeSkillDisabled ErrorCode = "SKILL_DISABLED"

	// CodeInvalidParams indicates parameters failed schema validation.
	CodeInvalidParams ErrorCode = "INVALID_PARAMS"

	// CodePreconditionFailed indicates a capability precondition was violated.
	CodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"

	// CodeValidationError indicates input could not be validated.
	CodeValidationError ErrorCode = "VALIDATION_ERROR"

	// CodeTimeConflict indicates a scheduling overlap with an existing item.
	CodeTimeConflict ErrorCode = "TIME_CONFLICT"

	// CodeResourceUnavailable indicates a required resource is not available.
	CodeResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"

	// CodePermissionDenied indicates the caller lacks permission.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeExecutionError indicates a capability execution failed.
	CodeExecutionError ErrorCode = "EXECUTION_ERROR"

	// CodeTimeout indicates an operation exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates context was lost (e.g., canceled mid-retry).
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeLLMError indicates a completion-service error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// OrchestratorError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type OrchestratorError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *OrchestratorError) MarshalJSON() ([]byte, error) {
	type Alias OrchestratorError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new OrchestratorError with the given code, message, and cause.
// Recoverability defaults to the code's class and can be overridden with
// WithRecoverable.
func New(code ErrorCode, msg string, cause error) *OrchestratorError {
	return &OrchestratorError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: codeRecoverable(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *OrchestratorError) WithContext(key string, value interface{}) *OrchestratorError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *OrchestratorError) WithAttribute(key, value string) *OrchestratorError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *OrchestratorError) WithRecoverable(recoverable bool) *OrchestratorError {
	e.Recoverable = recoverable
	return e
}

// AsOrchestratorError attempts to convert an error to an OrchestratorError.
// Returns the error as OrchestratorError if it is one, or wraps it otherwise.
func AsOrchestratorError(err error) *OrchestratorError {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*OrchestratorError); ok {
		return oe
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsRecoverable reports whether err carries a recoverable classification.
// Unknown errors are treated as non-recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if oe, ok := err.(*OrchestratorError); ok {
		return oe.Recoverable
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *OrchestratorError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeRecoverable classifies each code per the recovery policy: validation
// and domain errors can be retried or corrected, not-found/disabled and
// permission failures cannot.
func codeRecoverable(code ErrorCode) bool {
	switch code {
	case CodeInvalidParams, CodePreconditionFailed, CodeValidationError,
		CodeTimeConflict, CodeResourceUnavailable, CodeTimeout, CodeLLMError:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP-ish status codes for transports.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeSkillNotFound:
		return 404
	case CodePermissionDenied:
		return 403
	case CodeInvalidParams, CodeValidationError, CodePreconditionFailed:
		return 400
	case CodeTimeConflict:
		return 409
	case CodeTimeout:
		return 408
	case CodeSkillDisabled, CodeResourceUnavailable:
		return 503
	default:
		return 500
	}
}
