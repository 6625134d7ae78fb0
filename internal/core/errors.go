package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // API rate limited
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Resource already exists
	ErrCatTool       ErrorCategory = "tool"       // Tool invocation problem
	ErrCatWorkflow   ErrorCategory = "workflow"   // Terminal workflow outcome
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrNetwork creates a network error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      "NETWORK_ERROR",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrSessionNotFound reports a session id with no workspace, checkpoint or
// metadata.
func ErrSessionNotFound(id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeSessionNotFound,
		Message:  "session not found: " + id,
	}
}

// ErrConflict creates an error for a resource that already exists.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTool creates a tool invocation error. Tool errors are never fatal to a
// workflow; they are folded into the conversation as failed results.
func ErrTool(code, tool, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTool,
		Code:      code,
		Message:   message,
		Retryable: false,
		Details: map[string]interface{}{
			"tool": tool,
		},
	}
}

// ErrIterationExhausted reports that the retry budget was consumed without a
// passing verification.
func ErrIterationExhausted(iterations, limit int) *DomainError {
	return &DomainError{
		Category:  ErrCatWorkflow,
		Code:      CodeIterationExhausted,
		Message:   fmt.Sprintf("verification still failing after %d of %d iterations", iterations, limit),
		Retryable: false,
		Details: map[string]interface{}{
			"iteration_count": iterations,
			"max_iterations":  limit,
		},
	}
}

// ErrCheckpoint wraps a checkpoint store failure. These are terminal.
func ErrCheckpoint(op, sessionID string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      CodeCheckpointFailed,
		Message:   fmt.Sprintf("checkpoint %s failed for session %s", op, sessionID),
		Retryable: false,
		Cause:     cause,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// GetCode extracts the error code, or "" for non-domain errors.
func GetCode(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}

// Predefined error codes
const (
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionExists    = "SESSION_EXISTS"
	CodeInvalidState     = "INVALID_STATE"
	CodeStateCorrupted   = "STATE_CORRUPTED"
	CodeCheckpointFailed = "CHECKPOINT_FAILED"
	CodeWorkflowTerminal = "WORKFLOW_TERMINAL"

	// Validation error codes
	CodeEmptySpec         = "EMPTY_SPEC"
	CodeSpecTooLong       = "SPEC_TOO_LONG"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidIterations = "INVALID_ITERATIONS"
	CodeInvalidTag        = "INVALID_TAG"
	CodeInvalidMode       = "INVALID_MODE"

	// Tool error codes
	CodeToolExecution       = "TOOL_EXECUTION_FAILED"
	CodeToolReportedFailure = "TOOL_REPORTED_FAILURE"
	CodeMalformedToolCall   = "MALFORMED_TOOL_REQUEST"
	CodeInvalidToolArgs     = "INVALID_TOOL_ARGS"

	// Workflow error codes
	CodeIterationExhausted = "ITERATION_EXHAUSTED"
	CodeReasoningFailed    = "REASONING_FAILED"
	CodeUnknownStage       = "UNKNOWN_STAGE"
)

// MaxSpecLength is the maximum allowed design specification length.
const MaxSpecLength = 100000
