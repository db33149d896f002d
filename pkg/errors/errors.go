// Package errors provides structured error handling for the connector engine
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents conflict errors
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeRateLimit represents rate limit errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents network/connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents authentication errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeTransformation represents transformation rule failures
	ErrorTypeTransformation ErrorType = "transformation"
	// ErrorTypeCancelled represents caller-requested cancellation
	ErrorTypeCancelled ErrorType = "cancelled"
)

// Retry classifications used by connector retry policies. A policy lists
// the classifications it is willing to retry; Classify maps an error onto
// one of these strings.
const (
	ClassTimeout      = "timeout"
	ClassNetworkError = "network_error"
	ClassRateLimit    = "rate_limit"
	ClassServerError  = "server_error"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Dedicated constructors for the engine's error taxonomy. They all build
// structured errors so callers can branch on category via IsType/errors.As.

// ConnectorNotFound reports an unknown connector identifier.
func ConnectorNotFound(id string) *Error {
	return New(ErrorTypeNotFound, fmt.Sprintf("connector %s not found", id)).
		WithDetail("resource", "connector").
		WithDetail("id", id)
}

// InstanceNotFound reports an unknown connector instance identifier.
func InstanceNotFound(id string) *Error {
	return New(ErrorTypeNotFound, fmt.Sprintf("instance %s not found", id)).
		WithDetail("resource", "instance").
		WithDetail("id", id)
}

// EndpointNotFound reports an endpoint id that does not exist on a connector.
func EndpointNotFound(connectorID, endpointID string) *Error {
	return New(ErrorTypeNotFound, fmt.Sprintf("endpoint %s not found on connector %s", endpointID, connectorID)).
		WithDetail("resource", "endpoint").
		WithDetail("connector_id", connectorID).
		WithDetail("id", endpointID)
}

// ConfigurationInvalid reports a registration- or provisioning-time
// configuration problem.
func ConfigurationInvalid(message string) *Error {
	return New(ErrorTypeConfig, message)
}

// ValidationFailed reports a missing or malformed input field. The field
// name is carried in the error details.
func ValidationFailed(field, message string) *Error {
	return New(ErrorTypeValidation, message).WithDetail("field", field)
}

// RateLimited reports a call rejected by the rate limiter gate.
func RateLimited(instanceID, endpointID string) *Error {
	return New(ErrorTypeRateLimit, fmt.Sprintf("rate limit exceeded for instance %s endpoint %s", instanceID, endpointID)).
		WithDetail("instance_id", instanceID).
		WithDetail("endpoint_id", endpointID)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// Classify maps an error onto a retry classification string. Retry policies
// compare the result against their configured retryable set. Errors that do
// not map to a known classification return the empty string and are never
// retried.
func Classify(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}

	switch e.Type {
	case ErrorTypeTimeout:
		return ClassTimeout
	case ErrorTypeConnection:
		return ClassNetworkError
	case ErrorTypeRateLimit:
		return ClassRateLimit
	default:
		if class, ok := e.Details["classification"].(string); ok {
			return class
		}
		return ""
	}
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
