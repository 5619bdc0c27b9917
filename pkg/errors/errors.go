package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates that a run was configured with invalid parameters
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidConcurrency indicates that the worker count is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")

	// ErrInternalConsistency indicates that the collated outcomes violate the one-outcome-per-record invariant
	ErrInternalConsistency = errors.New("internal consistency violation")

	// ErrUnsupportedFormat indicates that a file extension is not supported
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrPublishFailed indicates that a message could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// Error codes used for run-level failures.
const (
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeInternalConsistency = "INTERNAL_CONSISTENCY_ERROR"
	CodeSource              = "SOURCE_ERROR"
	CodeSink                = "SINK_ERROR"
	CodeConnection          = "CONNECTION_FAILED"
)

// Error represents a structured run-level error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConfigError creates a configuration error wrapping ErrInvalidConfig.
// A nil cause is replaced by ErrInvalidConfig itself.
func NewConfigError(message string, cause error) *Error {
	if cause == nil {
		cause = ErrInvalidConfig
	} else if !errors.Is(cause, ErrInvalidConfig) {
		cause = fmt.Errorf("%w: %w", ErrInvalidConfig, cause)
	}
	return NewError(CodeConfiguration, message, cause)
}

// NewConsistencyError creates a fatal internal consistency error
func NewConsistencyError(message string) *Error {
	return NewError(CodeInternalConsistency, message, ErrInternalConsistency)
}

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsInternalConsistency checks if an error is an internal consistency violation
func IsInternalConsistency(err error) bool {
	return errors.Is(err, ErrInternalConsistency)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
