// Package errors defines the dispatch error taxonomy, the error payload
// carried by response envelopes, and the redaction pass applied to every
// message before it is logged or returned.
package errors

import (
	"fmt"
)

// DispatchError is a taxonomy-classified error raised during request
// processing. It carries the code the response builder maps to a status,
// plus optional structured details surfaced to the caller.
type DispatchError struct {
	Code    Code
	Message string
	Details any
	Cause   error
}

// Error implements the error interface
func (e *DispatchError) Error() string {
	if e == nil {
		return "unknown dispatch error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New creates a DispatchError with the given code and message.
func New(code Code, message string) *DispatchError {
	return &DispatchError{Code: code, Message: message}
}

// Newf creates a DispatchError with a formatted message.
func Newf(code Code, format string, args ...any) *DispatchError {
	return &DispatchError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a DispatchError that wraps a cause.
func Wrap(code Code, message string, cause error) *DispatchError {
	return &DispatchError{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches structured details and returns the error.
func (e *DispatchError) WithDetails(details any) *DispatchError {
	e.Details = details
	return e
}
