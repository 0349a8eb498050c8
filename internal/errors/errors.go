// Package errors provides structured error handling with context propagation
// and wire error-code mapping for the RPC layer.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error for metrics and response coding.
type ErrorType string

const (
	// TypeValidation indicates malformed input rejected at the boundary.
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates a missing room, participant or broadcast.
	TypeNotFound ErrorType = "not_found"
	// TypeForbidden indicates an owner-only operation from a non-owner.
	TypeForbidden ErrorType = "forbidden"
	// TypeBadState indicates an operation outside its state precondition.
	TypeBadState ErrorType = "bad_state"
	// TypeUnauthorized indicates a password mismatch.
	TypeUnauthorized ErrorType = "unauthorized"
	// TypeInternal indicates a server-side error.
	TypeInternal ErrorType = "internal"
)

// Wire error codes. The RPC layer never lets errors cross the boundary as
// panics; every failure maps into this reserved negative code space.
const (
	CodeOK           = 0
	CodeNotFound     = -1
	CodeUnauthorized = -2
	CodeForbidden    = -3
	CodeValidation   = -4
	CodeBadState     = -5
	CodeInternal     = -99
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the wire error code for this error type.
func (e *Error) Code() int {
	switch e.Type {
	case TypeNotFound:
		return CodeNotFound
	case TypeUnauthorized:
		return CodeUnauthorized
	case TypeForbidden:
		return CodeForbidden
	case TypeValidation:
		return CodeValidation
	case TypeBadState:
		return CodeBadState
	default:
		return CodeInternal
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func ValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message}
}

func NotFoundError(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message}
}

func ForbiddenError(message string) *Error {
	return &Error{Type: TypeForbidden, Message: message}
}

func BadStateError(message string) *Error {
	return &Error{Type: TypeBadState, Message: message}
}

func UnauthorizedError(message string) *Error {
	return &Error{Type: TypeUnauthorized, Message: message}
}

func InternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause}
}

// AsStructuredError converts any error into a structured Error. If err is
// already an *Error it is returned unchanged; otherwise it is wrapped as an
// internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}
	return InternalError("internal error", err)
}

// CodeOf returns the wire code for any error (CodeOK for nil).
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	return AsStructuredError(err).Code()
}

// FromCode rebuilds a structured error from a wire code, for the client side
// of the RPC boundary.
func FromCode(code int, message string) error {
	switch code {
	case CodeOK:
		return nil
	case CodeNotFound:
		return NotFoundError(message)
	case CodeUnauthorized:
		return UnauthorizedError(message)
	case CodeForbidden:
		return ForbiddenError(message)
	case CodeValidation:
		return ValidationError(message)
	case CodeBadState:
		return BadStateError(message)
	default:
		return InternalError(message, nil)
	}
}
