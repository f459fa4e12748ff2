// Package errors defines the error taxonomy returned by the tool interface.
package errors

import (
	"errors"
	"fmt"
)

// Error codes returned on the observer API surface.
const (
	CodeUnknown               = "UNKNOWN_ERROR"
	CodeInvalidObject         = "INVALID_OBJECT"
	CodeInvalidClass          = "INVALID_CLASS"
	CodeInvalidThread         = "INVALID_THREAD"
	CodeInvalidField          = "INVALID_FIELD"
	CodeInvalidLocation       = "INVALID_LOCATION"
	CodeNotFound              = "NOT_FOUND"
	CodeDuplicate             = "DUPLICATE"
	CodeOutOfMemory           = "OUT_OF_MEMORY"
	CodeInvalidEventKind      = "INVALID_EVENT_KIND"
	CodeIllegalArgument       = "ILLEGAL_ARGUMENT"
	CodeNotAvailable          = "NOT_AVAILABLE"
	CodeWrongPhase            = "WRONG_PHASE"
	CodeOpaqueFrame           = "OPAQUE_FRAME"
	CodeNoMoreFrames          = "NO_MORE_FRAMES"
	CodeMustPossessCapability = "MUST_POSSESS_CAPABILITY"
	CodeThreadNotSuspended    = "THREAD_NOT_SUSPENDED"
	CodeThreadSuspended       = "THREAD_SUSPENDED"
	CodeConfigError           = "CONFIG_ERROR"
)

// AppError represents an error with a stable code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrInvalidObject         = New(CodeInvalidObject, "invalid object")
	ErrInvalidClass          = New(CodeInvalidClass, "invalid class")
	ErrInvalidThread         = New(CodeInvalidThread, "invalid thread")
	ErrInvalidField          = New(CodeInvalidField, "invalid field")
	ErrInvalidLocation       = New(CodeInvalidLocation, "invalid location")
	ErrNotFound              = New(CodeNotFound, "not found")
	ErrDuplicate             = New(CodeDuplicate, "duplicate")
	ErrOutOfMemory           = New(CodeOutOfMemory, "out of memory")
	ErrInvalidEventKind      = New(CodeInvalidEventKind, "invalid event kind")
	ErrIllegalArgument       = New(CodeIllegalArgument, "illegal argument")
	ErrNotAvailable          = New(CodeNotAvailable, "capability not available")
	ErrWrongPhase            = New(CodeWrongPhase, "wrong phase")
	ErrOpaqueFrame           = New(CodeOpaqueFrame, "opaque frame")
	ErrNoMoreFrames          = New(CodeNoMoreFrames, "no more frames")
	ErrMustPossessCapability = New(CodeMustPossessCapability, "must possess capability")
	ErrThreadNotSuspended    = New(CodeThreadNotSuspended, "thread not suspended")
	ErrThreadSuspended       = New(CodeThreadSuspended, "thread already suspended")
	ErrConfigError           = New(CodeConfigError, "configuration error")
)

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate checks if the error is a duplicate error.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsOutOfMemory checks if the error is an allocation failure.
func IsOutOfMemory(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}

// IsNotAvailable checks if the error is a capability negotiation failure.
func IsNotAvailable(err error) bool {
	return errors.Is(err, ErrNotAvailable)
}

// IsWrongPhase checks if the error is a phase mismatch.
func IsWrongPhase(err error) bool {
	return errors.Is(err, ErrWrongPhase)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
