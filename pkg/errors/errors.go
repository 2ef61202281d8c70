// Package errors defines the error taxonomy shared by the profiler packages.
//
// Every error is recoverable: the profiler logs it and hands it back to the
// caller, it never panics across the instrumentation boundary.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeUnknown          = "UNKNOWN_ERROR"
	CodeUnbalancedPop    = "UNBALANCED_POP"
	CodeFrameNotBalanced = "FRAME_NOT_BALANCED"
	CodeNotFound         = "NOT_FOUND"
	CodeStaleHandle      = "STALE_HANDLE"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeConfigError      = "CONFIG_ERROR"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
)

// AppError represents an error with a code and message.
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

// Is reports whether target is an AppError with the same code.
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

// Sentinel instances, matched by code with errors.Is.
var (
	ErrUnbalancedPop    = New(CodeUnbalancedPop, "pop with no active scope")
	ErrFrameNotBalanced = New(CodeFrameNotBalanced, "frame boundary with an active scope")
	ErrNotFound         = New(CodeNotFound, "no tree in history")
	ErrStaleHandle      = New(CodeStaleHandle, "handle already released")
	ErrInvalidInput     = New(CodeInvalidInput, "invalid input")
	ErrConfigError      = New(CodeConfigError, "configuration error")
	ErrUnknownCommand   = New(CodeUnknownCommand, "unknown command")
)

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUsageError reports whether err is one of the instrumentation usage
// errors (unbalanced pop or unbalanced frame).
func IsUsageError(err error) bool {
	return errors.Is(err, ErrUnbalancedPop) || errors.Is(err, ErrFrameNotBalanced)
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
