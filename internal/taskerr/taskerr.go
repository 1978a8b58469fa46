// internal/taskerr/taskerr.go
package taskerr

import (
	"context"
	"errors"
	"fmt"
)

// Code is a string type used for structured error reporting across the model,
// browser and agent layers. Using a custom type ensures that only predefined
// constants are used where a Code is expected.
type Code string

const (
	// -- Model invocation errors --
	CodeInsufficientTokens         Code = "INSUFFICIENT_TOKENS"
	CodeStructuredOutputParseError Code = "STRUCTURED_OUTPUT_PARSE_ERROR"
	CodeJSONExtractionError        Code = "JSON_EXTRACTION_ERROR"
	CodeRequestCancelled           Code = "REQUEST_CANCELLED"
	CodeAuthenticationError        Code = "AUTHENTICATION_ERROR"
	CodeForbiddenError             Code = "FORBIDDEN_ERROR"

	// -- Browser/DOM errors --
	CodeSnapshotUnavailable Code = "SNAPSHOT_UNAVAILABLE"
	CodeElementNotFound     Code = "ELEMENT_NOT_FOUND"
	CodeOptionNotFound      Code = "OPTION_NOT_FOUND"
	CodeDropdownTimeout     Code = "DROPDOWN_TIMEOUT"

	// -- Registry errors --
	CodeUnknownAction    Code = "UNKNOWN_ACTION"
	CodeInvalidArguments Code = "INVALID_ARGUMENTS"
)

// Error is the concrete error carried through the system. Two Errors match under
// errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInsufficientTokens         = &Error{Code: CodeInsufficientTokens}
	ErrStructuredOutputParseError = &Error{Code: CodeStructuredOutputParseError}
	ErrJSONExtractionError        = &Error{Code: CodeJSONExtractionError}
	ErrRequestCancelled           = &Error{Code: CodeRequestCancelled}
	ErrAuthenticationError        = &Error{Code: CodeAuthenticationError}
	ErrForbiddenError             = &Error{Code: CodeForbiddenError}
	ErrSnapshotUnavailable        = &Error{Code: CodeSnapshotUnavailable}
	ErrElementNotFound            = &Error{Code: CodeElementNotFound}
	ErrOptionNotFound             = &Error{Code: CodeOptionNotFound}
	ErrDropdownTimeout            = &Error{Code: CodeDropdownTimeout}
	ErrUnknownAction              = &Error{Code: CodeUnknownAction}
	ErrInvalidArguments           = &Error{Code: CodeInvalidArguments}
)

// CodeOf returns the code of the first *Error in err's chain. A bare
// context.Canceled is reported as CodeRequestCancelled.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeRequestCancelled
	}
	return ""
}

// IsCancelled reports whether err terminates the task as cancelled.
func IsCancelled(err error) bool {
	return CodeOf(err) == CodeRequestCancelled
}

// IsFatal reports whether err ends the task without retry. Retrying a provider
// auth failure cannot succeed until the configuration changes.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeAuthenticationError, CodeForbiddenError, CodeInsufficientTokens:
		return true
	}
	return false
}

// IsParseError reports whether err came from decoding model output.
func IsParseError(err error) bool {
	switch CodeOf(err) {
	case CodeStructuredOutputParseError, CodeJSONExtractionError:
		return true
	}
	return false
}

// IsRecoverable reports whether err should be counted as a step failure and
// handed to the planner as context for replanning.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	return !IsCancelled(err) && !IsFatal(err)
}

// Cancelled normalises a context error into a RequestCancelled error.
func Cancelled(err error) *Error {
	return Wrap(CodeRequestCancelled, err, "request cancelled")
}
