// Package domainerrors defines coded domain errors for the allocation core.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services translate those into coded errors so callers and boundary layers can
// branch on the code without string matching. Codes are stable API: the CRUD
// layer maps them to transport responses (NotFound -> 404-equivalent,
// Conflict -> 409-equivalent, and so on).
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeNotFound means a referenced entity does not exist.
	CodeNotFound Code = "not_found"
	// CodeInvalidState means the entity is not in a state from which the
	// requested transition is legal.
	CodeInvalidState Code = "invalid_state"
	// CodeConflict means a uniqueness or mutual-exclusion invariant would be
	// violated (duplicate pairing, second confirmation on a matched organ).
	CodeConflict Code = "conflict"
	// CodeValidation means a required field is missing or malformed.
	CodeValidation Code = "validation"
	// CodeUnavailable marks transient infrastructure failures (lock conflict,
	// connection loss). Callers may retry; business-rule errors never carry it.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout means the operation's transaction deadline elapsed.
	CodeTimeout Code = "timeout"
	// CodeInternal covers unexpected failures that are not the caller's fault.
	CodeInternal Code = "internal"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error with a static message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause yields
// a plain coded error.
func Wrap(cause error, code Code, message string) error {
	if cause == nil {
		return &Error{Code: code, Message: message}
	}
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the code from err, unwrapping as needed. Uncoded errors
// report CodeInternal; nil reports an empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Retryable reports whether the caller may retry the failed operation.
// Only transient infrastructure codes qualify; business-rule violations
// (wrong state, conflict, validation) are never retryable.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}
