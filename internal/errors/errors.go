// Package errors provides the agent's domain errors, one code per failure class.
//
// Usage:
//
//	// In the processor - wrap the underlying cause
//	return errors.Wrap(err, errors.CodeFingerprint, "read failed mid-hash")
//
//	// At the HTTP boundary - map to a status
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    status := domainErr.HTTPStatus()
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes. Each processing failure carries exactly one of these.
const (
	CodeInput          Code = "INPUT_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeFingerprint    Code = "FINGERPRINT_ERROR"
	CodeNetwork        Code = "NETWORK_ERROR"
	CodeRemoteRejected Code = "REMOTE_REJECTED"
	CodeBusy           Code = "BUSY"
	CodeInternal       Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status used when a failure with this code is
// reported by the control API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBusy:
		return http.StatusConflict
	case CodeNetwork, CodeRemoteRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// Input creates an input error.
func Input(msg string) *Error {
	return &Error{Code: CodeInput, Message: msg}
}

// Inputf creates an input error with a formatted message.
func Inputf(format string, args ...any) *Error {
	return &Error{Code: CodeInput, Message: fmt.Sprintf(format, args...)}
}

// InputWithDetails creates an input error carrying per-field details.
func InputWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeInput, Message: msg, Details: details}
}

// NotFoundf creates a not found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Busyf creates a busy error with a formatted message.
func Busyf(format string, args ...any) *Error {
	return &Error{Code: CodeBusy, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
