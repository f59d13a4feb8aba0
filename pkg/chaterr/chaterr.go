// Package chaterr defines the error taxonomy shared by the WebSocket and
// REST surfaces. Every rejected action maps to exactly one code; transport
// layers translate codes to HTTP statuses or error frames without
// inspecting messages.
package chaterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the failure class of a rejected action.
type Code string

const (
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeAlreadyAssigned Code = "already_assigned"
	CodeNotFound        Code = "not_found"
	CodeInvalidState    Code = "invalid_state"
	CodeValidation      Code = "validation_error"
	CodeTransientStore  Code = "transient_store_error"
)

// Error is a domain error carrying a taxonomy code and a caller-safe
// message. It never wraps internal detail into the message; use the cause
// chain for that.
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

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a domain error; the cause is reachable via
// errors.Unwrap but never surfaced to callers.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

func Unauthorized(msg string) *Error    { return New(CodeUnauthorized, msg) }
func Forbidden(msg string) *Error       { return New(CodeForbidden, msg) }
func AlreadyAssigned(msg string) *Error { return New(CodeAlreadyAssigned, msg) }
func NotFound(msg string) *Error        { return New(CodeNotFound, msg) }
func InvalidState(msg string) *Error    { return New(CodeInvalidState, msg) }
func Validation(msg string) *Error      { return New(CodeValidation, msg) }

// TransientStore marks a persistence failure the caller may retry.
func TransientStore(msg string, cause error) *Error {
	return Wrap(CodeTransientStore, msg, cause)
}

// CodeOf extracts the taxonomy code from an error chain, or empty if the
// error is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }

// MessageOf returns the caller-safe message for err. Non-domain errors get
// a generic message so internals never leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a domain error to its REST status. Unknown errors map to
// 500.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeAlreadyAssigned:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
