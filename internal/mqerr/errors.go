// Package mqerr defines the error taxonomy shared by all mq packages.
//
// User errors (bad input, unknown names, merge conflicts) are reported and
// never retried. Config errors cover unparsable or invalid persisted state.
// Request errors wrap backend call failures and carry structured detail for
// batch output rows.
package mqerr

import (
	"errors"
	"fmt"
)

// Code classifies an error for exit-status and output decisions.
type Code string

const (
	// CodeUser marks invalid input from the caller: bad id syntax,
	// malformed batch rows, merge conflicts.
	CodeUser Code = "USER_ERROR"

	// CodeConfig marks unparsable or invalid persisted state and
	// misconfiguration (missing API keys, bad registry entries).
	CodeConfig Code = "CONFIG_ERROR"

	// CodeNotFound marks lookups of sessions or registry entries that
	// do not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeNoSession marks latest-session resolution exhausting every
	// fallback without finding a session.
	CodeNoSession Code = "NO_SESSION"

	// CodeConflict marks create/rename collisions with existing ids.
	CodeConflict Code = "CONFLICT"

	// CodeRequest marks a backend request failure. Info carries the
	// structured detail recorded on batch output rows.
	CodeRequest Code = "REQUEST_ERROR"
)

// Error is the concrete error type used across mq.
type Error struct {
	Code    Code
	Message string
	Info    map[string]interface{}
	err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.err
}

// Wrap attaches a cause without changing the code or message.
func (e *Error) Wrap(err error) *Error {
	e.err = err
	return e
}

// User creates a user error.
func User(format string, args ...interface{}) *Error {
	return &Error{Code: CodeUser, Message: fmt.Sprintf(format, args...)}
}

// Config creates a configuration/corruption error.
func Config(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConfig, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NoSession creates a no-session error.
func NoSession(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNoSession, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates an id-collision error.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Request creates a backend request error with structured detail.
func Request(message string, info map[string]interface{}) *Error {
	return &Error{Code: CodeRequest, Message: message, Info: info}
}

// IsCode reports whether err is or wraps an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// InfoOf returns the structured detail of err when it carries any.
func InfoOf(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Info
	}
	return nil
}
