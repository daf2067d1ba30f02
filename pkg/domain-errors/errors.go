// Package domainerrors defines the typed error vocabulary shared by services and
// transport. Services return *Error values; handlers translate codes into HTTP
// responses without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error independent of transport.
type Code string

const (
	CodeBadRequest            Code = "bad_request"
	CodeInvalidInput          Code = "invalid_input"
	CodeUnauthorized          Code = "unauthorized"
	CodeNotFound              Code = "not_found"
	CodeConflict              Code = "conflict"
	CodeTimeout               Code = "timeout"
	CodeDependencyUnavailable Code = "dependency_unavailable"
	CodeInternal              Code = "internal_error"
)

// Error is a domain error carrying a stable code, a client-safe message,
// an optional offending field, and the wrapped cause.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// NewField creates a validation error that names the offending field.
func NewField(code Code, field, msg string) error {
	return &Error{Code: code, Message: msg, Field: field}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through errors.Is/As but is never rendered to clients.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost domain error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err is a domain error with the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// CodeOf returns the code of a domain error, or CodeInternal for anything else.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
