// Package domainerrors carries coded errors across the core boundary.
//
// Stores and infrastructure return sentinel errors (see pkg/platform/sentinel).
// The runtime and services translate those into a Code so callers can branch
// on the category of failure without matching message text.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure surfaced to callers of the core.
type Code string

const (
	CodeDuplicateEntity     Code = "duplicate_entity"
	CodeEntityNotFound      Code = "entity_not_found"
	CodeTimeout             Code = "timeout"
	CodeConcurrencyConflict Code = "concurrency_conflict"
	CodePersistenceFailure  Code = "persistence_failure"
	CodeUnavailable         Code = "unavailable"
	CodeValidation          Code = "validation"
	CodeNotFound            Code = "not_found"
	CodeInternal            Code = "internal"
)

// Error is a coded domain error. Message is safe to show to a client.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so errors.Is works against code templates.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether err carries code. Shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// Message returns the client-safe message of the outermost coded error.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
