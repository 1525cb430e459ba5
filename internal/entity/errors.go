package entity

import (
	"errors"
	"fmt"
)

// Error is returned by every operation of the runtime core.
//
// Codes:
//   - INVALID_INPUT: a value of the wrong shape was given where an entity,
//     reference or identity key was expected
//   - INVARIANT_VIOLATION: the operation would leave a relation inconsistent
//   - UNINITIALIZED_COLLECTION: a collection was read before Init
//   - NOT_LOADED: the target of a reference was read before Load
//   - NO_SESSION: a lazy load or managed update needs a session
//   - NOT_FOUND: the row behind a reference does not exist
//   - POLYMORPHIC_BASE: an abstract type could not be resolved to a subtype
//   - LAZY_LOAD_FAILED: the driver failed during Init or Load; Err holds the
//     driver error
//
// Errors with the same code match through errors.Is, so callers can test
// against the sentinels below.
type Error struct {
	Code Code

	// Message is a human-readable description.
	Message string

	// Entity and Property locate the failure when known.
	Entity   string
	Property string

	// Err is the wrapped cause.
	Err error
}

// Code categorizes runtime core errors.
type Code string

const (
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeInvariantViolation      Code = "INVARIANT_VIOLATION"
	CodeUninitializedCollection Code = "UNINITIALIZED_COLLECTION"
	CodeNotLoaded               Code = "NOT_LOADED"
	CodeNoSession               Code = "NO_SESSION"
	CodeNotFound                Code = "NOT_FOUND"
	CodePolymorphicBase         Code = "POLYMORPHIC_BASE"
	CodeLazyLoadFailed          Code = "LAZY_LOAD_FAILED"
)

// Sentinels for errors.Is.
var (
	ErrInvalidInput            = &Error{Code: CodeInvalidInput}
	ErrInvariantViolation      = &Error{Code: CodeInvariantViolation}
	ErrUninitializedCollection = &Error{Code: CodeUninitializedCollection}
	ErrNotLoaded               = &Error{Code: CodeNotLoaded}
	ErrNoSession               = &Error{Code: CodeNoSession}
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrPolymorphicBase         = &Error{Code: CodePolymorphicBase}
	ErrLazyLoadFailed          = &Error{Code: CodeLazyLoadFailed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Entity != "" && e.Property != "":
		msg += fmt.Sprintf(" (%s.%s)", e.Entity, e.Property)
	case e.Entity != "":
		msg += fmt.Sprintf(" (%s)", e.Entity)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsInvariantViolation reports whether err is an INVARIANT_VIOLATION error.
func IsInvariantViolation(err error) bool {
	return CodeOf(err) == CodeInvariantViolation
}

// IsLazyLoadFailure reports whether err is a LAZY_LOAD_FAILED error.
func IsLazyLoadFailure(err error) bool {
	return CodeOf(err) == CodeLazyLoadFailed
}

func newError(code Code, entity, property, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Entity:   entity,
		Property: property,
	}
}

func invalidInput(entity, property, format string, args ...any) *Error {
	return newError(CodeInvalidInput, entity, property, format, args...)
}

func invariantViolation(entity, property, format string, args ...any) *Error {
	return newError(CodeInvariantViolation, entity, property, format, args...)
}

func noSession(entity, property, action string) *Error {
	return newError(CodeNoSession, entity, property, "%s needs a session", action)
}

func lazyLoadFailed(entity, property string, err error) *Error {
	e := newError(CodeLazyLoadFailed, entity, property, "lazy load failed")
	e.Err = err
	return e
}
