// Package errors wraps pkg/errors and adds the gateway's error codes.
package errors

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error.
// See Is.
type Code string

const (
	ErrUncoded Code = "Uncoded"

	// ErrUnknownResource is returned when an identifier does not route to a
	// table in the catalog.
	ErrUnknownResource Code = "UnknownResource"
	// ErrInvalidQuery is returned for malformed parameter combinations, such
	// as an offset without a limit.
	ErrInvalidQuery Code = "InvalidQuery"
	// ErrInsertFailed is returned when the engine refuses a row or reports no
	// identity for it.
	ErrInsertFailed Code = "InsertFailed"
	// ErrWriteConflict is returned when the engine aborts a transaction
	// because of a serialization failure, deadlock or lock timeout.
	ErrWriteConflict Code = "WriteConflict"
	// ErrDependentResolutionMiss marks a dependent table that could not be
	// resolved while cascading a notification. It is never returned to a
	// caller.
	ErrDependentResolutionMiss Code = "DependentResolutionMiss"
	// ErrExpectedCountMismatch is returned when a batch operation affected a
	// different number of rows than it declared.
	ErrExpectedCountMismatch Code = "ExpectedCountMismatch"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Coded attaches code to err, keeping err reachable through Unwrap. A nil err
// yields nil.
func Coded(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&causedError{
		codedError: codedError{Code: code, Message: message + ": " + err.Error()},
		cause:      err,
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is reports whether any error in err's chain carries the target code.
func Is(err error, target Code) bool {
	return errors.Is(err, codedError{Code: target})
}

// CodeOf returns the code of the first coded error in err's chain, or the
// empty code if there is none.
func CodeOf(err error) Code {
	for err != nil {
		switch v := err.(type) {
		case codedError:
			return v.Code
		case *causedError:
			return v.Code
		}
		err = errors.Unwrap(err)
	}
	return ""
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Wrapped string `json:"wrapped,omitempty"`
}

func (ce codedError) Error() string {
	if ce.Wrapped != "" {
		return ce.Wrapped
	}
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}

// causedError is a codedError that keeps the engine error it was built from.
type causedError struct {
	codedError
	cause error
}

func (ce *causedError) Unwrap() error { return ce.cause }

// MarshalJSON returns err as a json object representing a codedError. An
// error without a code marshals with an empty code.
func MarshalJSON(err error) string {
	var out *codedError

	switch v := Cause(err).(type) {
	case codedError:
		v.Wrapped = err.Error()
		out = &v
	case *causedError:
		c := v.codedError
		c.Wrapped = err.Error()
		out = &c
	default:
		out = &codedError{
			Code:    CodeOf(err),
			Message: v.Error(),
			Wrapped: err.Error(),
		}
	}

	j, jerr := json.Marshal(out)
	if jerr != nil {
		return out.Error()
	}
	return string(j)
}
