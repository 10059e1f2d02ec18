package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is an error tagged with a [Kind], with a customizable message.
type DriverError interface {
	error
	Kind() Kind
	Unwrap() error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type driverError struct {
	kind          Kind
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return StrKind(e.kind)
}

func (e driverError) Kind() Kind {
	return e.kind
}

func (e driverError) Unwrap() error {
	return e.originalError
}

// Is reports whether `target` is the same error, or a bare kind sentinel such
// as [ErrNotFound] with the same kind as this one.
func (e driverError) Is(target error) bool {
	other, ok := target.(driverError)
	if !ok {
		return false
	}
	if other.kind != e.kind {
		return false
	}
	return other.message == StrKind(other.kind) || other.message == e.message
}

// WithMessage creates a new error of the same kind with `message` appended.
// The receiver becomes the parent of the new error.
func (e driverError) WithMessage(message string) DriverError {
	return driverError{
		kind:          e.kind,
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

// Wrap creates a new error of the same kind whose parents are both the
// receiver and `err`.
func (e driverError) Wrap(err error) DriverError {
	return driverError{
		kind:          e.kind,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// New creates a new [DriverError] with a default message derived from the
// kind.
func New(kind Kind) DriverError {
	return driverError{
		kind:    kind,
		message: StrKind(kind),
	}
}

func NewFromError(kind Kind, originalError error) DriverError {
	return driverError{
		kind:          kind,
		message:       fmt.Sprintf("%s: %s", StrKind(kind), originalError.Error()),
		originalError: originalError,
	}
}

// NewWithMessage creates a new DriverError of the given kind with a custom
// message.
func NewWithMessage(kind Kind, message string) DriverError {
	return driverError{
		kind:    kind,
		message: message,
	}
}

// KindOf returns the kind of the first [DriverError] in `err`'s chain. Errors
// that didn't originate in this module are considered faults. A nil error has
// kind [OK].
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}

	var driverErr DriverError
	if stderrors.As(err, &driverErr) {
		return driverErr.Kind()
	}
	return Fault
}

// CastToDriverError converts any error to a [DriverError], treating errors from
// outside this module as faults.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}

	var driverErr DriverError
	if stderrors.As(err, &driverErr) {
		return driverErr
	}
	return NewFromError(Fault, err)
}

// Is is a convenience wrapper around the standard library's errors.Is, so
// callers don't need to import both packages.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a convenience wrapper around the standard library's errors.As.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
