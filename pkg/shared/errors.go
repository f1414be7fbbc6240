package shared

import "errors"

// Engine error taxonomy. All four kinds are caller-visible usage errors,
// never retried by the engine itself. Store-layer failures pass through
// unwrapped in any of these.

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string { return e.Message }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func NewValidationError(msg string) error   { return &ValidationError{Message: msg} }
func NewNotFoundError(msg string) error     { return &NotFoundError{Message: msg} }
func NewInvalidStateError(msg string) error { return &InvalidStateError{Message: msg} }
func NewConflictError(msg string) error     { return &ConflictError{Message: msg} }

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}
