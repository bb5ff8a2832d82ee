// Package apperrors holds the error taxonomy shared by the host components.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a signed-in user and there is none.
	ErrNotAuthenticated = errors.New("user not authenticated")
	// ErrNoActiveGame is returned when an operation needs an active game and none is loaded.
	ErrNoActiveGame = errors.New("no game currently loaded")
	// ErrSaveNotFound is returned when a save record does not exist for the user.
	ErrSaveNotFound = errors.New("save not found")
	// ErrValidation matches any ValidationError with errors.Is.
	ErrValidation = errors.New("validation failure")
	// ErrStorage matches any StorageError with errors.Is.
	ErrStorage = errors.New("storage failure")
)

// ValidationError reports a malformed message or an out-of-range value.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failure: %s", e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps a failure of the document or blob store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Storage wraps err as a StorageError for the given operation.
func Storage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
