package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrConflict             = errors.New("conflict")
	ErrNotFound             = errors.New("not found")
	ErrInsufficientDoses    = errors.New("not enough available doses")
	ErrNoCaregiverAvailable = errors.New("no caregiver is available")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrStorage              = errors.New("storage failure")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// StorageError marks a persistence collaborator failure. It is never
// retried and never reported as a domain outcome.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// StorageFailure wraps err as a *StorageError unless it already is one.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var sErr *StorageError
	if errors.As(err, &sErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
