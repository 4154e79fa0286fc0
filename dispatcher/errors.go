package dispatcher

import (
	"errors"
	"fmt"
)

// RetryableError marks a handler failure worth another attempt on a later
// pass. Handler errors that are not a FatalError are treated as retryable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// FatalError marks a handler failure that no retry can fix. The item is
// failed immediately regardless of its remaining retry budget.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Fatal wraps err as a FatalError
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
