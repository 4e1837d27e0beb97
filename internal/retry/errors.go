package retry

import (
	"errors"
	"fmt"
)

// ErrInvalidMaxAttempts is returned when a Caller is configured with a
// non-positive attempt cap.
var ErrInvalidMaxAttempts = errors.New("retry: max attempts must be positive")

// PermanentError marks an error that must not be retried, such as a request
// the caller can statically tell is malformed or a 4xx remote rejection.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the Caller fails immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retriable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// AttemptsError is the terminal failure after the attempt cap is exhausted.
// It carries the number of attempts made and wraps the last observed error.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error {
	return e.Err
}
