package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key or id does not exist, distinct from
// transient storage failures.
var ErrNotFound = errors.New("not found")

// FetchError wraps any failure to retrieve a source image: a non-success
// response, an unexpected content type, or a timeout.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DimensionError reports a vector whose length disagrees with the index's
// configured fixed dimension. Mismatched vectors are rejected, never
// truncated.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match expected %d", e.Got, e.Want)
}

// ValidationError reports input rejected before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

// SetupError reports a collaborator that could not be initialized. It is
// fatal to the whole job; nothing is attempted after it.
type SetupError struct {
	Component string
	Err       error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Component, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
