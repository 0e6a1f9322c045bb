package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable the backend could not be reached or answered with a server error
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendResponseInvalid the backend answered with something that is not the expected document
	ErrBackendResponseInvalid = errors.New("backend response invalid")
)

// Error captures the state of a failed backend request.
type Error struct {
	Kind    error
	Path    string
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Path)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Is reports whether target is the error kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the associated cause
func (e *Error) Unwrap() error {
	return e.Cause
}
