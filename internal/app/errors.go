package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrInitialization indicates a component failed to start.
	ErrInitialization = errors.New("initialization failed")
)

// InitError names the component that failed during bootstrap.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInitialization, e.Component, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitError) Unwrap() error {
	return e.Err
}

// Is matches ErrInitialization.
func (e *InitError) Is(target error) bool {
	return target == ErrInitialization
}
