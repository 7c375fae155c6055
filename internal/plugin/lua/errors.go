package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotFunction is returned when a called value is not a function.
	ErrNotFunction = errors.New("lua value is not a function")
)
