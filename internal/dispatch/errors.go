package dispatch

import "errors"

// Sentinel errors for the dispatch package.
var (
	// ErrNilHandler is returned when a nil handler is added.
	ErrNilHandler = errors.New("handler is nil")

	// ErrDuplicateHandler is returned when a (handler, group) pair is already registered.
	ErrDuplicateHandler = errors.New("handler is already registered in group")

	// ErrUncomparableHandler is returned when a handler has no identity to
	// match on removal (for example a bare HandlerFunc).
	ErrUncomparableHandler = errors.New("handler type is not comparable")

	// ErrStopPropagation may be returned by a handler to stop delivery to later groups.
	ErrStopPropagation = errors.New("stop propagation")
)
