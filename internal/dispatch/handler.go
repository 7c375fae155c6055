package dispatch

import (
	"context"
	"time"
)

// Handler is the interface for event handlers.
type Handler interface {
	Handle(ctx context.Context, event any) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
// Function values are not comparable, so a HandlerFunc must be registered
// through a pointer (see NewHandlerFunc) to be removable.
type HandlerFunc func(ctx context.Context, event any) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event any) error {
	return f(ctx, event)
}

type funcHandler struct {
	fn HandlerFunc
}

func (h *funcHandler) Handle(ctx context.Context, event any) error {
	return h.fn(ctx, event)
}

// NewHandlerFunc wraps fn in a handler with pointer identity.
func NewHandlerFunc(fn HandlerFunc) Handler {
	return &funcHandler{fn: fn}
}

// HandlerTable is the mutation surface of a dispatcher.
type HandlerTable interface {
	// AddHandler registers h in group. Adding an already registered pair
	// returns ErrDuplicateHandler.
	AddHandler(h Handler, group int) error

	// RemoveHandler unregisters h from group. Removing a pair that is not
	// registered is a no-op.
	RemoveHandler(h Handler, group int) error
}

// Batcher is implemented by tables that can apply several mutations
// atomically with respect to event delivery.
type Batcher interface {
	Batch(fn func(t HandlerTable) error) error
}

// Result represents the outcome of a handler execution.
type Result struct {
	// Success is true if the handler completed without error or panic.
	Success bool

	// Error is the error returned by the handler, if any.
	Error error

	// Panicked is true if the handler panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the handler took to execute.
	Duration time.Duration

	// Skipped is true if the handler was not executed (e.g., context cancelled).
	Skipped bool

	// Group is the group the handler was registered in.
	Group int
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsError returns true if the result indicates an error (not panic).
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked
}

// IsPanic returns true if the result indicates a panic.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// PanicHandler is called when a handler panics during execution.
// It receives the event being processed, the panic value, and the stack trace.
type PanicHandler func(event any, panicValue any, stack []byte)
