package dispatch

import (
	"context"
	"runtime/debug"
	"time"
)

// Executor runs a single handler with panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
	timeout      time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPanicHandler sets the panic handler for the executor.
func WithPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		e.panicHandler = h
	}
}

// WithHandlerTimeout bounds each handler call. The handler must respect
// context cancellation for this to be effective.
func WithHandlerTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a handler with the given event and returns the result.
func (e *Executor) Execute(ctx context.Context, event any, handler Handler) (result Result) {
	select {
	case <-ctx.Done():
		return Result{Error: ctx.Err(), Skipped: true}
	default:
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Success = false
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack

			if e.panicHandler != nil {
				func() {
					defer func() {
						_ = recover()
					}()
					e.panicHandler(event, r, stack)
				}()
			}
		}
	}()

	if err := handler.Handle(ctx, event); err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	return result
}
