package dispatch

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

type entry struct {
	handler Handler
	group   int
}

// Router is a grouped handler table with concurrent event delivery.
type Router struct {
	mu sync.RWMutex

	// groups maps group number to handlers in registration order.
	groups map[int][]Handler

	// order caches the sorted group numbers.
	order []int

	executor *Executor

	dispatched atomic.Uint64
	failed     atomic.Uint64
	panicked   atomic.Uint64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithExecutor sets the executor used to run handlers.
func WithExecutor(e *Executor) RouterOption {
	return func(r *Router) {
		r.executor = e
	}
}

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		groups:   make(map[int][]Handler),
		executor: NewExecutor(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddHandler registers h in group.
func (r *Router) AddHandler(h Handler, group int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(h, group)
}

// RemoveHandler unregisters h from group.
func (r *Router) RemoveHandler(h Handler, group int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(h, group)
}

// Batch runs fn with exclusive access to the handler table.
// Mutations made by fn become visible to Dispatch all at once.
// If fn returns an error, mutations already applied are kept; callers
// roll back explicitly.
func (r *Router) Batch(fn func(t HandlerTable) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(lockedTable{r: r})
}

// lockedTable is the view handed to Batch callbacks. It must only be used
// while the router's write lock is held.
type lockedTable struct {
	r *Router
}

func (t lockedTable) AddHandler(h Handler, group int) error {
	return t.r.add(h, group)
}

func (t lockedTable) RemoveHandler(h Handler, group int) error {
	return t.r.remove(h, group)
}

// add must be called with mu held.
func (r *Router) add(h Handler, group int) error {
	if h == nil {
		return ErrNilHandler
	}
	if !reflect.TypeOf(h).Comparable() {
		return ErrUncomparableHandler
	}
	handlers, exists := r.groups[group]
	for _, existing := range handlers {
		if existing == h {
			return ErrDuplicateHandler
		}
	}
	r.groups[group] = append(handlers, h)
	if !exists {
		r.order = append(r.order, group)
		sort.Ints(r.order)
	}
	return nil
}

// remove must be called with mu held.
func (r *Router) remove(h Handler, group int) error {
	handlers, ok := r.groups[group]
	if !ok {
		return nil
	}
	for i, existing := range handlers {
		if existing != h {
			continue
		}
		handlers = append(handlers[:i:i], handlers[i+1:]...)
		if len(handlers) == 0 {
			delete(r.groups, group)
			r.removeGroup(group)
		} else {
			r.groups[group] = handlers
		}
		return nil
	}
	return nil
}

func (r *Router) removeGroup(group int) {
	for i, g := range r.order {
		if g == group {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// snapshot returns the handlers in delivery order.
func (r *Router) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []entry
	for _, g := range r.order {
		for _, h := range r.groups[g] {
			entries = append(entries, entry{handler: h, group: g})
		}
	}
	return entries
}

// Dispatch delivers event to every registered handler and returns one
// result per handler that was considered. A handler returning
// ErrStopPropagation ends delivery after its group completes.
func (r *Router) Dispatch(ctx context.Context, event any) []Result {
	entries := r.snapshot()
	results := make([]Result, 0, len(entries))

	stopAfter := 0
	stopped := false
	for _, e := range entries {
		if stopped && e.group != stopAfter {
			break
		}

		r.dispatched.Add(1)
		res := r.executor.Execute(ctx, event, e.handler)
		res.Group = e.group

		switch {
		case res.Panicked:
			r.panicked.Add(1)
		case errors.Is(res.Error, ErrStopPropagation):
			stopped = true
			stopAfter = e.group
			res.Error = nil
			res.Success = true
		case res.Error != nil:
			r.failed.Add(1)
		}
		results = append(results, res)
	}
	return results
}

// Len returns the number of registered (handler, group) pairs.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, handlers := range r.groups {
		n += len(handlers)
	}
	return n
}

// Has reports whether h is registered in group.
func (r *Router) Has(h Handler, group int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, existing := range r.groups[group] {
		if existing == h {
			return true
		}
	}
	return false
}

// Groups returns the group numbers that currently hold handlers, ascending.
func (r *Router) Groups() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.order...)
}

// RouterStats contains delivery statistics.
type RouterStats struct {
	Dispatched uint64
	Failed     uint64
	Panicked   uint64
}

// Stats returns delivery statistics.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Dispatched: r.dispatched.Load(),
		Failed:     r.failed.Load(),
		Panicked:   r.panicked.Load(),
	}
}

var (
	_ HandlerTable = (*Router)(nil)
	_ Batcher      = (*Router)(nil)
)
