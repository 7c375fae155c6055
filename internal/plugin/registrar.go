package plugin

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/dshills/modgate/internal/dispatch"
)

// Registrar adds and removes handler pairs on the host's handler table.
// When the table implements dispatch.Batcher, each Register and Deregister
// call is applied as one batch, so event delivery never observes a partial
// contribution.
type Registrar struct {
	table dispatch.HandlerTable
}

// NewRegistrar creates a registrar over table.
func NewRegistrar(table dispatch.HandlerTable) *Registrar {
	return &Registrar{table: table}
}

func (r *Registrar) apply(fn func(t dispatch.HandlerTable) error) error {
	if b, ok := r.table.(dispatch.Batcher); ok {
		return b.Batch(fn)
	}
	return fn(r.table)
}

// Register adds pairs in order. If pair i fails, pairs [0, i) are removed
// again and the returned error wraps ErrRegistration.
func (r *Registrar) Register(pairs []HandlerPair) error {
	return r.apply(func(t dispatch.HandlerTable) error {
		for i, p := range pairs {
			err := t.AddHandler(p.Handler, p.Group)
			if err == nil {
				continue
			}
			err = fmt.Errorf("%w: handler %d in group %d: %w", ErrRegistration, i, p.Group, err)
			return multierr.Append(err, rollback(t, pairs[:i]))
		}
		return nil
	})
}

// rollback removes pairs in reverse order, continuing past failures.
func rollback(t dispatch.HandlerTable, pairs []HandlerPair) error {
	var errs error
	for i := len(pairs) - 1; i >= 0; i-- {
		p := pairs[i]
		if err := t.RemoveHandler(p.Handler, p.Group); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rollback handler %d in group %d: %w", i, p.Group, err))
		}
	}
	return errs
}

// Deregister removes every pair, continuing past failures, and returns the
// combined error.
func (r *Registrar) Deregister(pairs []HandlerPair) error {
	return r.apply(func(t dispatch.HandlerTable) error {
		var errs error
		for i, p := range pairs {
			if err := t.RemoveHandler(p.Handler, p.Group); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("remove handler %d in group %d: %w", i, p.Group, err))
			}
		}
		return errs
	})
}
