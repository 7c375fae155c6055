package plugin

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/dshills/modgate/internal/dispatch"
)

// Registry is the authoritative set of active units. Admit and Remove hold
// the write lock for the whole mutation, so handler registration, the
// catalog entry and the active set change together.
type Registry struct {
	mu sync.RWMutex

	units map[Key]*Unit

	// Admission order.
	order []Key

	catalog   *HelpCatalog
	registrar *Registrar
}

// NewRegistry creates a registry that registers handlers on table.
func NewRegistry(table dispatch.HandlerTable) *Registry {
	return &Registry{
		units:     make(map[Key]*Unit),
		catalog:   NewHelpCatalog(),
		registrar: NewRegistrar(table),
	}
}

// Catalog returns the help catalog maintained by the registry.
func (r *Registry) Catalog() *HelpCatalog {
	return r.catalog
}

// Admit registers the unit's handlers, adds its catalog entry and records it
// as active. On error nothing is changed.
func (r *Registry) Admit(u *Unit) error {
	key := u.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[key]; exists {
		return fmt.Errorf("%s unit %q: %w", key.Kind, key.Name, ErrAlreadyActive)
	}
	if err := r.registrar.Register(u.Handlers); err != nil {
		return fmt.Errorf("%s unit %q: %w", key.Kind, key.Name, err)
	}

	r.catalog.Add(key, u.Commands, u.Help)
	r.units[key] = u
	r.order = append(r.order, key)
	return nil
}

// Remove deregisters the unit's handlers, drops its catalog entry, forgets
// it and closes its runtime. Every step runs even if an earlier one fails;
// the unit is gone when Remove returns, and the error reports what failed.
func (r *Registry) Remove(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, exists := r.units[key]
	if !exists {
		return fmt.Errorf("%s unit %q: %w", key.Kind, key.Name, ErrNotActive)
	}

	errs := r.registrar.Deregister(u.Handlers)
	r.catalog.Remove(key)
	delete(r.units, key)
	r.order = slices.DeleteFunc(r.order, func(k Key) bool { return k == key })
	if err := u.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close runtime: %w", err))
	}

	if errs != nil {
		return fmt.Errorf("%s unit %q: %w", key.Kind, key.Name, errs)
	}
	return nil
}

// IsActive reports whether key is active.
func (r *Registry) IsActive(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.units[key]
	return ok
}

// Get returns a view of the active unit for key.
func (r *Registry) Get(key Key) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.units[key]
	if !ok {
		return Info{}, false
	}
	return u.info(), true
}

// List returns the active units in admission order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.units[key].info())
	}
	return out
}

// Keys returns the active keys in admission order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of active units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}
