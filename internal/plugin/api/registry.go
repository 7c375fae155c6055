package api

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/modgate/internal/plugin"
)

// Module is a Lua module that units load with require.
type Module interface {
	// Name returns the name passed to require.
	Name() string

	// Open builds the module table in L.
	Open(L *lua.LState) *lua.LTable
}

// Registry holds the host modules offered to units.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// Register adds a module. Names must be unique.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}
	r.modules[mod.Name()] = mod
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns the registered module names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

// Loader returns the require loader for mod.
func Loader(mod Module) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(mod.Open(L))
		return 1
	}
}

// Options returns one activator option per registered module, so every
// unit state can require them.
func (r *Registry) Options() []plugin.ActivatorOption {
	r.mu.RLock()
	defer r.mu.RUnlock()

	opts := make([]plugin.ActivatorOption, 0, len(r.modules))
	for _, name := range r.listLocked() {
		opts = append(opts, plugin.WithModule(name, Loader(r.modules[name])))
	}
	return opts
}

func (r *Registry) listLocked() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
