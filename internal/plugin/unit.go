package plugin

import (
	"fmt"
	"io"
	"slices"

	"github.com/dshills/modgate/internal/dispatch"
)

// Kind is the on-disk format of a unit.
type Kind int

const (
	// KindStandard is a directory with module.json and sources/main.lua.
	KindStandard Kind = iota

	// KindCompat is a single legacy script file.
	KindCompat
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindCompat:
		return "compat"
	default:
		return "unknown"
	}
}

// Key identifies a unit. The same name may exist once per kind.
type Key struct {
	Kind Kind
	Name string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.Name)
}

// HandlerPair is one handler contribution: the handler and its dispatch group.
type HandlerPair struct {
	Handler dispatch.Handler
	Group   int
}

// Unit is an activated extension.
type Unit struct {
	Name     string
	Kind     Kind
	Dir      string
	Entry    string
	Manifest *Manifest

	// Handlers in contribution order.
	Handlers []HandlerPair

	// Commands listed in the help catalog.
	Commands []string

	// Help holds usage descriptions reported by Compat units.
	Help map[string]string

	// Runtime is closed when the unit leaves the registry.
	Runtime io.Closer
}

// Key returns the unit's registry key.
func (u *Unit) Key() Key {
	return Key{Kind: u.Kind, Name: u.Name}
}

// Close releases the unit's runtime.
func (u *Unit) Close() error {
	if u.Runtime == nil {
		return nil
	}
	return u.Runtime.Close()
}

// Info is a read-only view of an active unit.
type Info struct {
	Name     string
	Kind     Kind
	Dir      string
	Version  string
	Commands []string
	Handlers int
}

func (u *Unit) info() Info {
	info := Info{
		Name:     u.Name,
		Kind:     u.Kind,
		Dir:      u.Dir,
		Commands: slices.Clone(u.Commands),
		Handlers: len(u.Handlers),
	}
	if u.Manifest != nil {
		info.Version = u.Manifest.Version
	}
	return info
}
