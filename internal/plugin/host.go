package plugin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/modgate/internal/logging"
	plua "github.com/dshills/modgate/internal/plugin/lua"
)

// Names visible to unit code.
const (
	// HelpGlobal is the table Compat units describe their commands in.
	HelpGlobal = "modules_help"

	// HandlersField is the field of a global table that lists handler pairs.
	HandlersField = "handlers"

	// CommandSuffix marks a global function as a command.
	CommandSuffix = "_cmd"
)

// Activator turns a validated descriptor into a live unit.
type Activator interface {
	Activate(ctx context.Context, d *Descriptor) (*Unit, error)
}

// LuaActivator runs units in sandboxed gopher-lua states.
type LuaActivator struct {
	logger      *logging.Logger
	callTimeout time.Duration
	modules     map[string]lua.LGFunction
}

// ActivatorOption configures a LuaActivator.
type ActivatorOption func(*LuaActivator)

// WithActivatorLogger sets the logger that receives unit print output.
func WithActivatorLogger(l *logging.Logger) ActivatorOption {
	return func(a *LuaActivator) {
		a.logger = l
	}
}

// WithCallTimeout bounds each entry into unit code.
func WithCallTimeout(d time.Duration) ActivatorOption {
	return func(a *LuaActivator) {
		a.callTimeout = d
	}
}

// WithModule exposes a Go-implemented module to unit code through require.
func WithModule(name string, loader lua.LGFunction) ActivatorOption {
	return func(a *LuaActivator) {
		a.modules[name] = loader
	}
}

// NewLuaActivator creates an activator.
func NewLuaActivator(opts ...ActivatorOption) *LuaActivator {
	a := &LuaActivator{
		logger:      logging.Discard(),
		callTimeout: plua.DefaultCallTimeout,
		modules:     make(map[string]lua.LGFunction),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Activate creates a state, runs the unit's entry and collects its
// handlers and commands. The entry bytes already read into d.Code are run
// when present; otherwise the entry file is read. Errors wrap ErrActivation; the state is closed on
// failure.
func (a *LuaActivator) Activate(ctx context.Context, d *Descriptor) (*Unit, error) {
	log := a.logger.WithFields(map[string]any{"unit": d.Name, "kind": d.Kind.String()})

	state, err := plua.NewState(
		plua.WithCallTimeout(a.callTimeout),
		plua.WithPrint(func(line string) { log.Info("%s", line) }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrActivation, err)
	}
	for name, loader := range a.modules {
		state.Sandbox().Preload(name, loader)
	}

	unit, err := a.activate(ctx, state, d)
	if err != nil {
		_ = state.Close()
		return nil, fmt.Errorf("%s unit %q: %w: %w", d.Kind, d.Name, ErrActivation, err)
	}
	return unit, nil
}

func (a *LuaActivator) activate(ctx context.Context, state *plua.State, d *Descriptor) (*Unit, error) {
	if d.Kind == KindCompat {
		err := state.Invoke(ctx, func(b *plua.Bridge) error {
			b.L.SetGlobal(HelpGlobal, b.NewTable())
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	code := d.Code
	if code == nil {
		var err error
		if code, err = os.ReadFile(d.Entry); err != nil {
			return nil, err
		}
	}
	if err := state.DoChunk(ctx, d.Entry, code); err != nil {
		return nil, err
	}

	unit := &Unit{
		Name:     d.Name,
		Kind:     d.Kind,
		Dir:      d.Dir,
		Entry:    d.Entry,
		Manifest: d.Manifest,
		Runtime:  state,
	}

	err := state.Invoke(ctx, func(b *plua.Bridge) error {
		pairs, err := exportHandlers(b, state, d.Name)
		if err != nil {
			return err
		}
		unit.Handlers = pairs

		if d.Kind == KindCompat {
			table := readCommandTable(b)
			unit.Commands = table.Commands()
			unit.Help = table.Help()
			return nil
		}
		if d.Manifest != nil && d.Manifest.Commands != nil {
			unit.Commands = append([]string(nil), d.Manifest.Commands...)
			return nil
		}
		unit.Commands = commandFunctions(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// exportHandlers collects the handler pairs of every global table that has a
// handlers field. Tables are visited in name order, pairs in list order.
// A handlers field that is not a table is ignored; a table that is not a
// list of {function, group} pairs is an error.
func exportHandlers(b *plua.Bridge, state *plua.State, unit string) ([]HandlerPair, error) {
	var names []string
	b.Globals().ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok || name == "_G" {
			return
		}
		if _, ok := v.(*lua.LTable); ok {
			names = append(names, string(name))
		}
	})
	sort.Strings(names)

	var pairs []HandlerPair
	for _, name := range names {
		obj, _ := b.GetTableTable(b.Globals(), name)
		list, ok := b.GetTableTable(obj, HandlersField)
		if !ok {
			continue
		}
		items, ok := plua.Sequence(list)
		if !ok {
			return nil, fmt.Errorf("%s.%s is not a list", name, HandlersField)
		}
		for i, item := range items {
			pair, err := handlerPair(item)
			if err != nil {
				return nil, fmt.Errorf("%s.%s[%d]: %w", name, HandlersField, i+1, err)
			}
			pairs = append(pairs, HandlerPair{
				Handler: &LuaHandler{
					unit:   unit,
					object: name,
					index:  i + 1,
					state:  state,
					fn:     pair.fn,
				},
				Group: pair.group,
			})
		}
	}
	return pairs, nil
}

type luaPair struct {
	fn    *lua.LFunction
	group int
}

func handlerPair(item lua.LValue) (luaPair, error) {
	t, ok := item.(*lua.LTable)
	if !ok {
		return luaPair{}, fmt.Errorf("expected {function, group}, got %s", item.Type())
	}
	fn, ok := t.RawGetInt(1).(*lua.LFunction)
	if !ok {
		return luaPair{}, fmt.Errorf("first element must be a function, got %s", t.RawGetInt(1).Type())
	}
	num, ok := t.RawGetInt(2).(lua.LNumber)
	if !ok || float64(num) != float64(int(num)) {
		return luaPair{}, fmt.Errorf("second element must be an integer group, got %s", t.RawGetInt(2).String())
	}
	return luaPair{fn: fn, group: int(num)}, nil
}

// commandFunctions returns the names of global functions ending in _cmd,
// without the suffix, sorted.
func commandFunctions(b *plua.Bridge) []string {
	var cmds []string
	b.Globals().ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if _, ok := v.(*lua.LFunction); !ok {
			return
		}
		if cmd, ok := strings.CutSuffix(string(name), CommandSuffix); ok && cmd != "" {
			cmds = append(cmds, cmd)
		}
	})
	sort.Strings(cmds)
	return cmds
}

// readCommandTable converts the modules_help global into a CommandTable.
// Entries that are not string-keyed tables of strings are skipped.
func readCommandTable(b *plua.Bridge) CommandTable {
	root, ok := b.GetTableTable(b.Globals(), HelpGlobal)
	if !ok {
		return nil
	}

	table := make(CommandTable)
	root.ForEach(func(k, _ lua.LValue) {
		module, ok := k.(lua.LString)
		if !ok {
			return
		}
		usages, ok := b.GetTableTable(root, string(module))
		if !ok {
			return
		}
		entry := make(map[string]string)
		usages.ForEach(func(uk, uv lua.LValue) {
			usage, ok := uk.(lua.LString)
			if !ok {
				return
			}
			entry[string(usage)] = lua.LVAsString(uv)
		})
		table[string(module)] = entry
	})
	return table
}
