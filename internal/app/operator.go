package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/modgate/internal/dispatch"
	"github.com/dshills/modgate/internal/plugin"
)

// CommandPrefix starts every operator command.
const CommandPrefix = "."

// Operator answers the operator commands:
//
//	.load <name> [-f]          load a Standard unit; -f skips the scan
//	.unload <name> [-r]        unload it; -r also deletes its files
//	.loadcompat <name> [-f]    the same for Compat units
//	.unloadcompat <name> [-r]
//	.help [name]               commands of every active unit, or of one
//	.list                      active units
//
// Handled commands stop propagation; anything else passes through.
type Operator struct {
	loader *plugin.Loader
}

// NewOperator creates the operator handler.
func NewOperator(loader *plugin.Loader) *Operator {
	return &Operator{loader: loader}
}

// Handle runs the command in a *dispatch.Event, replying on the event.
func (o *Operator) Handle(ctx context.Context, event any) error {
	ev, ok := event.(*dispatch.Event)
	if !ok {
		return nil
	}
	reply, handled := o.Exec(ctx, ev.Text)
	if !handled {
		return nil
	}
	ev.Respond(reply)
	return dispatch.ErrStopPropagation
}

// Exec runs one command line and returns the reply. handled is false when
// the line is not an operator command.
func (o *Operator) Exec(ctx context.Context, line string) (reply string, handled bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], CommandPrefix) {
		return "", false
	}
	cmd := strings.TrimPrefix(fields[0], CommandPrefix)
	name, flags := splitArgs(fields[1:])

	switch cmd {
	case "load":
		return o.load(ctx, plugin.KindStandard, name, flags), true
	case "loadcompat":
		return o.load(ctx, plugin.KindCompat, name, flags), true
	case "unload":
		return o.unload(ctx, plugin.KindStandard, name, flags), true
	case "unloadcompat":
		return o.unload(ctx, plugin.KindCompat, name, flags), true
	case "help":
		return o.help(name), true
	case "list":
		return o.list(), true
	}
	return "", false
}

func splitArgs(args []string) (name string, flags map[string]bool) {
	flags = make(map[string]bool)
	for _, a := range args {
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			flags[strings.TrimLeft(a, "-")] = true
			continue
		}
		if name == "" {
			name = a
		}
	}
	return name, flags
}

func (o *Operator) load(ctx context.Context, kind plugin.Kind, name string, flags map[string]bool) string {
	if name == "" {
		return fmt.Sprintf("Usage: .%s <name> [-f]", loadVerb(kind))
	}

	var opts []plugin.LoadOption
	if flags["f"] {
		opts = append(opts, plugin.WithoutScan())
	}

	var err error
	if kind == plugin.KindCompat {
		err = o.loader.LoadCompat(ctx, name, opts...)
	} else {
		err = o.loader.Load(ctx, name, opts...)
	}

	var serr *plugin.SecurityError
	switch {
	case err == nil:
		info, _ := o.loader.Registry().Get(plugin.Key{Kind: kind, Name: name})
		return fmt.Sprintf("Loaded %s (%d handlers, commands: %s)", name, info.Handlers, joinOrNone(info.Commands))
	case errors.As(err, &serr):
		return fmt.Sprintf("Rejected %s: flagged %s", name, strings.Join(serr.Items, ", "))
	default:
		return fmt.Sprintf("Cannot load %s: %v", name, err)
	}
}

func (o *Operator) unload(ctx context.Context, kind plugin.Kind, name string, flags map[string]bool) string {
	if name == "" {
		return fmt.Sprintf("Usage: .un%s <name> [-r]", loadVerb(kind))
	}

	remove := flags["r"]
	var err error
	if kind == plugin.KindCompat {
		err = o.loader.UnloadCompat(ctx, name, remove)
	} else {
		err = o.loader.Unload(ctx, name, remove)
	}

	switch {
	case err != nil:
		return fmt.Sprintf("Cannot unload %s: %v", name, err)
	case remove:
		return fmt.Sprintf("Unloaded %s and removed its files", name)
	default:
		return fmt.Sprintf("Unloaded %s", name)
	}
}

func loadVerb(kind plugin.Kind) string {
	if kind == plugin.KindCompat {
		return "loadcompat"
	}
	return "load"
}

func (o *Operator) help(name string) string {
	entries := o.loader.Catalog().List()
	if len(entries) == 0 {
		return "No units loaded"
	}

	var b strings.Builder
	for _, e := range entries {
		if name != "" && e.Name != name {
			continue
		}
		label := e.Name
		if e.Compat {
			label += " (compat)"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, joinOrNone(e.Commands))
		if name != "" {
			usages := make([]string, 0, len(e.Help))
			for usage := range e.Help {
				usages = append(usages, usage)
			}
			sort.Strings(usages)
			for _, usage := range usages {
				fmt.Fprintf(&b, "  %s%s - %s\n", CommandPrefix, usage, e.Help[usage])
			}
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("Unit %s is not loaded", name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Operator) list() string {
	infos := o.loader.Registry().List()
	if len(infos) == 0 {
		return "No units loaded"
	}

	lines := make([]string, 0, len(infos))
	for _, info := range infos {
		line := fmt.Sprintf("%s [%s]", info.Name, info.Kind)
		if info.Version != "" {
			line += " v" + info.Version
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
