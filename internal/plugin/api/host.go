package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/modgate/internal/logging"
	"github.com/dshills/modgate/internal/plugin"
)

// HostModuleName is the name units require to reach the host.
const HostModuleName = "modgate"

// HostModule exposes the host to unit code:
//
//	local host = require("modgate")
//	host.version              -- host version string
//	host.is_owner(id)         -- whether id is on the owner roster
//	host.units()              -- {{name=, compat=, commands={...}}, ...}
//	host.log(msg), host.warn(msg)
type HostModule struct {
	version string
	roster  plugin.Roster
	catalog func() []plugin.CatalogEntry
	logger  *logging.Logger
}

// HostOption configures a HostModule.
type HostOption func(*HostModule)

// WithVersion sets the version string units see.
func WithVersion(v string) HostOption {
	return func(m *HostModule) {
		m.version = v
	}
}

// WithRoster sets the roster behind is_owner.
func WithRoster(r plugin.Roster) HostOption {
	return func(m *HostModule) {
		m.roster = r
	}
}

// WithCatalog sets the source of the units listing. It must not block on
// the registry: handlers call it while their unit's state is locked.
func WithCatalog(fn func() []plugin.CatalogEntry) HostOption {
	return func(m *HostModule) {
		m.catalog = fn
	}
}

// WithLogger sets the logger behind log and warn.
func WithLogger(l *logging.Logger) HostOption {
	return func(m *HostModule) {
		m.logger = l
	}
}

// NewHostModule creates the host module.
func NewHostModule(opts ...HostOption) *HostModule {
	m := &HostModule{
		version: "dev",
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the module name.
func (m *HostModule) Name() string {
	return HostModuleName
}

// Open builds the module table.
func (m *HostModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "version", lua.LString(m.version))
	L.SetField(mod, "is_owner", L.NewFunction(m.isOwner))
	L.SetField(mod, "units", L.NewFunction(m.units))
	L.SetField(mod, "log", L.NewFunction(m.log))
	L.SetField(mod, "warn", L.NewFunction(m.warn))
	return mod
}

// is_owner(id) -> bool
func (m *HostModule) isOwner(L *lua.LState) int {
	id := L.CheckInt64(1)
	L.Push(lua.LBool(m.roster != nil && m.roster.IsOwner(id)))
	return 1
}

// units() -> {{name, compat, commands}}
func (m *HostModule) units(L *lua.LState) int {
	result := L.NewTable()
	if m.catalog == nil {
		L.Push(result)
		return 1
	}

	for _, entry := range m.catalog() {
		t := L.NewTable()
		L.SetField(t, "name", lua.LString(entry.Name))
		L.SetField(t, "compat", lua.LBool(entry.Compat))
		cmds := L.NewTable()
		for _, c := range entry.Commands {
			cmds.Append(lua.LString(c))
		}
		L.SetField(t, "commands", cmds)
		result.Append(t)
	}
	L.Push(result)
	return 1
}

func (m *HostModule) log(L *lua.LState) int {
	m.logger.Info("%s", L.CheckString(1))
	return 0
}

func (m *HostModule) warn(L *lua.LState) int {
	m.logger.Warn("%s", L.CheckString(1))
	return 0
}
