// Package api provides the Go-implemented modules unit code can require.
//
// Units run in a sandbox where require only resolves the safe standard
// libraries and modules preloaded by the host. This package supplies the
// host modules:
//
//   - modgate: host identity, owner checks, active unit listing and logging
//   - text: string helpers for parsing command arguments
//
// A Registry collects modules and converts them into activator options:
//
//	reg := api.NewRegistry()
//	_ = reg.Register(api.NewHostModule(host))
//	_ = reg.Register(api.NewTextModule())
//	activator := plugin.NewLuaActivator(reg.Options()...)
//
// Unit code then uses them like any other module:
//
//	local text = require("text")
//	local args = text.words(event.text)
package api
