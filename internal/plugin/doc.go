// Package plugin admits, activates and retires extension units.
//
// A unit is Lua code that contributes event handlers and help commands to
// the host. Two on-disk formats share one lifecycle:
//
//	modules/<name>/module.json          Standard: manifest + sources/main.lua
//	modules/<name>/sources/main.lua
//	dragon_modules/<name>.lua           Compat: one legacy script
//
// # Lifecycle
//
// Loader.Load moves a name through
//
//	Absent -> Validated -> Scanned -> Active
//
// Validation checks the name, the layout and module.json. Scanning runs
// the scan package over every source file and refuses the unit if anything
// is flagged. Activation runs the entry file in a fresh sandboxed state and
// collects the handlers the unit exports. Registration adds those handlers
// to the host's handler table and the unit's commands to the HelpCatalog,
// atomically with respect to event delivery. A failure at any step leaves
// the name Absent with nothing registered.
//
// Loader.Unload reverses registration, closes the unit's state and,
// optionally, deletes its files. The names in DefaultProtected cannot be
// unloaded.
//
// # Exports
//
// A unit exports handlers through global tables with a handlers list:
//
//	greeter = {
//	    handlers = {
//	        { function(event) return "hello " .. event.text end, 10 },
//	    },
//	}
//
// Each entry is a function and the dispatch group it runs in. Tables are
// read in name order and entries in list order. Commands come from the
// manifest's commands list, or else from global functions named <cmd>_cmd.
// Compat units describe their commands in the modules_help table instead:
//
//	modules_help["greeter"] = { ["greet <name>"] = "say hello" }
//
// # Errors
//
// Every Loader error matches one of the Err* sentinels with errors.Is.
// A scanner refusal is a *SecurityError carrying the flagged names.
package plugin
