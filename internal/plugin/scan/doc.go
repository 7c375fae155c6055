// Package scan statically inspects extension source before it is allowed
// to run.
//
// The scanner parses Lua source into a syntax tree and walks every call
// expression. Two call shapes are flagged:
//
//   - a call whose target is a plain name on the disallowed-function list,
//     e.g. exec("...") or DeleteAccount()
//   - a field call on the result of require with a literal module name on
//     the disallowed-module list, e.g. require("os").execute("...")
//
// This is a syntactic admission filter, not a sandbox. It only sees direct,
// unobfuscated calls. Any indirection defeats it:
//
//	local run = exec; run("x")          -- aliasing
//	_G["ex" .. "ec"]("x")               -- computed names
//	local os = require("os"); os.exit() -- module bound to a local
//	require("os"):exit()                -- method-call form
//
// Callers must not treat an empty result as proof that a unit is safe.
// Runtime restrictions live in the Lua sandbox, not here.
package scan
