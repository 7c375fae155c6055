package api

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// TextModuleName is the name units require for the string helpers.
const TextModuleName = "text"

// TextModule implements string helpers for command parsing.
type TextModule struct{}

// NewTextModule creates the text module.
func NewTextModule() *TextModule {
	return &TextModule{}
}

// Name returns the module name.
func (m *TextModule) Name() string {
	return TextModuleName
}

// Open builds the module table.
func (m *TextModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "split", L.NewFunction(m.split))
	L.SetField(mod, "words", L.NewFunction(m.words))
	L.SetField(mod, "trim", L.NewFunction(m.trim))
	L.SetField(mod, "starts_with", L.NewFunction(m.startsWith))
	L.SetField(mod, "ends_with", L.NewFunction(m.endsWith))
	L.SetField(mod, "contains", L.NewFunction(m.contains))
	L.SetField(mod, "escape_pattern", L.NewFunction(m.escapePattern))
	L.SetField(mod, "lines", L.NewFunction(m.lines))
	L.SetField(mod, "join", L.NewFunction(m.join))
	return mod
}

func pushStrings(L *lua.LState, parts []string) {
	tbl := L.NewTable()
	for i, part := range parts {
		tbl.RawSetInt(i+1, lua.LString(part))
	}
	L.Push(tbl)
}

// split(str, sep) -> {parts}
func (m *TextModule) split(L *lua.LState) int {
	pushStrings(L, strings.Split(L.CheckString(1), L.CheckString(2)))
	return 1
}

// words(str) -> {words}
// Splits on runs of whitespace; ".load  greeter" gives {".load", "greeter"}.
func (m *TextModule) words(L *lua.LState) int {
	pushStrings(L, strings.Fields(L.CheckString(1)))
	return 1
}

// trim(str) -> string
func (m *TextModule) trim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

// starts_with(str, prefix) -> bool
func (m *TextModule) startsWith(L *lua.LState) int {
	L.Push(lua.LBool(strings.HasPrefix(L.CheckString(1), L.CheckString(2))))
	return 1
}

// ends_with(str, suffix) -> bool
func (m *TextModule) endsWith(L *lua.LState) int {
	L.Push(lua.LBool(strings.HasSuffix(L.CheckString(1), L.CheckString(2))))
	return 1
}

// contains(str, substr) -> bool
func (m *TextModule) contains(L *lua.LState) int {
	L.Push(lua.LBool(strings.Contains(L.CheckString(1), L.CheckString(2))))
	return 1
}

// escape_pattern(str) -> string
// Escapes Lua pattern magic characters.
func (m *TextModule) escapePattern(L *lua.LState) int {
	// % first, or the escapes themselves get escaped.
	escaped := strings.ReplaceAll(L.CheckString(1), "%", "%%")
	for _, ch := range []string{"^", "$", "(", ")", ".", "[", "]", "*", "+", "-", "?"} {
		escaped = strings.ReplaceAll(escaped, ch, "%"+ch)
	}
	L.Push(lua.LString(escaped))
	return 1
}

// lines(str) -> {lines}
func (m *TextModule) lines(L *lua.LState) int {
	normalized := strings.ReplaceAll(L.CheckString(1), "\r\n", "\n")
	pushStrings(L, strings.Split(normalized, "\n"))
	return 1
}

// join(list, sep) -> string
func (m *TextModule) join(L *lua.LState) int {
	tbl := L.CheckTable(1)
	sep := L.OptString(2, "")

	parts := make([]string, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		parts = append(parts, lua.LVAsString(tbl.RawGetInt(i)))
	}
	L.Push(lua.LString(strings.Join(parts, sep)))
	return 1
}
