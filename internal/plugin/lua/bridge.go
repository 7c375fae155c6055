package lua

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua. A Bridge is only valid while
// the caller holds the owning State, which Invoke guarantees.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value. Tables with a contiguous
// 1..n key range become []any, other tables map[string]any.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGo(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return b.tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func (b *Bridge) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	if n := sequenceLen(t); n > 0 {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = b.toGo(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'g', -1, 64)
		default:
			key = k.String()
		}
		m[key] = b.toGo(v, visited)
	})
	return m
}

// sequenceLen returns n when t's keys are exactly 1..n, otherwise 0.
func sequenceLen(t *lua.LTable) int {
	count, maxN := 0, 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok {
			isArray = false
			return
		}
		n := int(kn)
		if float64(n) != float64(kn) || n < 1 {
			isArray = false
			return
		}
		if n > maxN {
			maxN = n
		}
	})
	if !isArray || count != maxN {
		return 0
	}
	return maxN
}

// Sequence returns the elements t[1..n] of a Lua sequence and reports
// whether t is one. An empty table is an empty sequence.
func Sequence(t *lua.LTable) ([]lua.LValue, bool) {
	n := sequenceLen(t)
	if n == 0 {
		empty := true
		t.ForEach(func(_, _ lua.LValue) { empty = false })
		return nil, empty
	}
	out := make([]lua.LValue, n)
	for i := 1; i <= n; i++ {
		out[i-1] = t.RawGetInt(i)
	}
	return out, true
}

// ToLuaValue converts a Go value to a Lua value.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case time.Time:
		return lua.LNumber(val.Unix())
	case []string:
		t := b.L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case map[string]string:
		t := b.L.NewTable()
		for k, s := range val {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	default:
		return b.reflectToLua(reflect.ValueOf(v))
	}
}

func (b *Bridge) reflectToLua(rv reflect.Value) lua.LValue {
	if !rv.IsValid() {
		return lua.LNil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.ToLuaValue(rv.Elem().Interface())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Slice, reflect.Array:
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := b.L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(b.ToLuaValue(iter.Key().Interface()), b.ToLuaValue(iter.Value().Interface()))
		}
		return t
	case reflect.Struct:
		return b.structToTable(rv)
	default:
		ud := b.L.NewUserData()
		ud.Value = rv.Interface()
		return ud
	}
}

// structToTable converts exported struct fields, named by their json tag
// when present.
func (b *Bridge) structToTable(rv reflect.Value) *lua.LTable {
	t := b.L.NewTable()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}
		t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
	}
	return t
}

// GetTableString gets a string field from a Lua table.
func (b *Bridge) GetTableString(t *lua.LTable, key string) (string, bool) {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s), true
	}
	return "", false
}

// GetTableFunc gets a function field from a Lua table.
func (b *Bridge) GetTableFunc(t *lua.LTable, key string) (*lua.LFunction, bool) {
	f, ok := t.RawGetString(key).(*lua.LFunction)
	return f, ok
}

// GetTableTable gets a table field from a Lua table.
func (b *Bridge) GetTableTable(t *lua.LTable, key string) (*lua.LTable, bool) {
	v, ok := t.RawGetString(key).(*lua.LTable)
	return v, ok
}

// Globals returns the global table.
func (b *Bridge) Globals() *lua.LTable {
	return b.L.G.Global
}

// CallFunc calls a Lua function with Go arguments and returns Go values.
func (b *Bridge) CallFunc(fn *lua.LFunction, args ...any) ([]any, error) {
	top := b.L.GetTop()

	b.L.Push(fn)
	for _, arg := range args {
		b.L.Push(b.ToLuaValue(arg))
	}
	if err := b.L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	n := b.L.GetTop() - top
	if n <= 0 {
		return nil, nil
	}
	results := make([]any, n)
	for i := 0; i < n; i++ {
		results[i] = b.ToGoValue(b.L.Get(top + i + 1))
	}
	b.L.Pop(n)
	return results, nil
}

// NewTable creates a new empty Lua table.
func (b *Bridge) NewTable() *lua.LTable {
	return b.L.NewTable()
}
