// Package lua runs extension units on gopher-lua.
//
// A State is a sandboxed interpreter owned by exactly one unit. The sandbox
// removes dofile, loadfile, load and loadstring, leaves io, os and debug
// unopened, and restricts require to string, table, math and modules
// registered with Sandbox.Preload.
//
// All access to the interpreter is serialized by the State:
//
//	state, err := lua.NewState(lua.WithCallTimeout(time.Second))
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	if err := state.DoFile(ctx, "sources/main.lua"); err != nil {
//	    return err
//	}
//	err = state.Invoke(ctx, func(b *lua.Bridge) error {
//	    fn, _ := b.GetTableFunc(b.Globals(), "greet")
//	    _, err := b.CallFunc(fn, "world")
//	    return err
//	})
//
// Bridge converts between Go and Lua values. Structs become tables keyed by
// their json tags.
package lua
