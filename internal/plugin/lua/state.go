package lua

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds a single entry into Lua code.
const DefaultCallTimeout = 5 * time.Second

// State wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe. Every entry into Lua goes
// through the State mutex, so a unit's handlers never run concurrently
// with each other or with its activation.
type State struct {
	L *lua.LState

	mu sync.Mutex

	callTimeout time.Duration
	print       func(string)

	sandbox *Sandbox
	bridge  *Bridge
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithCallTimeout sets the deadline applied to each Do* and Invoke call.
// Zero disables the deadline.
func WithCallTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.callTimeout = d
	}
}

// WithPrint redirects the Lua print function.
func WithPrint(fn func(line string)) StateOption {
	return func(s *State) {
		s.print = fn
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	state.L = L
	openSafeLibraries(L)

	state.sandbox = NewSandbox(L)
	state.sandbox.Install()
	if state.print != nil {
		state.sandbox.RedirectPrint(state.print)
	}
	state.bridge = NewBridge(L)

	return state, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// io, os and debug stay closed.
}

// DoFile executes a Lua file.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.Invoke(ctx, func(b *Bridge) error {
		return b.L.DoFile(path)
	})
}

// DoChunk executes code as a chunk named name. Errors are reported
// against name.
func (s *State) DoChunk(ctx context.Context, name string, code []byte) error {
	return s.Invoke(ctx, func(b *Bridge) error {
		fn, err := b.L.Load(bytes.NewReader(code), name)
		if err != nil {
			return err
		}
		b.L.Push(fn)
		return b.L.PCall(0, lua.MultRet, nil)
	})
}

// DoString executes a Lua chunk.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.Invoke(ctx, func(b *Bridge) error {
		return b.L.DoString(code)
	})
}

// Invoke runs fn with exclusive access to the Lua state. Lua code entered
// from fn observes ctx and the state's call timeout. A panic inside fn is
// returned as an error.
func (s *State) Invoke(ctx context.Context, fn func(b *Bridge) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if s.L.GetTop() > top {
			s.L.SetTop(top)
		}
	}()
	return fn(s.bridge)
}

// Call calls a Lua function value with Go arguments.
func (s *State) Call(ctx context.Context, fn lua.LValue, args ...any) ([]any, error) {
	if fn == nil {
		fn = lua.LNil
	}
	f, ok := fn.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotFunction, fn.Type())
	}
	var out []any
	err := s.Invoke(ctx, func(b *Bridge) error {
		var err error
		out, err = b.CallFunc(f, args...)
		return err
	})
	return out, err
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. It waits for an in-flight call to finish.
// After Close all other methods return ErrStateClosed or LNil.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
