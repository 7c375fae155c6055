package plugin

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/modgate/internal/dispatch"
	plua "github.com/dshills/modgate/internal/plugin/lua"
)

// responder is implemented by events that accept replies.
type responder interface {
	Respond(text string)
}

// LuaHandler delivers events to a function contributed by a unit.
//
// The function receives the event as a table and may return a reply string
// and a stop flag: return "pong", true replies and stops later groups.
type LuaHandler struct {
	unit   string
	object string
	index  int

	state *plua.State
	fn    *lua.LFunction
}

// Handle calls the Lua function under the unit's state lock.
func (h *LuaHandler) Handle(ctx context.Context, event any) error {
	out, err := h.state.Call(ctx, h.fn, event)
	if err != nil {
		return fmt.Errorf("%s: %w", h, err)
	}

	if len(out) > 0 {
		if text, ok := out[0].(string); ok && text != "" {
			if r, ok := event.(responder); ok {
				r.Respond(text)
			}
		}
	}
	if len(out) > 1 {
		if stop, ok := out[1].(bool); ok && stop {
			return dispatch.ErrStopPropagation
		}
	}
	return nil
}

// String identifies the handler as unit:object.handlers[index].
func (h *LuaHandler) String() string {
	return fmt.Sprintf("%s:%s.handlers[%d]", h.unit, h.object, h.index)
}
