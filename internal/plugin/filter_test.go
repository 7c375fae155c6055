package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modgate/internal/dispatch"
)

func TestOwnerFilter(t *testing.T) {
	owners := RosterFunc(func(id int64) bool { return id == 7 })
	filter := OwnerFilter(owners)

	assert.True(t, filter(Caller{Self: true}))
	assert.True(t, filter(Caller{ID: 7}))
	assert.False(t, filter(Caller{ID: 8}))

	selfOnly := OwnerFilter(nil)
	assert.True(t, selfOnly(Caller{ID: 1, Self: true}))
	assert.False(t, selfOnly(Caller{ID: 7}))
}

func TestCallerOf(t *testing.T) {
	c, ok := CallerOf(dispatch.NewEvent(5, false, "x"))
	require.True(t, ok)
	assert.Equal(t, Caller{ID: 5}, c)

	_, ok = CallerOf("not an event")
	assert.False(t, ok)

	var nilEvent *dispatch.Event
	_, ok = CallerOf(nilEvent)
	assert.False(t, ok)
}

func TestGuard(t *testing.T) {
	var seen []int64
	inner := dispatch.NewHandlerFunc(func(_ context.Context, event any) error {
		seen = append(seen, event.(*dispatch.Event).From)
		return dispatch.ErrStopPropagation
	})
	h := Guard(OwnerFilter(RosterFunc(func(id int64) bool { return id == 2 })), inner)
	ctx := context.Background()

	assert.NoError(t, h.Handle(ctx, dispatch.NewEvent(1, false, "x")))
	assert.ErrorIs(t, h.Handle(ctx, dispatch.NewEvent(2, false, "x")), dispatch.ErrStopPropagation)
	assert.ErrorIs(t, h.Handle(ctx, dispatch.NewEvent(3, true, "x")), dispatch.ErrStopPropagation)
	assert.NoError(t, h.Handle(ctx, "raw"))
	assert.Equal(t, []int64{2, 3}, seen)
}

func TestGuardSelfOnly(t *testing.T) {
	guarded := Guard(OwnerFilter(nil), dispatch.NewHandlerFunc(func(_ context.Context, event any) error {
		event.(*dispatch.Event).Respond("operator")
		return nil
	}))

	var replies []string
	ev := dispatch.NewEvent(99, false, "hi")
	ev.Reply = func(s string) { replies = append(replies, s) }
	require.NoError(t, guarded.Handle(context.Background(), ev))
	assert.Empty(t, replies)

	ev.Self = true
	require.NoError(t, guarded.Handle(context.Background(), ev))
	assert.Equal(t, []string{"operator"}, replies)
}
