package plugin

import (
	"context"

	"github.com/dshills/modgate/internal/dispatch"
)

// Caller identifies the sender of an inbound event.
type Caller struct {
	ID   int64
	Self bool
}

// Roster answers whether a caller is a registered owner.
type Roster interface {
	IsOwner(id int64) bool
}

// RosterFunc adapts a function to Roster.
type RosterFunc func(id int64) bool

// IsOwner calls f(id).
func (f RosterFunc) IsOwner(id int64) bool {
	return f(id)
}

// Filter decides whether an event from caller is accepted.
type Filter func(caller Caller) bool

// OwnerFilter accepts events that come from the host account itself or from
// an owner in r. A nil roster accepts only the host account.
func OwnerFilter(r Roster) Filter {
	return func(c Caller) bool {
		if c.Self {
			return true
		}
		return r != nil && r.IsOwner(c.ID)
	}
}

// CallerOf extracts the caller of a dispatch event.
func CallerOf(event any) (Caller, bool) {
	ev, ok := event.(*dispatch.Event)
	if !ok || ev == nil {
		return Caller{}, false
	}
	return Caller{ID: ev.From, Self: ev.Self}, true
}

type guarded struct {
	filter Filter
	next   dispatch.Handler
}

// Guard wraps h so that it only sees events whose caller passes filter.
// Events without a caller are skipped.
func Guard(filter Filter, h dispatch.Handler) dispatch.Handler {
	return &guarded{filter: filter, next: h}
}

func (g *guarded) Handle(ctx context.Context, event any) error {
	c, ok := CallerOf(event)
	if !ok || !g.filter(c) {
		return nil
	}
	return g.next.Handle(ctx, event)
}
