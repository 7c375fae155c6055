package event

import (
	"sync/atomic"

	"github.com/dshills/modgate/internal/event/topic"
)

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionStateActive means the subscription is receiving events.
	SubscriptionStateActive SubscriptionState = iota

	// SubscriptionStatePaused means delivery is temporarily suspended.
	SubscriptionStatePaused

	// SubscriptionStateCancelled means the subscription is permanently cancelled.
	SubscriptionStateCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStatePaused:
		return "paused"
	case SubscriptionStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription is a handler registered on the bus for a topic pattern.
type Subscription interface {
	ID() string
	Topic() topic.Topic
	State() SubscriptionState

	// IsActive returns true if the subscription can receive events.
	IsActive() bool

	// Pause temporarily stops event delivery to this subscription.
	Pause()

	// Resume restarts event delivery after a pause.
	Resume()

	// Cancel permanently stops delivery. Unsubscribe also releases the
	// bus entry.
	Cancel()
}

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// Priority determines execution order (lower values execute first).
	Priority Priority

	// Filter, when set, must return true for an event to be delivered.
	Filter FilterFunc

	// Once cancels the subscription after its first successful delivery.
	Once bool
}

// SubscriptionOption is a function that configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithPriority sets the subscription priority.
func WithPriority(p Priority) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Priority = p
	}
}

// WithFilter sets a filter predicate.
func WithFilter(f FilterFunc) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

// WithOnce sets the subscription to auto-cancel after the first event.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

type subscription struct {
	id      string
	topic   topic.Topic
	handler Handler
	config  SubscriptionConfig
	seq     uint64
	state   atomic.Int32
}

func newSubscription(id string, t topic.Topic, h Handler, seq uint64, opts ...SubscriptionOption) *subscription {
	config := SubscriptionConfig{Priority: PriorityNormal}
	for _, opt := range opts {
		opt(&config)
	}

	s := &subscription{
		id:      id,
		topic:   t,
		handler: h,
		config:  config,
		seq:     seq,
	}
	s.state.Store(int32(SubscriptionStateActive))
	return s
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Topic() topic.Topic {
	return s.topic
}

func (s *subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

func (s *subscription) IsActive() bool {
	return s.State() == SubscriptionStateActive
}

func (s *subscription) Pause() {
	s.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStatePaused))
}

func (s *subscription) Resume() {
	s.state.CompareAndSwap(int32(SubscriptionStatePaused), int32(SubscriptionStateActive))
}

func (s *subscription) Cancel() {
	s.state.Store(int32(SubscriptionStateCancelled))
}

// accepts reports whether event should be delivered to s.
func (s *subscription) accepts(event any) bool {
	if !s.IsActive() {
		return false
	}
	return s.config.Filter == nil || s.config.Filter(event)
}
