package event

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dshills/modgate/internal/dispatch"
	"github.com/dshills/modgate/internal/event/topic"
)

// PanicHandler is called with the event and recovered value when a
// subscriber panics.
type PanicHandler func(event any, recovered any)

// BusOption configures a Bus.
type BusOption func(*busConfig)

type busConfig struct {
	panicHandler PanicHandler
	timeout      time.Duration
}

// WithPanicHandler sets the callback for subscriber panics.
func WithPanicHandler(h PanicHandler) BusOption {
	return func(c *busConfig) {
		c.panicHandler = h
	}
}

// WithHandlerTimeout bounds each subscriber call.
func WithHandlerTimeout(d time.Duration) BusOption {
	return func(c *busConfig) {
		c.timeout = d
	}
}

// Bus delivers published events synchronously to matching subscriptions.
// It is safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	seq  uint64

	executor *dispatch.Executor

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	var cfg busConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var execOpts []dispatch.ExecutorOption
	if cfg.panicHandler != nil {
		h := cfg.panicHandler
		execOpts = append(execOpts, dispatch.WithPanicHandler(func(event, r any, _ []byte) {
			h(event, r)
		}))
	}
	if cfg.timeout > 0 {
		execOpts = append(execOpts, dispatch.WithHandlerTimeout(cfg.timeout))
	}

	return &Bus{
		subs:     make(map[string]*subscription),
		executor: dispatch.NewExecutor(execOpts...),
	}
}

// Subscribe registers handler for events whose topic matches pattern.
func (b *Bus) Subscribe(pattern topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	if !pattern.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, pattern)
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	sub := newSubscription(uuid.NewString(), pattern, handler, b.seq, opts...)
	b.subs[sub.id] = sub
	return sub, nil
}

// SubscribeFunc registers fn for events whose topic matches pattern.
func (b *Bus) SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(pattern, fn, opts...)
}

// Unsubscribe cancels sub and removes it from the bus.
func (b *Bus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sub.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sub.ID())
	}
	s.Cancel()
	delete(b.subs, s.id)
	return nil
}

// Publish delivers event to every matching subscription in priority order,
// then subscription order. The event must implement TopicProvider. The
// returned error combines the failures of individual handlers.
func (b *Bus) Publish(ctx context.Context, event any) error {
	tp, ok := event.(TopicProvider)
	if !ok {
		return fmt.Errorf("%w: %T has no topic", ErrInvalidEvent, event)
	}
	t := tp.EventTopic()
	if !t.IsValid() || t.IsWildcard() {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, t)
	}
	b.published.Add(1)

	var errs error
	for _, sub := range b.match(t) {
		if !sub.accepts(event) {
			continue
		}
		if sub.config.Once && !sub.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStateCancelled)) {
			continue
		}

		res := b.executor.Execute(ctx, event, sub.handler)
		switch {
		case res.Panicked:
			b.panicked.Add(1)
			errs = multierr.Append(errs, &HandlerError{SubscriptionID: sub.id, Topic: t.String(), Err: fmt.Errorf("%w: %v", ErrHandlerPanic, res.PanicValue)})
		case res.Error != nil:
			b.failed.Add(1)
			errs = multierr.Append(errs, &HandlerError{SubscriptionID: sub.id, Topic: t.String(), Err: res.Error})
		default:
			b.delivered.Add(1)
		}
		if sub.config.Once {
			b.remove(sub.id)
		}
	}
	return errs
}

func (b *Bus) match(t topic.Topic) []*subscription {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if t.Matches(sub.topic) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	slices.SortFunc(matched, func(x, y *subscription) int {
		if x.config.Priority != y.config.Priority {
			return int(x.config.Priority - y.config.Priority)
		}
		return int(x.seq) - int(y.seq)
	})
	return matched
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Failed:        b.failed.Load(),
		Panicked:      b.panicked.Load(),
		Subscriptions: n,
	}
}
