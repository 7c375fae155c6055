package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/modgate/internal/event/topic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type note struct {
	Text string
}

func TestPublishMatchesPattern(t *testing.T) {
	bus := NewBus()

	var got []topic.Topic
	_, err := bus.SubscribeFunc("unit.*", func(_ context.Context, e any) error {
		got = append(got, e.(TopicProvider).EventTopic())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test")))
	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("watch.changed", note{}, "test")))
	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.failed", note{}, "test")))

	assert.Equal(t, []topic.Topic{"unit.loaded", "unit.failed"}, got)
	stats := bus.Stats()
	assert.Equal(t, uint64(3), stats.Published)
	assert.Equal(t, uint64(2), stats.Delivered)
	assert.Equal(t, 1, stats.Subscriptions)
}

func TestPublishPriorityOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	record := func(name string) HandlerFunc {
		return func(context.Context, any) error {
			order = append(order, name)
			return nil
		}
	}
	_, err := bus.SubscribeFunc("unit.loaded", record("normal-1"))
	require.NoError(t, err)
	_, err = bus.SubscribeFunc("unit.**", record("low"), WithPriority(PriorityLow))
	require.NoError(t, err)
	_, err = bus.SubscribeFunc("unit.loaded", record("critical"), WithPriority(PriorityCritical))
	require.NoError(t, err)
	_, err = bus.SubscribeFunc("*.loaded", record("normal-2"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test")))
	assert.Equal(t, []string{"critical", "normal-1", "normal-2", "low"}, order)
}

func TestPublishTyped(t *testing.T) {
	bus := NewBus()

	var got []string
	_, err := bus.Subscribe("unit.loaded", AsHandler(func(_ context.Context, e Event[note]) error {
		got = append(got, e.Payload.Text)
		assert.Equal(t, "loader", e.Metadata.Source)
		assert.NotEmpty(t, e.Metadata.ID)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{Text: "hello"}, "loader")))
	require.NoError(t, bus.Publish(context.Background(), NewEvent[int]("unit.loaded", 7, "loader")))
	assert.Equal(t, []string{"hello"}, got)
}

func TestPublishRecoversPanics(t *testing.T) {
	var mu sync.Mutex
	var recovered []any
	bus := NewBus(WithPanicHandler(func(_ any, r any) {
		mu.Lock()
		recovered = append(recovered, r)
		mu.Unlock()
	}))

	_, err := bus.SubscribeFunc("unit.loaded", func(context.Context, any) error {
		panic("boom")
	}, WithPriority(PriorityHigh))
	require.NoError(t, err)
	var after bool
	_, err = bus.SubscribeFunc("unit.loaded", func(context.Context, any) error {
		after = true
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test"))
	require.ErrorIs(t, err, ErrHandlerPanic)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "unit.loaded", herr.Topic)

	assert.True(t, after)
	assert.Equal(t, []any{"boom"}, recovered)
	assert.Equal(t, uint64(1), bus.Stats().Panicked)
}

func TestPublishHandlerErrors(t *testing.T) {
	bus := NewBus()
	fail := errors.New("fail")
	_, err := bus.SubscribeFunc("unit.failed", func(context.Context, any) error {
		return fail
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), NewEvent[note]("unit.failed", note{}, "test"))
	require.ErrorIs(t, err, fail)
	assert.Equal(t, uint64(1), bus.Stats().Failed)
}

func TestPublishInvalid(t *testing.T) {
	bus := NewBus()
	assert.ErrorIs(t, bus.Publish(context.Background(), note{}), ErrInvalidEvent)
	assert.ErrorIs(t, bus.Publish(context.Background(), NewEvent[note]("", note{}, "test")), ErrInvalidTopic)
	assert.ErrorIs(t, bus.Publish(context.Background(), NewEvent[note]("unit.*", note{}, "test")), ErrInvalidTopic)
}

func TestSubscribeValidation(t *testing.T) {
	bus := NewBus()
	_, err := bus.Subscribe("", HandlerFunc(func(context.Context, any) error { return nil }))
	assert.ErrorIs(t, err, ErrInvalidTopic)
	_, err = bus.Subscribe("unit.loaded", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
	_, err = bus.SubscribeFunc("unit.loaded", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	var calls int
	sub, err := bus.SubscribeFunc("unit.loaded", func(context.Context, any) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test")))
	require.NoError(t, bus.Unsubscribe(sub))
	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test")))

	assert.Equal(t, 1, calls)
	assert.Equal(t, SubscriptionStateCancelled, sub.State())
	assert.ErrorIs(t, bus.Unsubscribe(sub), ErrSubscriptionNotFound)
	assert.ErrorIs(t, bus.Unsubscribe(nil), ErrInvalidSubscription)
	assert.Zero(t, bus.Stats().Subscriptions)
}

func TestSubscriptionPauseAndOnce(t *testing.T) {
	bus := NewBus()
	var paused, once int
	sub, err := bus.SubscribeFunc("unit.loaded", func(context.Context, any) error {
		paused++
		return nil
	})
	require.NoError(t, err)
	_, err = bus.SubscribeFunc("unit.loaded", func(context.Context, any) error {
		once++
		return nil
	}, WithOnce())
	require.NoError(t, err)

	sub.Pause()
	assert.Equal(t, SubscriptionStatePaused, sub.State())
	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test")))
	sub.Resume()
	require.NoError(t, bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test")))

	assert.Equal(t, 1, paused)
	assert.Equal(t, 1, once)
	assert.Equal(t, 1, bus.Stats().Subscriptions)
}

func TestSubscriptionFilter(t *testing.T) {
	bus := NewBus()
	var got []string
	_, err := bus.Subscribe("unit.loaded", AsHandler(func(_ context.Context, e Event[note]) error {
		got = append(got, e.Payload.Text)
		return nil
	}), WithFilter(func(e any) bool {
		return e.(Event[note]).Payload.Text != "skip"
	}))
	require.NoError(t, err)

	for _, text := range []string{"a", "skip", "b"} {
		require.NoError(t, bus.Publish(context.Background(), NewEvent("unit.loaded", note{Text: text}, "test")))
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	_, err := bus.SubscribeFunc("unit.**", func(context.Context, any) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = bus.Publish(context.Background(), NewEvent[note]("unit.loaded", note{}, "test"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, count)
}
