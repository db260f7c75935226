package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		_, err := b.Register(SubscriberFunc(func(context.Context, Event) error {
			order = append(order, name)
			return nil
		}))
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), NewAgentStarted("r1", "mf", "v1", "r1", "r1")))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestPublishStopsAtFirstError(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var called []string
	boom := errors.New("boom")

	_, err := b.Register(SubscriberFunc(func(context.Context, Event) error {
		called = append(called, "first")
		return nil
	}))
	require.NoError(t, err)
	_, err = b.Register(SubscriberFunc(func(context.Context, Event) error {
		called = append(called, "second")
		return boom
	}))
	require.NoError(t, err)
	_, err = b.Register(SubscriberFunc(func(context.Context, Event) error {
		called = append(called, "third")
		return nil
	}))
	require.NoError(t, err)

	err = b.Publish(context.Background(), NewAgentStarted("r1", "mf", "v1", "r1", "r1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, called)
}

func TestRegisterRejectsNilSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBus()
	_, err := b.Register(nil)
	assert.Error(t, err)
}

func TestCloseUnregistersSubscriberIdempotently(t *testing.T) {
	t.Parallel()

	b := NewBus()
	calls := 0
	sub, err := b.Register(SubscriberFunc(func(context.Context, Event) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), NewAgentStarted("r1", "mf", "v1", "r1", "r1")))
	assert.Equal(t, 1, calls)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, b.Publish(context.Background(), NewAgentStarted("r1", "mf", "v1", "r1", "r1")))
	assert.Equal(t, 1, calls)
}
