package messaging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmicds/story-session-hub/internal/domain/shared"
)

func newSyncBus() *InMemoryEventBus {
	config := DefaultInMemoryEventBusConfig()
	return NewInMemoryEventBus(config)
}

func TestPublish_SyncDeliveryInSubscriptionOrder(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	var order []string
	require.NoError(t, bus.Subscribe(shared.EventWriteToDatabase, func(e shared.Event) error {
		order = append(order, "first")
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventWriteToDatabase, func(e shared.Event) error {
		order = append(order, "second")
		return nil
	}))

	err := bus.Publish(shared.NewWriteToDatabaseEvent("session-1"))

	// Sync mode: handlers have already run when Publish returns.
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublish_OnlyMatchingTypeReceives(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	var got []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventSessionReady, func(e shared.Event) error {
		got = append(got, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewWriteToDatabaseEvent("session-1")))
	require.NoError(t, bus.Publish(shared.NewSessionReadyEvent("session-1", 42, "hubble")))

	assert.Equal(t, []shared.EventType{shared.EventSessionReady}, got)
}

func TestPublish_SubscribeAllSeesEverything(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	count := 0
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		count++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewStatusChangedEvent("session-1", "Loading")))
	require.NoError(t, bus.Publish(shared.NewOptionChangedEvent("session-1", "speech_rate", 1.2)))

	assert.Equal(t, 2, count)
}

func TestPublish_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := newSyncBus()
	defer bus.Close()

	reached := false
	require.NoError(t, bus.Subscribe(shared.EventWriteToDatabase, func(e shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventWriteToDatabase, func(e shared.Event) error {
		reached = true
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewWriteToDatabaseEvent("session-1")))
	assert.True(t, reached)

	snapshot := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snapshot.TotalHandlerExecs)
	assert.Equal(t, 0.5, snapshot.HandlerSuccessRate)
}

func TestClosedBusRejectsOperations(t *testing.T) {
	bus := newSyncBus()
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewWriteToDatabaseEvent("session-1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventSessionReady, func(shared.Event) error { return nil }), ErrEventBusClosed)
	// Close is idempotent.
	require.NoError(t, bus.Close())
}
