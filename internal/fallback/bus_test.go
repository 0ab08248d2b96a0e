package fallback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupBus(t *testing.T, bufferSize int) *Bus {
	t.Helper()
	bus := NewBus(zaptest.NewLogger(t), bufferSize)
	t.Cleanup(bus.Shutdown)
	return bus
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := setupBus(t, 4)
	ch, unsubscribe := bus.Subscribe(EventHumanCompleted)
	defer unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted, Payload: "done"}))

	evt := receive(t, ch)
	assert.Equal(t, "done", evt.Payload)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
	bus.Acknowledge(evt)
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := setupBus(t, 1)
	assert.NoError(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted}))
}

func TestBus_FiltersByType(t *testing.T) {
	bus := setupBus(t, 4)
	other := EventType("OTHER")
	ch, unsubscribe := bus.Subscribe(other)
	defer unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted}))
	assert.Empty(t, ch)
}

func TestBus_BackpressureHonoursContext(t *testing.T) {
	bus := setupBus(t, 1)
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted, Payload: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, Event{Type: EventHumanCompleted, Payload: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	bus.Acknowledge(receive(t, ch))
}

func TestBus_ShutdownWaitsForAcknowledgement(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	ch, _ := bus.Subscribe()
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted}))

	done := make(chan struct{})
	go func() {
		bus.Shutdown()
		close(done)
	}()

	evt := receive(t, ch)
	select {
	case <-done:
		t.Fatal("Shutdown returned before the event was acknowledged")
	case <-time.After(30 * time.Millisecond):
	}
	bus.Acknowledge(evt)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after acknowledgement")
	}
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted}), ErrBusClosed)
}

func TestBus_ShutdownUnblocksPublishers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	ch, _ := bus.Subscribe()
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted}))

	var wg sync.WaitGroup
	wg.Add(1)
	var blockedErr error
	go func() {
		defer wg.Done()
		blockedErr = bus.Publish(context.Background(), Event{Type: EventHumanCompleted})
	}()
	time.Sleep(20 * time.Millisecond)

	go func() {
		// Drain and acknowledge whatever was delivered so Shutdown can finish.
		for evt := range ch {
			bus.Acknowledge(evt)
		}
	}()
	bus.Shutdown()
	wg.Wait()

	// The blocked publish either got through before the close or was
	// interrupted by it.
	if blockedErr != nil {
		assert.ErrorIs(t, blockedErr, ErrBusClosed)
	}
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := setupBus(t, 1)
	ch, unsubscribe := bus.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, bus.Publish(context.Background(), Event{Type: EventHumanCompleted}))
}
