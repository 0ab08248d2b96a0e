package fallback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned by Publish after Shutdown.
var ErrBusClosed = errors.New("fallback bus is shut down")

// EventType names a kind of bus event.
type EventType string

// EventHumanCompleted is published when an operator resolves a session.
const EventHumanCompleted EventType = "HUMAN_COMPLETED"

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Payload   interface{}
}

// Bus is an in-process pub/sub. Publish blocks while a subscriber's buffer
// is full, and every delivered event must be acknowledged before Shutdown
// returns.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	closed      bool

	// pending counts delivered events not yet acknowledged.
	pending sync.WaitGroup
	// publishing counts Publish calls past the closed check.
	publishing sync.WaitGroup
}

// NewBus creates a Bus whose subscriptions buffer bufferSize events.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:      logger.Named("fallback_bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[EventType][]chan Event),
	}
}

// Publish delivers evt to every subscriber of its type.
func (b *Bus) Publish(ctx context.Context, evt Event) (err error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	b.publishing.Add(1)
	subs := append([]chan Event(nil), b.subscribers[evt.Type]...)
	b.mu.RUnlock()
	defer b.publishing.Done()

	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	// A send can race with Shutdown closing the channel.
	defer func() {
		if r := recover(); r != nil {
			b.pending.Done()
			b.logger.Debug("Publish interrupted by shutdown", zap.Any("panic", r))
			err = ErrBusClosed
		}
	}()

	for _, ch := range subs {
		b.pending.Add(1)
		select {
		case ch <- evt:
		case <-ctx.Done():
			b.pending.Done()
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe returns a channel of events of the given types and a function
// that ends the subscription.
func (b *Bus) Subscribe(types ...EventType) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if len(types) == 0 {
		types = []EventType{EventHumanCompleted}
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			for _, t := range types {
				subs := b.subscribers[t]
				for i, c := range subs {
					if c == ch {
						b.subscribers[t] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Acknowledge marks a delivered event as processed.
func (b *Bus) Acknowledge(Event) {
	b.pending.Done()
}

// Shutdown closes every subscription and waits for in-flight publishes and
// unacknowledged events.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unique := make(map[chan Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[EventType][]chan Event)
	b.mu.Unlock()

	b.publishing.Wait()
	b.pending.Wait()
}
