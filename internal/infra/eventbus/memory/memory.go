// Package memory provides an in-process implementation of the event bus.
// It offers a lightweight, non-persistent bus suitable for testing and for
// runs where no broker is configured.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/matchpulse/matchpulse/internal/domain/events"
)

var _ events.EventBus = (*EventBus)(nil)

// EventBus delivers envelopes synchronously to subscribed handlers within
// the publishing goroutine. Subscriptions live until the bus is closed.
type EventBus struct {
	mu       sync.RWMutex
	closed   bool
	handlers map[events.EventType][]events.HandlerFunc
}

// NewEventBus creates an empty in-process bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[events.EventType][]events.HandlerFunc)}
}

// Publish dispatches the envelope to every handler registered for its type,
// stopping at the first handler error.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.PublishParams{}
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		event.Key = params.Key
	}
	if len(params.Headers) > 0 {
		event.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus is closed")
	}
	// Copy the handlers so publishing never holds the lock into user code.
	handlers := append([]events.HandlerFunc(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event, func(error) {}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("event bus is closed")
	}
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], handler)
	}
	return nil
}

// Close drops all subscriptions and rejects further publishes.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]events.HandlerFunc)
	return nil
}
