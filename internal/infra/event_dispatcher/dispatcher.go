// Package eventdispatcher routes event envelopes to the handler registered
// for their type.
package eventdispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/events"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

// Dispatcher manages event handlers and dispatches events to their registered
// handler. Each event type has exactly one handler responsible for processing
// events of that type; registering again replaces the previous handler.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[events.EventType]events.HandlerFunc
	tracer   trace.Tracer
	logger   *logger.Logger
}

// New constructs a Dispatcher with an empty registry; handlers must be
// registered before dispatching any events.
func New(tracer trace.Tracer, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[events.EventType]events.HandlerFunc),
		tracer:   tracer,
		logger:   logger.With("component", "event_dispatcher"),
	}
}

// RegisterHandler associates a handler with a specific event type. Safe to
// call concurrently.
func (d *Dispatcher) RegisterHandler(ctx context.Context, eventType events.EventType, handler events.HandlerFunc) {
	_, span := d.tracer.Start(ctx, "event_dispatcher.register_handler",
		trace.WithAttributes(attribute.String("event_type", string(eventType))))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = handler
	d.logger.Debug(ctx, "handler registered", "event_type", eventType)
	span.AddEvent("handler_registered")
	span.SetStatus(codes.Ok, "handler registered")
}

// HandlerNotFoundError indicates no handler was registered for an event type.
type HandlerNotFoundError struct {
	EventType events.EventType
	Key       string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s (key: %s)", e.EventType, e.Key)
}

// Dispatch routes the envelope to its registered handler. If the handler
// returns an error, dispatch stops and returns that error.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	ctx, span := d.tracer.Start(ctx, "event_dispatcher.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("key", evt.Key),
		))
	defer span.End()

	d.mu.RLock()
	handler, exists := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !exists {
		err := &HandlerNotFoundError{EventType: evt.Type, Key: evt.Key}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := handler(ctx, evt, ack); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to dispatch event with event type %s: %w", evt.Type, err)
	}

	span.SetStatus(codes.Ok, "event dispatched successfully")
	d.logger.Debug(ctx, "event dispatched successfully", "event_type", evt.Type)
	return nil
}
