package kafka

import (
	"context"

	"github.com/matchpulse/matchpulse/internal/domain/events"
)

// Verify DomainEventPublisher implements events.DomainEventPublisher interface.
var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements the events.DomainEventPublisher interface
// using the event bus as the underlying message transport. It adapts
// domain-level events to the bus abstraction for reliable, asynchronous
// event distribution.
type DomainEventPublisher struct {
	eventBus events.EventBus
}

// NewDomainEventPublisher creates a new publisher that will distribute domain
// events through the provided event bus.
func NewDomainEventPublisher(eventBus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: eventBus}
}

// PublishDomainEvent wraps a domain event in a transport envelope and sends it
// through the bus, preserving routing keys and headers from the domain-level
// options.
func (pub *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, domainOpts ...events.PublishOption) error {
	evt := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}

	params := events.PublishParams{}
	for _, opt := range domainOpts {
		opt(&params)
	}

	var opts []events.PublishOption
	if params.Key != "" {
		opts = append(opts, events.WithKey(params.Key))
	}
	if len(params.Headers) > 0 {
		opts = append(opts, events.WithHeaders(params.Headers))
	}

	return pub.eventBus.Publish(ctx, evt, opts...)
}
