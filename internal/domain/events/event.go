package events

import "time"

// DomainEvent is the contract for strongly typed events raised by the domain
// layer. Implementations carry their own payload fields; the interface only
// exposes what routing and auditing require.
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt records when the event was created, enabling temporal tracking
	// and debugging of event flows.
	OccurredAt() time.Time
}

// EventEnvelope wraps a domain event with transport-level metadata for
// delivery across system boundaries.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier like a composite match key.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}
