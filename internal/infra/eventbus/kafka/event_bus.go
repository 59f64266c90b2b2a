// Package kafka implements the domain event bus on top of Kafka with a JSON
// wire encoding.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/events"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

// EventBusMetrics defines the telemetry the bus records about its traffic.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// EventBusConfig carries the topic layout and identity of one bus instance.
type EventBusConfig struct {
	Topic    string
	GroupID  string
	ClientID string
}

// wireEnvelope is the JSON document carried in each Kafka message value. The
// payload stays raw until a subscriber-side handler decodes it against the
// concrete type implied by Type.
type wireEnvelope struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

var _ events.EventBus = (*eventBus)(nil)

// eventBus routes domain event envelopes through a single Kafka topic.
// Routing keys map to Kafka message keys, so all events for one match land
// in one partition and stay ordered.
type eventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	cfg           *EventBusConfig

	mu       sync.RWMutex
	handlers map[events.EventType][]events.HandlerFunc

	metrics EventBusMetrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

// NewEventBus assembles a bus from an existing producer and consumer group.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *EventBusConfig,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (events.EventBus, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("event bus topic is required")
	}
	return &eventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		cfg:           cfg,
		handlers:      make(map[events.EventType][]events.HandlerFunc),
		metrics:       metrics,
		tracer:        tracer,
		logger:        logger.With("component", "kafka_event_bus"),
	}, nil
}

// Publish encodes the envelope as JSON and produces it synchronously.
func (b *eventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	params := events.PublishParams{}
	for _, opt := range opts {
		opt(&params)
	}

	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.publish",
		trace.WithAttributes(
			attribute.String("event_type", string(event.Type)),
			attribute.String("topic", b.cfg.Topic),
			attribute.String("key", params.Key),
		))
	defer span.End()

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		span.SetStatus(codes.Error, "payload encoding failed")
		span.RecordError(err)
		return fmt.Errorf("encoding payload for %s: %w", event.Type, err)
	}

	value, err := json.Marshal(wireEnvelope{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		span.SetStatus(codes.Error, "envelope encoding failed")
		span.RecordError(err)
		return fmt.Errorf("encoding envelope for %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.cfg.Topic,
		Value: sarama.ByteEncoder(value),
	}
	if params.Key != "" {
		msg.Key = sarama.StringEncoder(params.Key)
	}
	for k, v := range params.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	if _, _, err := b.producer.SendMessage(msg); err != nil {
		b.metrics.IncPublishError(ctx, b.cfg.Topic)
		span.SetStatus(codes.Error, "message send failed")
		span.RecordError(err)
		return fmt.Errorf("sending %s: %w", event.Type, err)
	}

	b.metrics.IncMessagePublished(ctx, b.cfg.Topic)
	span.SetStatus(codes.Ok, "message published")
	return nil
}

// Subscribe registers the handler for the given event types and starts the
// consumer loop on its first call.
func (b *eventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	b.mu.Lock()
	firstSubscription := len(b.handlers) == 0
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], handler)
	}
	b.mu.Unlock()

	if !firstSubscription {
		return nil
	}

	go func() {
		for {
			if err := b.consumerGroup.Consume(ctx, []string{b.cfg.Topic}, &consumerHandler{bus: b}); err != nil {
				b.logger.Error(ctx, "Consumer group session failed", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

// Close shuts down the producer and consumer group.
func (b *eventBus) Close() error {
	var firstErr error
	if err := b.producer.Close(); err != nil {
		firstErr = err
	}
	if err := b.consumerGroup.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// dispatch decodes one consumed message and fans it out to the handlers
// registered for its type.
func (b *eventBus) dispatch(ctx context.Context, msg *sarama.ConsumerMessage, ack events.AckFunc) {
	var wire wireEnvelope
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		b.metrics.IncConsumeError(ctx, msg.Topic)
		b.logger.Error(ctx, "Dropping undecodable message",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"err", err,
		)
		ack(err)
		return
	}

	b.mu.RLock()
	handlers := append([]events.HandlerFunc(nil), b.handlers[wire.Type]...)
	b.mu.RUnlock()

	envelope := events.EventEnvelope{
		Type:      wire.Type,
		Key:       string(msg.Key),
		Timestamp: wire.Timestamp,
		Payload:   wire.Payload,
	}
	for _, h := range msg.Headers {
		if envelope.Headers == nil {
			envelope.Headers = make(map[string]string, len(msg.Headers))
		}
		envelope.Headers[string(h.Key)] = string(h.Value)
	}

	for _, handler := range handlers {
		if err := handler(ctx, envelope, ack); err != nil {
			b.metrics.IncConsumeError(ctx, msg.Topic)
			b.logger.Error(ctx, "Event handler failed",
				"event_type", wire.Type,
				"err", err,
			)
		}
	}
	b.metrics.IncMessageConsumed(ctx, msg.Topic)
	ack(nil)
}

// consumerHandler adapts the bus to sarama's consumer group contract.
type consumerHandler struct {
	bus *eventBus
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ack := func(error) { session.MarkMessage(msg, "") }
		h.bus.dispatch(session.Context(), msg, ack)
	}
	return nil
}
