package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/events"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

// ConnectEventBus creates an EventBus instance using the provided Kafka client.
// It handles retries for establishing producer and consumer group connections.
// Connection attempts back off exponentially for up to 5 minutes, which covers
// broker unavailability during startup.
func ConnectEventBus(
	cfg *EventBusConfig,
	client sarama.Client,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (events.EventBus, error) {
	var eventBus events.EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}

		consumerGroup, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
		if err != nil {
			producer.Close() // Clean up on failure
			return fmt.Errorf("creating consumer group: %w", err)
		}

		eventBus, err = NewEventBus(producer, consumerGroup, cfg, logger, metrics, tracer)
		if err != nil {
			producer.Close()
			consumerGroup.Close()
			return fmt.Errorf("creating event bus: %w", err)
		}
		return nil
	}

	err := backoff.Retry(operation, expBackoff)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event bus after retries: %w", err)
	}

	return eventBus, nil
}
