package monitor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MonitorMetrics defines metrics operations needed by the poll loop and its
// collaborators.
type MonitorMetrics interface {
	// Cycle metrics
	ObserveCycleDuration(ctx context.Context, d time.Duration)
	IncPartitionErrors(ctx context.Context, partition string)
	SetActiveMatches(ctx context.Context, count int)

	// Action metrics
	IncActionsEmitted(ctx context.Context, action string)

	// Delivery metrics
	IncDeliveries(ctx context.Context)
	IncDeliveryErrors(ctx context.Context)
	IncDedupeHits(ctx context.Context)

	// Persistence metrics
	IncSaveErrors(ctx context.Context)
}

// monitorMetrics implements MonitorMetrics
type monitorMetrics struct {
	cycleDuration   metric.Float64Histogram
	partitionErrors metric.Int64Counter
	activeMatches   metric.Int64Gauge

	actionsEmitted metric.Int64Counter

	deliveries     metric.Int64Counter
	deliveryErrors metric.Int64Counter
	dedupeHits     metric.Int64Counter

	saveErrors metric.Int64Counter

	messagesPublished metric.Int64Counter
	messagesConsumed  metric.Int64Counter
	publishErrors     metric.Int64Counter
	consumeErrors     metric.Int64Counter
}

const namespace = "monitor"

// NewMonitorMetrics creates a new monitor metrics instance.
func NewMonitorMetrics(mp metric.MeterProvider) (*monitorMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(monitorMetrics)
	var err error

	if m.cycleDuration, err = meter.Float64Histogram(
		"poll_cycle_duration_seconds",
		metric.WithDescription("Duration of one complete poll cycle"),
	); err != nil {
		return nil, err
	}

	if m.partitionErrors, err = meter.Int64Counter(
		"partition_errors_total",
		metric.WithDescription("Total number of partition fetch or processing failures"),
	); err != nil {
		return nil, err
	}

	if m.activeMatches, err = meter.Int64Gauge(
		"active_matches",
		metric.WithDescription("Number of matches currently tracked as in play"),
	); err != nil {
		return nil, err
	}

	if m.actionsEmitted, err = meter.Int64Counter(
		"actions_emitted_total",
		metric.WithDescription("Total number of lifecycle actions emitted by the diff engine"),
	); err != nil {
		return nil, err
	}

	if m.deliveries, err = meter.Int64Counter(
		"deliveries_total",
		metric.WithDescription("Total number of successful deliveries"),
	); err != nil {
		return nil, err
	}

	if m.deliveryErrors, err = meter.Int64Counter(
		"delivery_errors_total",
		metric.WithDescription("Total number of failed deliveries"),
	); err != nil {
		return nil, err
	}

	if m.dedupeHits, err = meter.Int64Counter(
		"dedupe_hits_total",
		metric.WithDescription("Total number of events skipped because their identity was already posted"),
	); err != nil {
		return nil, err
	}

	if m.saveErrors, err = meter.Int64Counter(
		"save_errors_total",
		metric.WithDescription("Total number of state persistence failures"),
	); err != nil {
		return nil, err
	}

	if m.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of domain events published to the bus"),
	); err != nil {
		return nil, err
	}

	if m.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of domain events consumed from the bus"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish failures"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume failures"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *monitorMetrics) ObserveCycleDuration(ctx context.Context, d time.Duration) {
	m.cycleDuration.Record(ctx, d.Seconds())
}

func (m *monitorMetrics) IncPartitionErrors(ctx context.Context, partition string) {
	m.partitionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("partition", partition)))
}

func (m *monitorMetrics) SetActiveMatches(ctx context.Context, count int) {
	m.activeMatches.Record(ctx, int64(count))
}

func (m *monitorMetrics) IncActionsEmitted(ctx context.Context, action string) {
	m.actionsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *monitorMetrics) IncDeliveries(ctx context.Context) { m.deliveries.Add(ctx, 1) }

func (m *monitorMetrics) IncDeliveryErrors(ctx context.Context) { m.deliveryErrors.Add(ctx, 1) }

func (m *monitorMetrics) IncDedupeHits(ctx context.Context) { m.dedupeHits.Add(ctx, 1) }

func (m *monitorMetrics) IncSaveErrors(ctx context.Context) { m.saveErrors.Add(ctx, 1) }

// The methods below satisfy the event bus metrics contract, so one collector
// serves both the poll loop and the transport.

func (m *monitorMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *monitorMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.messagesConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *monitorMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *monitorMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
