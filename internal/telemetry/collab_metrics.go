package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// CollabMetrics holds the instruments for the collaboration hub. A nil
// *CollabMetrics is valid and records nothing.
type CollabMetrics struct {
	connectionsActive   metric.Int64UpDownCounter
	connectionDuration  metric.Float64Histogram
	roomsActive         metric.Int64UpDownCounter
	messagesReceived    metric.Int64Counter
	broadcastDeliveries metric.Int64Counter
	broadcastFailures   metric.Int64Counter
	connectionsReaped   metric.Int64Counter
	authFailures        metric.Int64Counter
	persistenceFailures metric.Int64Counter
	persistenceDropped  metric.Int64Counter
}

// NewCollabMetrics creates the hub instruments on meter
func NewCollabMetrics(meter metric.Meter) (*CollabMetrics, error) {
	m := &CollabMetrics{}
	var err error

	m.connectionsActive, err = meter.Int64UpDownCounter(
		"collab_connections_active",
		metric.WithDescription("Number of registered WebSocket connections"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection counter: %w", err)
	}

	m.connectionDuration, err = meter.Float64Histogram(
		"collab_connection_duration_seconds",
		metric.WithDescription("Lifetime of WebSocket connections"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection duration histogram: %w", err)
	}

	m.roomsActive, err = meter.Int64UpDownCounter(
		"collab_rooms_active",
		metric.WithDescription("Number of rooms with at least one member"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create room counter: %w", err)
	}

	m.messagesReceived, err = meter.Int64Counter(
		"collab_messages_received_total",
		metric.WithDescription("Inbound frames by message type"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message counter: %w", err)
	}

	m.broadcastDeliveries, err = meter.Int64Counter(
		"collab_broadcast_deliveries_total",
		metric.WithDescription("Messages queued to recipients by broadcasts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast delivery counter: %w", err)
	}

	m.broadcastFailures, err = meter.Int64Counter(
		"collab_broadcast_failures_total",
		metric.WithDescription("Recipients skipped because their queue was full or closed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast failure counter: %w", err)
	}

	m.connectionsReaped, err = meter.Int64Counter(
		"collab_connections_reaped_total",
		metric.WithDescription("Connections evicted by the liveness reaper"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reaped counter: %w", err)
	}

	m.authFailures, err = meter.Int64Counter(
		"collab_auth_failures_total",
		metric.WithDescription("Handshakes refused by identity verification"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth failure counter: %w", err)
	}

	m.persistenceFailures, err = meter.Int64Counter(
		"collab_persistence_failures_total",
		metric.WithDescription("Durable store writes that returned an error"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence failure counter: %w", err)
	}

	m.persistenceDropped, err = meter.Int64Counter(
		"collab_persistence_dropped_total",
		metric.WithDescription("Durable store writes dropped because the queue was full"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence drop counter: %w", err)
	}

	return m, nil
}

// NewNoopCollabMetrics returns instruments backed by a no-op meter
func NewNoopCollabMetrics() *CollabMetrics {
	m, err := NewCollabMetrics(noop.NewMeterProvider().Meter("collabd"))
	if err != nil {
		// no-op instruments never fail to construct
		panic(err)
	}
	return m
}

// ConnectionOpened records a registered connection
func (m *CollabMetrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, 1)
}

// ConnectionClosed records a removed connection and its lifetime
func (m *CollabMetrics) ConnectionClosed(ctx context.Context, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, lifetime.Seconds())
}

// RoomCreated records a room coming into existence
func (m *CollabMetrics) RoomCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.roomsActive.Add(ctx, 1)
}

// RoomRemoved records a room being garbage collected
func (m *CollabMetrics) RoomRemoved(ctx context.Context) {
	if m == nil {
		return
	}
	m.roomsActive.Add(ctx, -1)
}

// MessageReceived counts an inbound frame
func (m *CollabMetrics) MessageReceived(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("message_type", messageType)))
}

// BroadcastCompleted records the outcome of one fan-out
func (m *CollabMetrics) BroadcastCompleted(ctx context.Context, messageType string, delivered, failed int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("message_type", messageType))
	if delivered > 0 {
		m.broadcastDeliveries.Add(ctx, int64(delivered), attrs)
	}
	if failed > 0 {
		m.broadcastFailures.Add(ctx, int64(failed), attrs)
	}
}

// ConnectionReaped counts a reaper eviction
func (m *CollabMetrics) ConnectionReaped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.connectionsReaped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// AuthFailed counts a refused handshake
func (m *CollabMetrics) AuthFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.authFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// PersistenceFailed counts a failed store write
func (m *CollabMetrics) PersistenceFailed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.persistenceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// PersistenceDropped counts a write dropped at enqueue
func (m *CollabMetrics) PersistenceDropped(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.persistenceDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
