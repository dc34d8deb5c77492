// Package telemetry exposes the server's OpenTelemetry instruments.
// With no SDK wired in they resolve against the global no-op provider,
// so instrumented code costs nothing until an exporter is configured.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the bridge server's instruments.
type Metrics struct {
	ConnectionsActive metric.Int64UpDownCounter
	MessagesReceived  metric.Int64Counter
	EventsBroadcast   metric.Int64Counter
	HandlerErrors     metric.Int64Counter
}

// New builds the instrument set from the global meter provider.
func New() (*Metrics, error) {
	meter := otel.Meter("forge-bridge")

	connections, err := meter.Int64UpDownCounter("bridge.connections.active",
		metric.WithDescription("Currently connected clients"))
	if err != nil {
		return nil, err
	}
	received, err := meter.Int64Counter("bridge.messages.received",
		metric.WithDescription("Messages received from clients"))
	if err != nil {
		return nil, err
	}
	broadcast, err := meter.Int64Counter("bridge.events.broadcast",
		metric.WithDescription("Event frames fanned out to subscribers"))
	if err != nil {
		return nil, err
	}
	handlerErrors, err := meter.Int64Counter("bridge.handler.errors",
		metric.WithDescription("Requests answered with an error frame"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ConnectionsActive: connections,
		MessagesReceived:  received,
		EventsBroadcast:   broadcast,
		HandlerErrors:     handlerErrors,
	}, nil
}

// RecordMessage counts one inbound message by type.
func (m *Metrics) RecordMessage(ctx context.Context, msgType string) {
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("message.type", msgType)))
}

// RecordError counts one error reply by code.
func (m *Metrics) RecordError(ctx context.Context, code string) {
	m.HandlerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("error.code", code)))
}
