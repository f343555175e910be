package realtime

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tetra.realtime"

// Dispatcher is the typed publish API. Every operation builds one
// structured event frame and hands it to the publisher; the optional
// senderID is the correlation id of the request that caused the event,
// empty for background publishes.
type Dispatcher struct {
	pub     Publisher
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for publish failures.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithDispatcherMetrics sets the metrics sink.
func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher builds a dispatcher over a publisher.
func NewDispatcher(pub Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pub:    pub,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify publishes a named application event to a group.
func (d *Dispatcher) Notify(ctx context.Context, group, eventName string, data map[string]any, senderID string) error {
	payload := map[string]any{
		"event_name": eventName,
		"data":       data,
	}
	if senderID != "" {
		payload["sender_id"] = senderID
	}
	return d.publish(ctx, group, NewMessage(EventNotify, payload))
}

// UpdateData publishes changed component data to a group.
func (d *Dispatcher) UpdateData(ctx context.Context, group string, data map[string]any, senderID string) error {
	payload := map[string]any{
		"group": group,
		"data":  data,
	}
	if senderID != "" {
		payload["sender_id"] = senderID
	}
	return d.publish(ctx, group, NewMessage(EventDataChanged, payload))
}

// ComponentRemove announces that a component instance is gone.
// targetGroup, when set, points collection subscribers at the instance
// group the removal refers to.
func (d *Dispatcher) ComponentRemove(ctx context.Context, group, componentID, targetGroup, senderID string) error {
	payload := map[string]any{
		"group": group,
	}
	if componentID != "" {
		payload["component_id"] = componentID
	}
	if targetGroup != "" {
		payload["target_group"] = targetGroup
	}
	if senderID != "" {
		payload["sender_id"] = senderID
	}
	return d.publish(ctx, group, NewMessage(EventRemoved, payload))
}

// ComponentCreated announces a new component instance to a group.
func (d *Dispatcher) ComponentCreated(ctx context.Context, group, componentID string, data map[string]any, senderID string) error {
	payload := map[string]any{
		"group": group,
	}
	if componentID != "" {
		payload["component_id"] = componentID
	}
	if data != nil {
		payload["data"] = data
	}
	if senderID != "" {
		payload["sender_id"] = senderID
	}
	return d.publish(ctx, group, NewMessage(EventCreated, payload))
}

// SubscriptionResponse publishes a subscription status frame to a group.
// Connections normally answer control frames directly; this path exists
// for system-initiated membership changes.
func (d *Dispatcher) SubscriptionResponse(ctx context.Context, group, status, message string) error {
	return d.publish(ctx, group, SubscriptionResponse(group, status, message))
}

func (d *Dispatcher) publish(ctx context.Context, group string, m *Message) error {
	ctx, span := d.tracer.Start(ctx, "realtime.publish",
		trace.WithAttributes(
			attribute.String("tetra.group", group),
			attribute.String("tetra.event_type", m.Type),
		))
	defer span.End()

	err := d.pub.Publish(ctx, group, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("publish failed",
			"group", group,
			"type", m.Type,
			"error", err)
		if d.metrics != nil {
			d.metrics.PublishErrors.WithLabelValues(m.Type).Inc()
		}
		return err
	}
	if d.metrics != nil {
		d.metrics.PublishedTotal.WithLabelValues(m.Type).Inc()
	}
	return nil
}
