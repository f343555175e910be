package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix namespaces group traffic on a shared NATS
// deployment.
const DefaultSubjectPrefix = "tetra.group."

// NATSBus routes group traffic through a NATS deployment so multiple
// server processes share one fan-out fabric. NATS preserves publish
// order per connection per subject, which satisfies the per-producer
// ordering contract.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NATSBusOption configures a NATSBus.
type NATSBusOption func(*NATSBus)

// WithSubjectPrefix overrides the subject namespace.
func WithSubjectPrefix(prefix string) NATSBusOption {
	return func(b *NATSBus) { b.prefix = prefix }
}

// WithNATSLogger sets the logger for delivery errors.
func WithNATSLogger(logger *slog.Logger) NATSBusOption {
	return func(b *NATSBus) { b.logger = logger }
}

// NewNATSBus wraps an established NATS connection. The caller owns
// connecting and reconnect policy; Close drains the connection.
func NewNATSBus(conn *nats.Conn, opts ...NATSBusOption) *NATSBus {
	b := &NATSBus{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends m to every subscriber of group across the deployment.
func (b *NATSBus) Publish(ctx context.Context, group string, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrBusClosed
	}

	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("realtime: encode message: %w", err)
	}
	if err := b.conn.Publish(b.prefix+group, data); err != nil {
		return fmt.Errorf("realtime: publish to %q: %w", group, err)
	}
	return nil
}

// Subscribe attaches fn to group. Malformed frames on the subject are
// logged and dropped, never delivered.
func (b *NATSBus) Subscribe(group string, fn Handler) (Subscription, error) {
	if b.conn.IsClosed() {
		return nil, ErrBusClosed
	}

	sub, err := b.conn.Subscribe(b.prefix+group, func(msg *nats.Msg) {
		m, err := DecodeMessage(msg.Data)
		if err != nil {
			b.logger.Error("dropping malformed group frame",
				"group", group,
				"error", err)
			return
		}
		fn(m)
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: subscribe to %q: %w", group, err)
	}
	return natsSub{sub}, nil
}

// Close drains the connection, letting in-flight deliveries finish.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
