package realtime

import (
	"context"
	"log/slog"
)

// Publisher hands messages to the bus. The composition root picks the
// implementation once at startup: synchronous for request-path hosts
// where the caller wants the error, asynchronous for hosts running their
// own scheduler where mutation paths must not block on transport.
type Publisher interface {
	Publish(ctx context.Context, group string, m *Message) error
}

// SyncPublisher publishes on the caller's goroutine and returns the
// bus error directly.
type SyncPublisher struct {
	Bus Bus
}

func (p *SyncPublisher) Publish(ctx context.Context, group string, m *Message) error {
	return p.Bus.Publish(ctx, group, m)
}

// AsyncPublisher hands the message to the bus on a fresh goroutine.
// Publish always returns nil; transport failures are logged, never
// silent.
type AsyncPublisher struct {
	Bus    Bus
	Logger *slog.Logger
}

func (p *AsyncPublisher) Publish(ctx context.Context, group string, m *Message) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		// The request context may be cancelled the moment the handler
		// returns; the publish must still go out.
		if err := p.Bus.Publish(context.WithoutCancel(ctx), group, m); err != nil {
			logger.Error("background publish failed",
				"group", group,
				"type", m.Type,
				"error", err)
		}
	}()
	return nil
}
