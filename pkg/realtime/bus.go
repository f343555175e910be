package realtime

import (
	"context"
	"sync"
)

// Handler consumes messages delivered to a subscribed group.
type Handler func(*Message)

// Subscription is one active group subscription on a bus.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the fan-out fabric between publishers and connections. Both
// implementations deliver at least once and preserve publish order per
// producer per group; nothing is guaranteed across producers or groups.
type Bus interface {
	Publish(ctx context.Context, group string, m *Message) error
	Subscribe(group string, fn Handler) (Subscription, error)
	Close() error
}

// LocalBus is the in-process bus used in single-node deployments and
// tests. Delivery is synchronous on the publisher's goroutine, which
// trivially preserves per-producer order.
type LocalBus struct {
	mu     sync.RWMutex
	groups map[string][]*localSub
	closed bool
}

type localSub struct {
	bus   *LocalBus
	group string
	fn    Handler
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		groups: make(map[string][]*localSub),
	}
}

// Publish delivers m to every current subscriber of group.
func (b *LocalBus) Publish(ctx context.Context, group string, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*localSub, len(b.groups[group]))
	copy(subs, b.groups[group])
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(m)
	}
	return nil
}

// Subscribe attaches fn to group until the returned subscription is
// cancelled.
func (b *LocalBus) Subscribe(group string, fn Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	s := &localSub{bus: b, group: group, fn: fn}
	b.groups[group] = append(b.groups[group], s)
	return s, nil
}

// Close drops all subscriptions. Further publishes fail with
// ErrBusClosed.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.groups = make(map[string][]*localSub)
	return nil
}

func (s *localSub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.groups[s.group]
	for i, cur := range subs {
		if cur == s {
			b.groups[s.group] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.groups[s.group]) == 0 {
		delete(b.groups, s.group)
	}
	return nil
}
