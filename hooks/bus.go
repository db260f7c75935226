// Package hooks implements the runtime's observer mechanism: a synchronous
// fan-out event bus used by the step loop (C4), the suspension resumer (C5),
// and the stream orchestrator (C6) to notify subscribers (memory/transcript
// persistence, the stream sink, telemetry) of run lifecycle events.
//
// Per spec.md §5, "observer hook chains are invoked serially in registration
// order" and a subscriber error halts delivery; this package is the concrete
// implementation of that contract.
package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes runtime events to registered subscribers in a fan-out
	// pattern. Bus implementations are thread-safe and support concurrent
	// Publish, Register, and subscription Close calls.
	Bus interface {
		// Publish delivers event to every currently registered subscriber in
		// registration order, stopping at the first subscriber error.
		Publish(ctx context.Context, event Event) error
		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister it.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// HandleEvent calls f(ctx, event).
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs a new in-memory event bus, ready for immediate use.
func NewBus() Bus {
	return &bus{}
}

// Publish delivers event to every currently registered subscriber, in
// registration order, stopping at the first error. The subscriber snapshot
// is taken before iteration begins (as an ordered slice, not a map, so
// delivery order matches registration order) so concurrent
// (un)registration does not affect the current delivery. Returns nil
// immediately if there are no subscribers.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds sub to the bus. Returns an error if sub is nil.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("hooks: subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent and thread-safe.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, cur := range s.bus.subscribers {
			if cur == s {
				s.bus.subscribers = append(s.bus.subscribers[:i], s.bus.subscribers[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
