// Package events provides the in-process domain event dispatcher.
//
// Core services publish one event per committed mutation; observers such as
// the audit recorder and the anomaly detector subscribe independently. A
// subscriber failure or panic never propagates back to the publisher, so the
// business transaction that already committed cannot be rolled back or failed
// by observation.
package events

import (
	"context"
	"log"
	"sync"
	"time"
)

// Event is the envelope published for every committed domain mutation.
type Event struct {
	Name         string
	ActorID      string
	ResourceType string
	ResourceID   string
	Success      bool
	Before       map[string]any
	After        map[string]any
	Timestamp    time.Time
}

// Handler consumes one published event. Returned errors are logged, not
// propagated.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Bus dispatches events to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	clock    func() time.Time
}

// NewBus creates an empty dispatcher.
func NewBus() *Bus {
	return &Bus{clock: time.Now}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(handler Handler) {
	if b == nil || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers evt to every subscriber. Delivery is synchronous so tests
// observe effects deterministically; failures are contained per subscriber.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		if b.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = b.clock().UTC()
		}
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		dispatch(ctx, handler, evt)
	}
}

func dispatch(ctx context.Context, handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event subscriber panic on %s: %v", evt.Name, r)
		}
	}()
	if err := handler.Handle(ctx, evt); err != nil {
		log.Printf("event subscriber %s: %v", evt.Name, err)
	}
}
