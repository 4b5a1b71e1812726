// Package eventbus carries guild command changes from the API to the workers
// and reports workflow executions.
package eventbus

import (
	"context"

	"github.com/guildhall/guildhall/pkg/events"
)

// Event is anything published on the bus. Its type selects the decoder on
// the consuming side.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events. Events sharing a key are delivered in order
// on transports that partition, so guild ids make good keys.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives a decoded event as a pointer to its concrete type.
// Returning an error asks for redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventSubscriber interface {
	// Handle sets the handler for one event type, replacing any previous one.
	Handle(eventType events.EventType, handler EventHandler) error
	// Subscribe starts delivering events until ctx ends.
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
