// Package eventbus provides the messaging layer between the engine stream
// ingress, the run tracker, and downstream lifecycle consumers.
package eventbus

import (
	"context"

	"github.com/runtrace/runtrace/pkg/events"
)

// Event is any outbound bus event carrying its own type.
type Event interface {
	GetType() events.EventType
}

// StreamHandler consumes one decoded engine stream frame.
type StreamHandler func(ctx context.Context, event *events.StreamEvent) error

// EventHandler consumes one decoded lifecycle event.
type EventHandler func(ctx context.Context, event any) error

type StreamPublisher interface {
	PublishStream(ctx context.Context, key string, event *events.StreamEvent) error
}

type StreamSubscriber interface {
	SubscribeStream(ctx context.Context, handler StreamHandler) error
}

type LifecyclePublisher interface {
	PublishLifecycle(ctx context.Context, key string, event Event) error
}

type LifecycleSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	SubscribeLifecycle(ctx context.Context) error
}

type EventBus interface {
	StreamPublisher
	StreamSubscriber
	LifecyclePublisher
	LifecycleSubscriber
	Close() error
	GenerateID() string
}
