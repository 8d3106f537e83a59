// Package events is the in-process event bus shared by the funnel modules.
// It knows nothing about leads or stages; domain events live in internal/events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every message published on the bus.
type Event interface {
	// EventName is the routing key handlers subscribe to.
	EventName() string
	EventID() uuid.UUID
	OccurredAt() time.Time
}

// BaseEvent carries the identity and timestamp embedded in every event.
type BaseEvent struct {
	ID        uuid.UUID `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventID() uuid.UUID { return e.ID }

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent stamps a fresh id and the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{ID: uuid.New(), Timestamp: time.Now().UTC()}
}

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is what domain services depend on.
type Publisher interface {
	// Publish hands the event to its handlers in the background.
	Publish(ctx context.Context, event Event)
	// PublishSync runs every handler before returning and joins their errors.
	PublishSync(ctx context.Context, event Event) error
}

// Subscriber is what event consumers (dispatcher, relay) depend on.
type Subscriber interface {
	Subscribe(eventName string, handler Handler)
}

type Bus interface {
	Publisher
	Subscriber
}
