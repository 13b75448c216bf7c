// Package ingest moves interaction events from their sources (HTTP, Kafka,
// file replay) through validation and into the graph store and aggregation
// engine.
package ingest

import (
	"context"

	"github.com/convograph/convograph/internal/event"
)

// EventBus decouples event sources from the pipeline. Sources publish,
// the pipeline consumes.
type EventBus struct {
	events chan *event.InteractionEvent
}

// NewEventBus creates a bus with the given buffer size.
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 100
	}
	return &EventBus{events: make(chan *event.InteractionEvent, buffer)}
}

// Publish enqueues an event, blocking while the buffer is full.
func (b *EventBus) Publish(e *event.InteractionEvent) {
	b.events <- e
}

// Consume blocks until an event is available or the context is cancelled.
func (b *EventBus) Consume(ctx context.Context) (*event.InteractionEvent, error) {
	select {
	case e := <-b.events:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of buffered events.
func (b *EventBus) Size() int {
	return len(b.events)
}
