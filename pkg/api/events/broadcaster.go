// Package events fans lifecycle events out to in-process subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flowforge/flowforge/pkg/eventbus"
)

// Event is the payload broadcast to websocket subscribers.
type Event struct {
	Type        string    `json:"type"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ScheduleID  string    `json:"schedule_id,omitempty"`
	StepID      string    `json:"step_id,omitempty"`
	Sequence    int64     `json:"sequence,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast delivers an event to all subscribers. Slow subscribers drop
// events rather than block the caller.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Pump consumes bus messages and rebroadcasts them as Events until the
// context is cancelled or the message channel closes. Duplicate envelopes
// are suppressed by the consumer.
func (b *Broadcaster) Pump(ctx context.Context, messages <-chan eventbus.Message, consumer *eventbus.EnvelopeConsumer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			envelope, _, duplicate, err := consumer.DecodeAndValidate(msg.Payload)
			if err != nil || duplicate {
				continue
			}

			var payload any
			if len(envelope.Payload) > 0 {
				_ = json.Unmarshal(envelope.Payload, &payload)
			}

			b.Broadcast(Event{
				Type:        envelope.EventType,
				ExecutionID: envelope.ExecutionID,
				ScheduleID:  envelope.ScheduleID,
				StepID:      envelope.StepID,
				Sequence:    envelope.Sequence,
				Timestamp:   envelope.Timestamp,
				Payload:     payload,
			})
		}
	}
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
