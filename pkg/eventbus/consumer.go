package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
)

// defaultDedupWindow bounds how many event IDs the consumer remembers.
const defaultDedupWindow = 4096

// EnvelopeConsumer validates and routes envelopes and suppresses duplicate
// deliveries. The duplicate window is bounded; once it fills, the oldest
// remembered event IDs are forgotten in insertion order.
type EnvelopeConsumer struct {
	router *SchemaRouter
	window int

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewEnvelopeConsumer creates a schema-aware consumer.
func NewEnvelopeConsumer(router *SchemaRouter) *EnvelopeConsumer {
	return &EnvelopeConsumer{
		router: router,
		window: defaultDedupWindow,
		seen:   make(map[string]struct{}),
	}
}

// DecodeAndValidate decodes raw event bytes, validates schema routing, and
// suppresses duplicates. The third return value reports whether the event
// was already seen.
func (c *EnvelopeConsumer) DecodeAndValidate(raw []byte) (Envelope, any, bool, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, nil, false, fmt.Errorf("eventbus: invalid envelope json: %w", err)
	}

	if c.router != nil {
		if err := c.router.ValidateIncoming(envelope); err != nil {
			return Envelope{}, nil, false, err
		}
	}

	if c.markSeen(envelope.EventID) {
		return envelope, nil, true, nil
	}

	var decoded any = envelope
	var err error
	if c.router != nil {
		decoded, err = c.router.Decode(envelope)
		if err != nil {
			return Envelope{}, nil, false, err
		}
	}
	return envelope, decoded, false, nil
}

// markSeen records the event ID and reports whether it was a duplicate.
func (c *EnvelopeConsumer) markSeen(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.seen[eventID]; exists {
		return true
	}
	c.seen[eventID] = struct{}{}
	c.order = append(c.order, eventID)
	if len(c.order) > c.window {
		evicted := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, evicted)
	}
	return false
}
