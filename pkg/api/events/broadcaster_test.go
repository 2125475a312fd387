package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/flowforge/flowforge/pkg/eventbus"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	a := b.Subscribe(4)
	c := b.Subscribe(4)

	b.Broadcast(Event{Type: "workflow_progress", ExecutionID: "exec-1"})

	for _, ch := range []chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.ExecutionID != "exec-1" {
				t.Errorf("unexpected execution id %q", ev.ExecutionID)
			}
			if ev.Timestamp.IsZero() {
				t.Error("expected timestamp to be stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch := b.Subscribe(1)
	b.Broadcast(Event{Type: "a"})

	done := make(chan struct{})
	go func() {
		b.Broadcast(Event{Type: "b"}) // buffer full, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full subscriber")
	}

	if ev := <-ch; ev.Type != "a" {
		t.Errorf("expected first event retained, got %q", ev.Type)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("expected channel to be closed")
	}
	// Second unsubscribe is a no-op.
	b.Unsubscribe(ch)
}

func TestPumpRebroadcastsEnvelopes(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	sub, err := bus.Subscribe("flowforge.v1.lifecycle.>", 16)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	b := NewBroadcaster()
	defer b.Close()
	out := b.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Pump(ctx, sub.C(), eventbus.NewEnvelopeConsumer(nil))

	envelope, err := eventbus.BuildEnvelope(eventbus.BuildEnvelopeInput{
		EventType:   "workflow_progress",
		NodeID:      "node-1",
		ExecutionID: "exec-9",
		OrderingKey: "exec-9",
		Sequence:    1,
		Payload:     map[string]any{"progress_percentage": 40.0},
	})
	if err != nil {
		t.Fatalf("BuildEnvelope failed: %v", err)
	}
	raw, _ := json.Marshal(envelope)
	if err := bus.Publish(context.Background(), eventbus.ExecutionSubject("exec-9", "workflow_progress"), raw); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case ev := <-out:
		if ev.ExecutionID != "exec-9" {
			t.Errorf("unexpected execution id %q", ev.ExecutionID)
		}
		if ev.Type != "workflow_progress" {
			t.Errorf("unexpected type %q", ev.Type)
		}
		payload, ok := ev.Payload.(map[string]any)
		if !ok {
			t.Fatalf("expected decoded payload map, got %T", ev.Payload)
		}
		if payload["progress_percentage"] != 40.0 {
			t.Errorf("unexpected payload %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("pumped event never arrived")
	}
}

func TestPumpWithSchemaRouterDropsInvalidEnvelopes(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	sub, err := bus.Subscribe("flowforge.v1.lifecycle.>", 16)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	b := NewBroadcaster()
	defer b.Close()
	out := b.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Pump(ctx, sub.C(), eventbus.NewEnvelopeConsumer(eventbus.NewDefaultSchemaRouter()))

	publish := func(executionID string, payload map[string]any) {
		t.Helper()
		envelope, err := eventbus.BuildEnvelope(eventbus.BuildEnvelopeInput{
			EventType:   "workflow_progress",
			NodeID:      "node-1",
			ExecutionID: executionID,
			OrderingKey: executionID,
			Sequence:    1,
			Payload:     payload,
		})
		if err != nil {
			t.Fatalf("BuildEnvelope failed: %v", err)
		}
		raw, _ := json.Marshal(envelope)
		if err := bus.Publish(context.Background(), eventbus.ExecutionSubject(executionID, "workflow_progress"), raw); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// Missing the required progress_percentage field; the router rejects
	// it before it reaches subscribers.
	publish("exec-bad", map[string]any{"eta_seconds": 5.0})
	publish("exec-good", map[string]any{"progress_percentage": 80.0})

	select {
	case ev := <-out:
		if ev.ExecutionID != "exec-good" {
			t.Errorf("expected only the valid envelope, got %q", ev.ExecutionID)
		}
	case <-time.After(time.Second):
		t.Fatal("valid envelope never arrived")
	}
	select {
	case ev := <-out:
		t.Errorf("invalid envelope was rebroadcast: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
