package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlanComputed)

	bus.Publish(EventPlanComputed, Payload{"plan_id": "p1"})

	select {
	case payload := <-sub:
		if payload["plan_id"] != "p1" {
			t.Fatalf("payload = %v, want plan_id p1", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlanConflict)

	// Fill the subscriber buffer and keep publishing; Publish must return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			bus.Publish(EventPlanConflict, Payload{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// Drain what made it through; buffer capacity bounds it.
	var received int
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 8 {
		t.Fatalf("received = %d, want between 1 and the buffer size", received)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventMealUpcoming)
	bus.Unsubscribe(EventMealUpcoming, sub)

	if _, open := <-sub; open {
		t.Fatal("expected channel to be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventMealUpcoming, Payload{"meal": "sunday dinner"})
}
