/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventVideoOutcome)
	other := bus.Subscribe(EventBatchState)

	bus.Publish(EventVideoOutcome, Payload{"video_id": "abc"})

	select {
	case got := <-sub:
		if got["video_id"] != "abc" {
			t.Fatalf("payload = %v", got)
		}
	default:
		t.Fatal("expected payload")
	}
	select {
	case got := <-other:
		t.Fatalf("unexpected payload on other type: %v", got)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventVideoOutcome)
	for i := 0; i < cap(sub)+10; i++ {
		bus.Publish(EventVideoOutcome, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("buffered %d, want %d", len(sub), cap(sub))
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventBatchState)
	b := bus.Subscribe(EventBatchState)
	bus.Unsubscribe(EventBatchState, a)

	if _, ok := <-a; ok {
		t.Fatal("expected closed subscriber")
	}
	bus.Publish(EventBatchState, Payload{"state": "running"})
	if len(b) != 1 {
		t.Fatal("remaining subscriber missed event")
	}
	// A second unsubscribe is a no-op.
	bus.Unsubscribe(EventBatchState, a)
}
