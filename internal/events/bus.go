/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventBatchState       EventType = "batch.state"
	EventVideoOutcome     EventType = "video.outcome"
	EventChannelStarted   EventType = "channel.started"
	EventChannelComplete  EventType = "channel.complete"
	EventChannelFailed    EventType = "channel.failed"
	EventPacingEscalated  EventType = "pacing.escalated"
	EventCheckpointSaved  EventType = "checkpoint.saved"
	EventSummaryPublished EventType = "summary.published"
)

// AllTypes lists every event type the batch publishes.
func AllTypes() []EventType {
	return []EventType{
		EventBatchState,
		EventVideoOutcome,
		EventChannelStarted,
		EventChannelComplete,
		EventChannelFailed,
		EventPacingEscalated,
		EventCheckpointSaved,
		EventSummaryPublished,
	}
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the write side of a bus.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Slow subscribers miss events
// rather than stall the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]Subscriber
	buffer int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber), buffer: 64}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, b.buffer)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers without blocking.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes it.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}
