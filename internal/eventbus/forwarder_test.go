/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/events"
)

type published struct {
	subject string
	data    []byte
}

type fakeSink struct {
	mu     sync.Mutex
	msgs   []published
	fail   bool
	closed bool
}

func (s *fakeSink) Publish(_ context.Context, subject string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	s.msgs = append(s.msgs, published{subject: subject, data: data})
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) snapshot() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.msgs...)
}

func TestForwarderPublishesEnvelope(t *testing.T) {
	bus := events.NewBus()
	sink := &fakeSink{}
	fwd := NewForwarder(bus, sink, "audioharvest.events", "run-1", "node-a", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	bus.Publish(events.EventVideoOutcome, events.Payload{"video_id": "v1", "status": "success"})
	bus.Publish(events.EventPacingEscalated, events.Payload{"min": "10s"})

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs := sink.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	subjects := map[string]bool{}
	for _, m := range msgs {
		subjects[m.subject] = true
	}
	if !subjects["audioharvest.events.video.outcome"] || !subjects["audioharvest.events.pacing.escalated"] {
		t.Fatalf("subjects = %v", subjects)
	}

	for _, m := range msgs {
		if m.subject != "audioharvest.events.video.outcome" {
			continue
		}
		var msg Message
		if err := json.Unmarshal(m.data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.RunID != "run-1" || msg.NodeID != "node-a" || msg.Payload["video_id"] != "v1" {
			t.Fatalf("message = %+v", msg)
		}
	}
	if !sink.closed {
		t.Fatal("sink not closed")
	}
}

func TestForwarderDrainsOnShutdown(t *testing.T) {
	bus := events.NewBus()
	sink := &fakeSink{}
	fwd := NewForwarder(bus, sink, "x", "run", "node", zerolog.Nop())

	// Published before Run starts; still buffered in the subscription.
	bus.Publish(events.EventSummaryPublished, events.Payload{"successful": 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fwd.Run(ctx); err != nil {
		t.Fatal(err)
	}
	msgs := sink.snapshot()
	if len(msgs) != 1 || msgs[0].subject != "x.summary.published" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestForwarderSurvivesSinkErrors(t *testing.T) {
	bus := events.NewBus()
	sink := &fakeSink{fail: true}
	fwd := NewForwarder(bus, sink, "x", "run", "node", zerolog.Nop())
	bus.Publish(events.EventBatchState, events.Payload{"state": "running"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fwd.Run(ctx); err != nil {
		t.Fatalf("sink errors must not stop the forwarder: %v", err)
	}
}
