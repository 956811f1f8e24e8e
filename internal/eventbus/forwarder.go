/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process batch events to external brokers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/events"
)

// Message is the wire envelope of a forwarded event.
type Message struct {
	Type      events.EventType `json:"type"`
	RunID     string           `json:"run_id"`
	NodeID    string           `json:"node_id"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   events.Payload   `json:"payload"`
}

// Sink publishes encoded messages to a broker.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Forwarder copies bus events to a sink under "<prefix>.<event type>".
type Forwarder struct {
	bus    *events.Bus
	sink   Sink
	prefix string
	runID  string
	nodeID string
	logger zerolog.Logger
	types  []events.EventType
	subs   []events.Subscriber
}

// NewForwarder subscribes to every batch event type immediately so no event
// published after construction is missed.
func NewForwarder(bus *events.Bus, sink Sink, prefix, runID, nodeID string, logger zerolog.Logger) *Forwarder {
	f := &Forwarder{
		bus:    bus,
		sink:   sink,
		prefix: prefix,
		runID:  runID,
		nodeID: nodeID,
		logger: logger.With().Str("component", "event_forwarder").Logger(),
		types:  events.AllTypes(),
	}
	for _, t := range f.types {
		f.subs = append(f.subs, bus.Subscribe(t))
	}
	return f
}

// Run forwards events until ctx is done, then drains what is buffered.
func (f *Forwarder) Run(ctx context.Context) error {
	cases := make([]reflect.SelectCase, 0, len(f.subs)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, sub := range f.subs {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sub)})
	}

	for {
		chosen, value, ok := reflect.Select(cases)
		if chosen == 0 {
			f.drain()
			return nil
		}
		if !ok {
			cases[chosen].Chan = reflect.ValueOf((chan events.Payload)(nil))
			continue
		}
		f.forward(context.Background(), f.types[chosen-1], value.Interface().(events.Payload))
	}
}

func (f *Forwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, sub := range f.subs {
		// Unsubscribe closes the channel; buffered payloads stay readable.
		f.bus.Unsubscribe(f.types[i], sub)
		for payload := range sub {
			f.forward(ctx, f.types[i], payload)
		}
	}
	if err := f.sink.Close(); err != nil {
		f.logger.Warn().Err(err).Msg("close sink")
	}
}

func (f *Forwarder) forward(ctx context.Context, eventType events.EventType, payload events.Payload) {
	data, err := json.Marshal(Message{
		Type:      eventType,
		RunID:     f.runID,
		NodeID:    f.nodeID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("encode event")
		return
	}
	subject := fmt.Sprintf("%s.%s", f.prefix, eventType)
	if err := f.sink.Publish(ctx, subject, data); err != nil {
		f.logger.Warn().Err(err).Str("subject", subject).Msg("forward event")
	}
}
