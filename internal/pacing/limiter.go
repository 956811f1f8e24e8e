/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pacing spaces provider requests with randomized waits.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Bounds is the inclusive range of a single wait.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

// Validate rejects negative or inverted bounds.
func (b Bounds) Validate() error {
	if b.Min < 0 || b.Max < 0 {
		return fmt.Errorf("sleep bounds must be non-negative (min=%s max=%s)", b.Min, b.Max)
	}
	if b.Min > b.Max {
		return fmt.Errorf("sleep min %s exceeds max %s", b.Min, b.Max)
	}
	return nil
}

// Widen multiplies both bounds by factor, clamped to ceiling. A zero ceiling
// means no cap.
func (b Bounds) Widen(factor float64, ceiling time.Duration) Bounds {
	if factor < 1 {
		factor = 1
	}
	widened := Bounds{
		Min: time.Duration(float64(b.Min) * factor),
		Max: time.Duration(float64(b.Max) * factor),
	}
	if ceiling > 0 {
		widened.Min = min(widened.Min, ceiling)
		widened.Max = min(widened.Max, ceiling)
	}
	return widened
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%s, %s]", b.Min, b.Max)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter produces one randomized wait per video.
type Limiter struct {
	mu     sync.Mutex
	bounds Bounds
	rng    *rand.Rand
	sleep  SleepFunc
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(l *Limiter) { l.rng = r }
}

// WithSleep replaces the wait implementation.
func WithSleep(fn SleepFunc) Option {
	return func(l *Limiter) { l.sleep = fn }
}

// NewLimiter creates a limiter with the given bounds.
func NewLimiter(bounds Bounds, opts ...Option) (*Limiter, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		bounds: bounds,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		sleep:  contextSleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Bounds returns the current bounds.
func (l *Limiter) Bounds() Bounds {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds
}

// SetBounds replaces the bounds used by subsequent waits.
func (l *Limiter) SetBounds(b Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.bounds = b
	l.mu.Unlock()
	return nil
}

// Next draws a duration uniformly from the current bounds without waiting.
func (l *Limiter) Next() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	span := l.bounds.Max - l.bounds.Min
	if span <= 0 {
		return l.bounds.Min
	}
	return l.bounds.Min + time.Duration(l.rng.Int64N(int64(span)+1))
}

// Wait blocks for a random duration within the bounds and returns it.
// Cancellation returns ctx.Err().
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	d := l.Next()
	if err := l.sleep(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
