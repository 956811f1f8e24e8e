/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pacing

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"
)

func recordingSleep(out *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*out = append(*out, d)
		return ctx.Err()
	}
}

func TestWaitStaysWithinBounds(t *testing.T) {
	var slept []time.Duration
	bounds := Bounds{Min: 5 * time.Second, Max: 10 * time.Second}
	l, err := NewLimiter(bounds, WithRand(rand.New(rand.NewPCG(1, 2))), WithSleep(recordingSleep(&slept)))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	for i := 0; i < 500; i++ {
		d, err := l.Wait(context.Background())
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if d < bounds.Min || d > bounds.Max {
			t.Fatalf("wait %s outside %s", d, bounds)
		}
	}
	if len(slept) != 500 {
		t.Fatalf("slept %d times, want 500", len(slept))
	}
}

func TestWaitEqualBounds(t *testing.T) {
	l, err := NewLimiter(Bounds{Min: time.Second, Max: time.Second}, WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatal(err)
	}
	if d, _ := l.Wait(context.Background()); d != time.Second {
		t.Fatalf("wait = %s, want 1s", d)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	l, err := NewLimiter(Bounds{Min: time.Hour, Max: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = l.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("wait did not abort promptly")
	}
}

func TestInvalidBounds(t *testing.T) {
	if _, err := NewLimiter(Bounds{Min: 2 * time.Second, Max: time.Second}); err == nil {
		t.Fatal("expected inverted bounds to fail")
	}
	if _, err := NewLimiter(Bounds{Min: -time.Second, Max: time.Second}); err == nil {
		t.Fatal("expected negative bounds to fail")
	}
}

func TestWiden(t *testing.T) {
	b := Bounds{Min: 5 * time.Second, Max: 10 * time.Second}

	got := b.Widen(2, 0)
	if got.Min != 10*time.Second || got.Max != 20*time.Second {
		t.Fatalf("widen = %s", got)
	}

	capped := b.Widen(2, 15*time.Second)
	if capped.Min != 10*time.Second || capped.Max != 15*time.Second {
		t.Fatalf("capped widen = %s", capped)
	}
}

func TestSetBoundsAffectsNextWait(t *testing.T) {
	var slept []time.Duration
	l, err := NewLimiter(Bounds{Min: time.Second, Max: time.Second}, WithSleep(recordingSleep(&slept)))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.SetBounds(Bounds{Min: 3 * time.Second, Max: 3 * time.Second}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if slept[0] != 3*time.Second {
		t.Fatalf("slept %s, want 3s", slept[0])
	}
	if err := l.SetBounds(Bounds{Min: 2, Max: 1}); err == nil {
		t.Fatal("expected invalid bounds to be rejected")
	}
}
