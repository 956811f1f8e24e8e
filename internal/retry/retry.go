/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package retry runs provider calls under a finite attempt policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/failure"
)

// Policy bounds how often a unit of work is attempted.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// AttemptTimeout bounds each attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
	// Retryable decides whether an error may be retried. Defaults to failure.Retryable.
	Retryable func(error) bool
}

// DefaultPolicy matches the batch defaults: 3 attempts, 2s apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Backoff:        2 * time.Second,
		AttemptTimeout: 15 * time.Minute,
		Retryable:      failure.Retryable,
	}
}

// Do runs fn until it succeeds, fails permanently, exhausts the policy, or
// ctx is cancelled. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, logger zerolog.Logger, fn func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = failure.Retryable
	}

	attempts := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		attemptCtx, cancel := attemptContext(ctx, p.AttemptTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		// Parent cancellation is never retried.
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && !failure.Is(err, failure.Transient) {
			err = failure.New(failure.Transient, "attempt", fmt.Errorf("attempt timed out after %s: %w", p.AttemptTimeout, err))
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(p.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", p.MaxAttempts).
			Dur("backoff", wait).
			Msg("attempt failed, retrying")
	}

	err := backoff.RetryNotify(op, policy, notify)
	return attempts, err
}

func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
