/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package runlock keeps two batch processes from sharing one checkpoint.
package runlock

import (
	"context"
	"errors"
)

// ErrHeld is returned when another process owns the lock.
var ErrHeld = errors.New("run lock held by another process")

// Lock is an exclusive run lock.
type Lock interface {
	// Acquire takes the lock or returns ErrHeld.
	Acquire(ctx context.Context) error
	// Release gives the lock up. Releasing an unheld lock is a no-op.
	Release(ctx context.Context) error
}
