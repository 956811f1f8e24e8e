/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package failure classifies the errors a batch run can produce.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind enumerates failure classes.
type Kind string

const (
	Transient             Kind = "transient"
	Blocked               Kind = "blocked"
	NoAudioTrack          Kind = "no_audio_track"
	BelowQualityFloor     Kind = "below_quality_floor"
	DiskIO                Kind = "disk_io"
	MalformedChannelEntry Kind = "malformed_channel_entry"
	ConfigInvalid         Kind = "config_invalid"
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Permanent disables retries even for otherwise retryable kinds.
	Permanent bool
	// Fatal stops the whole batch rather than the current unit.
	Fatal bool
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Unclassified errors are Transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// Retryable reports whether another attempt could succeed.
// Only unmarked Transient failures qualify. Cancellation never does.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == Transient && !fe.Permanent
	}
	return true
}

// IsFatal reports whether err must stop the batch.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Fatal
}
