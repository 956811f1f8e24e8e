/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ytdlp

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/friendsincode/audioharvest/internal/failure"
)

var blockedMarkers = []string{
	"http error 403",
	"http error 429",
	"too many requests",
	"sign in to confirm",
	"confirm you're not a bot",
	"confirm you’re not a bot",
}

// Unavailable content will not reappear on retry.
var unavailableMarkers = []string{
	"private video",
	"video unavailable",
	"has been removed",
	"members-only",
	"join this channel to get access",
	"this live event will begin",
	"is not available in your country",
}

// classify maps a failed yt-dlp invocation to a failure kind using its stderr.
func classify(op, stderr string, err error) error {
	detail := lastErrorLine(stderr)
	if detail == "" && err != nil {
		detail = err.Error()
	}
	lower := strings.ToLower(stderr)

	// The binary could not be started at all.
	var execErr *exec.Error
	var pathErr *fs.PathError
	if errors.As(err, &execErr) || errors.As(err, &pathErr) {
		return &failure.Error{Kind: failure.Transient, Op: op, Err: err, Permanent: true}
	}

	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return failure.New(failure.Blocked, op, errors.New(detail))
		}
	}
	for _, m := range unavailableMarkers {
		if strings.Contains(lower, m) {
			return &failure.Error{Kind: failure.Transient, Op: op, Err: errors.New(detail), Permanent: true}
		}
	}
	if strings.Contains(lower, "requested format is not available") {
		return failure.New(failure.NoAudioTrack, op, errors.New(detail))
	}
	if strings.Contains(lower, "no space left on device") {
		return failure.New(failure.DiskIO, op, errors.New(detail))
	}
	return failure.New(failure.Transient, op, fmt.Errorf("%s: %w", detail, err))
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}
