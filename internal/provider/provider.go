/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package provider defines the upstream media source the batch talks to.
package provider

import (
	"context"
	"fmt"
	"iter"

	"github.com/friendsincode/audioharvest/internal/models"
)

// DefaultFormatPreference asks for lossless audio first, then the best lossy.
const DefaultFormatPreference = "bestaudio[ext=wav]/bestaudio[ext=flac]/bestaudio[ext=m4a]/bestaudio/best"

// FormatSelector is DefaultFormatPreference with every preferred container
// restricted to streams at or above minSampleRate. The unfiltered tail still
// fetches something so the caller can report the quality floor.
func FormatSelector(minSampleRate int) string {
	if minSampleRate <= 0 {
		return DefaultFormatPreference
	}
	floor := fmt.Sprintf("[asr>=%d]", minSampleRate)
	return "bestaudio[ext=wav]" + floor +
		"/bestaudio[ext=flac]" + floor +
		"/bestaudio[ext=m4a]" + floor +
		"/bestaudio" + floor +
		"/bestaudio/best"
}

// VideoInfo is provider-side metadata for a single video.
type VideoInfo struct {
	Title       string
	UploadDate  string
	Uploader    string
	DurationSec float64
	ViewCount   int64
	LikeCount   int64
	Description string
	OriginalURL string
}

// Stream is one fetched audio file and its probed properties.
type Stream struct {
	Path  string
	Audio models.AudioMetadata
}

// Fetched is the result of a successful fetch. Streams live inside the
// request's WorkDir.
type Fetched struct {
	Info    VideoInfo
	Streams []Stream
}

// FetchRequest parameterizes a single fetch.
type FetchRequest struct {
	Channel models.ChannelEntry
	VideoID models.VideoID
	// WorkDir is a scratch directory owned by the caller.
	WorkDir string
	// RateLimitBytesPerSec is forwarded to the provider. Zero means unlimited.
	RateLimitBytesPerSec int64
	// CredentialsRef is an opaque reference, e.g. a cookies file path.
	CredentialsRef   string
	FormatPreference string
	// MinSampleRate lets the provider prefer streams above the quality floor.
	MinSampleRate int
}

// EnumerateRequest parameterizes a channel listing.
type EnumerateRequest struct {
	Channel        models.ChannelEntry
	CredentialsRef string
	// Limit caps the listing at the first Limit videos. Zero means all.
	Limit int
}

// MediaProvider enumerates channel videos and fetches their audio. Errors
// are classified with the failure package.
type MediaProvider interface {
	// Enumerate yields video ids in provider order. The listing call has
	// finished before the first id is yielded, so consumers may contact the
	// provider while ranging. An error, if any, is yielded after the ids
	// that were listed.
	Enumerate(ctx context.Context, req EnumerateRequest) iter.Seq2[models.VideoID, error]
	Fetch(ctx context.Context, req FetchRequest) (*Fetched, error)
}
