/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"slices"
	"time"

	"github.com/friendsincode/audioharvest/internal/failure"
)

// ChannelEntry is one line of the channel list. Identity is (Index, URL).
type ChannelEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// VideoID is an opaque provider identifier, unique within a channel.
type VideoID string

// AudioMetadata describes a fetched audio stream. Values come from probing
// the stream itself.
type AudioMetadata struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
	FileSize   int64  `json:"file_size"`
}

// Lossless reports whether the container is one of the lossless formats.
func (a AudioMetadata) Lossless() bool {
	switch a.Format {
	case "wav", "flac":
		return true
	}
	return false
}

// VideoRecord is the persisted per-video metadata document.
type VideoRecord struct {
	VideoID           VideoID       `json:"video_id"`
	Title             string        `json:"title"`
	ChannelURL        string        `json:"channel_url"`
	ChannelName       string        `json:"channel_name"`
	UploadDate        string        `json:"upload_date"`
	Uploader          string        `json:"uploader"`
	DurationSec       float64       `json:"duration_sec"`
	ViewCount         int64         `json:"view_count"`
	LikeCount         int64         `json:"like_count,omitempty"`
	Description       string        `json:"description,omitempty"`
	OriginalURL       string        `json:"original_url,omitempty"`
	AudioMetadata     AudioMetadata `json:"audio_metadata"`
	DownloadTimestamp time.Time     `json:"download_timestamp"`
}

// OutcomeStatus tags an Outcome.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusSkipped OutcomeStatus = "skipped"
	StatusFailed  OutcomeStatus = "failed"
)

// Skip reasons.
const (
	SkipAlreadyCompleted = "already-completed"
	SkipAlreadyOnDisk    = "already-on-disk"
)

// Outcome is the result of one video attempt. Treat it as immutable.
type Outcome struct {
	Status     OutcomeStatus `json:"status"`
	ChannelURL string        `json:"channel_url"`
	VideoID    VideoID       `json:"video_id"`
	Attempts   int           `json:"attempts,omitempty"`
	At         time.Time     `json:"at"`

	Record *VideoRecord `json:"record,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Kind   failure.Kind `json:"kind,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

// Success builds a successful outcome.
func Success(channelURL string, rec VideoRecord, attempts int, at time.Time) Outcome {
	return Outcome{
		Status:     StatusSuccess,
		ChannelURL: channelURL,
		VideoID:    rec.VideoID,
		Attempts:   attempts,
		At:         at,
		Record:     &rec,
	}
}

// Skipped builds a skipped outcome.
func Skipped(channelURL string, id VideoID, reason string, at time.Time) Outcome {
	return Outcome{Status: StatusSkipped, ChannelURL: channelURL, VideoID: id, Reason: reason, At: at}
}

// Failed builds a failed outcome.
func Failed(channelURL string, id VideoID, kind failure.Kind, detail string, attempts int, at time.Time) Outcome {
	return Outcome{
		Status:     StatusFailed,
		ChannelURL: channelURL,
		VideoID:    id,
		Kind:       kind,
		Detail:     detail,
		Attempts:   attempts,
		At:         at,
	}
}

// Completes reports whether the outcome leaves a valid artifact pair on disk.
func (o Outcome) Completes() bool {
	return o.Status == StatusSuccess || (o.Status == StatusSkipped && o.Reason == SkipAlreadyOnDisk)
}

// FailureRecord is a failed video as listed in the summary.
type FailureRecord struct {
	VideoID  VideoID      `json:"video_id"`
	Kind     failure.Kind `json:"kind"`
	Detail   string       `json:"detail"`
	Attempts int          `json:"attempts"`
}

// ChannelSummary is the per-channel breakdown of a run.
type ChannelSummary struct {
	Index          int             `json:"index"`
	Name           string          `json:"name"`
	URL            string          `json:"url"`
	Attempted      int             `json:"attempted"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	Completed      bool            `json:"completed"`
	SkippedChannel bool            `json:"skipped_channel,omitempty"`
	EnumerateError string          `json:"enumerate_error,omitempty"`
	Failures       []FailureRecord `json:"failures,omitempty"`
}

// BatchSummary is the end-of-run report. PerChannel is keyed by channel URL,
// matching the checkpoint.
type BatchSummary struct {
	RunID         string                    `json:"run_id"`
	StartedAt     time.Time                 `json:"started_at"`
	FinishedAt    time.Time                 `json:"finished_at"`
	Interrupted   bool                      `json:"interrupted"`
	FatalError    string                    `json:"fatal_error,omitempty"`
	TotalChannels int                       `json:"total_channels"`
	TotalVideos   int                       `json:"total_videos"`
	Successful    int                       `json:"successful"`
	Failed        int                       `json:"failed"`
	Skipped       int                       `json:"skipped"`
	Escalations   int                       `json:"escalations"`
	PerChannel    map[string]ChannelSummary `json:"per_channel"`
}

// Channels returns the per-channel entries in channel list order.
func (s BatchSummary) Channels() []ChannelSummary {
	out := make([]ChannelSummary, 0, len(s.PerChannel))
	for _, c := range s.PerChannel {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b ChannelSummary) int { return a.Index - b.Index })
	return out
}
