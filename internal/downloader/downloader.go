/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package downloader fetches, validates and persists a single video.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/fsutil"
	"github.com/friendsincode/audioharvest/internal/models"
	"github.com/friendsincode/audioharvest/internal/provider"
	"github.com/friendsincode/audioharvest/internal/retry"
)

// Config holds the per-video request parameters.
type Config struct {
	OutputRoot           string
	MinSampleRate        int
	RateLimitBytesPerSec int64
	CredentialsRef       string
	FormatPreference     string
	Retry                retry.Policy
}

// Job identifies one video to process.
type Job struct {
	Channel models.ChannelEntry
	VideoID models.VideoID
	// AlreadyCompleted is true when the checkpoint lists the video.
	AlreadyCompleted bool
}

// Downloader turns a Job into an Outcome.
type Downloader struct {
	provider provider.MediaProvider
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a downloader.
func New(p provider.MediaProvider, cfg Config, logger zerolog.Logger) *Downloader {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &Downloader{
		provider: p,
		cfg:      cfg,
		logger:   logger.With().Str("component", "downloader").Logger(),
		now:      time.Now,
	}
}

// Pending reports whether Run would contact the provider for job.
func (d *Downloader) Pending(job Job) bool {
	if job.AlreadyCompleted {
		return false
	}
	return !CompleteOnDisk(VideoDir(d.cfg.OutputRoot, job.Channel, job.VideoID), job.VideoID)
}

// Run processes one video. The returned error is reserved for conditions
// that must stop the batch: cancellation and an unusable output root.
func (d *Downloader) Run(ctx context.Context, job Job) (models.Outcome, error) {
	now := d.now().UTC()
	if job.AlreadyCompleted {
		return models.Skipped(job.Channel.URL, job.VideoID, models.SkipAlreadyCompleted, now), nil
	}

	finalDir := VideoDir(d.cfg.OutputRoot, job.Channel, job.VideoID)
	if CompleteOnDisk(finalDir, job.VideoID) {
		d.logger.Info().Str("video_id", string(job.VideoID)).Msg("artifacts already on disk")
		return models.Skipped(job.Channel.URL, job.VideoID, models.SkipAlreadyOnDisk, now), nil
	}

	chDir := ChannelDir(d.cfg.OutputRoot, job.Channel)
	if err := os.MkdirAll(chDir, 0o755); err != nil {
		return d.diskFailure(job, "create channel folder", err, 0)
	}
	tmpDir := filepath.Join(chDir, tempPrefix+SanitizeName(string(job.VideoID))+"-"+uuid.NewString())
	workDir := filepath.Join(tmpDir, ".work")
	defer os.RemoveAll(tmpDir)

	log := d.logger.With().
		Str("channel", job.Channel.Name).
		Str("video_id", string(job.VideoID)).
		Logger()

	var fetched *provider.Fetched
	attempts, err := retry.Do(ctx, d.cfg.Retry, log, func(attemptCtx context.Context) error {
		if err := resetDir(workDir); err != nil {
			return &failure.Error{Kind: failure.DiskIO, Op: "prepare work dir", Err: err, Permanent: true}
		}
		var ferr error
		fetched, ferr = d.provider.Fetch(attemptCtx, provider.FetchRequest{
			Channel:              job.Channel,
			VideoID:              job.VideoID,
			WorkDir:              workDir,
			RateLimitBytesPerSec: d.cfg.RateLimitBytesPerSec,
			CredentialsRef:       d.cfg.CredentialsRef,
			FormatPreference:     d.cfg.FormatPreference,
			MinSampleRate:        d.cfg.MinSampleRate,
		})
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.Outcome{}, ctx.Err()
		}
		kind := failure.KindOf(err)
		if kind == failure.DiskIO {
			return d.diskFailure(job, "fetch", err, attempts)
		}
		log.Warn().Err(err).Str("kind", string(kind)).Int("attempts", attempts).Msg("fetch failed")
		return models.Failed(job.Channel.URL, job.VideoID, kind, err.Error(), attempts, d.now().UTC()), nil
	}

	stream, err := SelectStream(fetched.Streams, d.cfg.MinSampleRate)
	if err != nil {
		log.Warn().Err(err).Msg("stream rejected")
		return models.Failed(job.Channel.URL, job.VideoID, failure.KindOf(err), err.Error(), attempts, d.now().UTC()), nil
	}

	rec := models.VideoRecord{
		VideoID:           job.VideoID,
		Title:             fetched.Info.Title,
		ChannelURL:        job.Channel.URL,
		ChannelName:       job.Channel.Name,
		UploadDate:        fetched.Info.UploadDate,
		Uploader:          fetched.Info.Uploader,
		DurationSec:       fetched.Info.DurationSec,
		ViewCount:         fetched.Info.ViewCount,
		LikeCount:         fetched.Info.LikeCount,
		Description:       fetched.Info.Description,
		OriginalURL:       fetched.Info.OriginalURL,
		AudioMetadata:     stream.Audio,
		DownloadTimestamp: d.now().UTC(),
	}

	if err := d.persist(tmpDir, workDir, finalDir, stream, rec); err != nil {
		return d.diskFailure(job, "persist", err, attempts)
	}

	log.Info().
		Str("codec", stream.Audio.Codec).
		Int("sample_rate", stream.Audio.SampleRate).
		Str("format", stream.Audio.Format).
		Int("attempts", attempts).
		Msg("video saved")
	return models.Success(job.Channel.URL, rec, attempts, rec.DownloadTimestamp), nil
}

// persist moves the chosen stream and the metadata document into tmpDir,
// syncs them, then renames tmpDir to finalDir in one step.
func (d *Downloader) persist(tmpDir, workDir, finalDir string, stream provider.Stream, rec models.VideoRecord) error {
	base := SanitizeName(string(rec.VideoID))
	audioPath := filepath.Join(tmpDir, base+"."+stream.Audio.Format)
	if err := os.Rename(stream.Path, audioPath); err != nil {
		return fmt.Errorf("move audio: %w", err)
	}
	if err := fsutil.SyncFile(audioPath); err != nil {
		return fmt.Errorf("sync audio: %w", err)
	}
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("remove work dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := fsutil.WriteFileSync(filepath.Join(tmpDir, base+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := fsutil.SyncDir(tmpDir); err != nil {
		return err
	}

	// A folder at the target is a leftover without a complete pair.
	if err := os.RemoveAll(finalDir); err != nil {
		return fmt.Errorf("clear incomplete folder: %w", err)
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return fsutil.SyncDir(filepath.Dir(finalDir))
}

// diskFailure records a DiskIO outcome, escalating to a fatal error when the
// output root itself cannot be written.
func (d *Downloader) diskFailure(job Job, op string, err error, attempts int) (models.Outcome, error) {
	if probeErr := fsutil.ProbeWritable(d.cfg.OutputRoot); probeErr != nil {
		return models.Outcome{}, &failure.Error{
			Kind:  failure.DiskIO,
			Op:    "output root",
			Err:   fmt.Errorf("%s not writable: %w", d.cfg.OutputRoot, errors.Join(probeErr, err)),
			Fatal: true,
		}
	}
	d.logger.Error().Err(err).Str("op", op).Str("video_id", string(job.VideoID)).Msg("disk error")
	return models.Failed(job.Channel.URL, job.VideoID, failure.DiskIO, fmt.Sprintf("%s: %v", op, err), attempts, d.now().UTC()), nil
}

// SelectStream picks the best stream meeting the sample-rate floor, lossless
// containers first.
func SelectStream(streams []provider.Stream, minSampleRate int) (provider.Stream, error) {
	var audio []provider.Stream
	for _, s := range streams {
		if s.Audio.Codec != "" && s.Audio.Format != "" {
			audio = append(audio, s)
		}
	}
	if len(audio) == 0 {
		return provider.Stream{}, failure.Newf(failure.NoAudioTrack, "validate", "no audio stream in %d fetched files", len(streams))
	}

	var eligible []provider.Stream
	best := 0
	for _, s := range audio {
		best = max(best, s.Audio.SampleRate)
		if s.Audio.SampleRate >= minSampleRate {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return provider.Stream{}, failure.Newf(failure.BelowQualityFloor, "validate", "best sample rate %d Hz below floor %d Hz", best, minSampleRate)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].Audio, eligible[j].Audio
		if a.Lossless() != b.Lossless() {
			return a.Lossless()
		}
		if a.SampleRate != b.SampleRate {
			return a.SampleRate > b.SampleRate
		}
		return a.BitRate > b.BitRate
	})
	return eligible[0], nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
