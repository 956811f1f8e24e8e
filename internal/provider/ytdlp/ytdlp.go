/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ytdlp implements provider.MediaProvider by running yt-dlp and ffprobe.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/models"
	"github.com/friendsincode/audioharvest/internal/provider"
)

// waitDelay bounds how long Wait lingers on pipes held open by children
// after the process is killed.
const waitDelay = 5 * time.Second

// Config configures the yt-dlp provider.
type Config struct {
	Binary       string
	FFprobe      string
	VideoURLBase string
	// EnumerateTimeout bounds one channel listing.
	EnumerateTimeout time.Duration
}

// DefaultConfig uses binaries from PATH.
func DefaultConfig() Config {
	return Config{
		Binary:           "yt-dlp",
		FFprobe:          "ffprobe",
		VideoURLBase:     "https://www.youtube.com/watch?v=",
		EnumerateTimeout: 5 * time.Minute,
	}
}

// Provider runs yt-dlp subprocesses.
type Provider struct {
	cfg    Config
	logger zerolog.Logger
	probe  func(ctx context.Context, bin, path string) (models.AudioMetadata, error)
}

var _ provider.MediaProvider = (*Provider)(nil)

// New creates a provider.
func New(cfg Config, logger zerolog.Logger) *Provider {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = def.FFprobe
	}
	if cfg.VideoURLBase == "" {
		cfg.VideoURLBase = def.VideoURLBase
	}
	if cfg.EnumerateTimeout <= 0 {
		cfg.EnumerateTimeout = def.EnumerateTimeout
	}
	return &Provider{
		cfg:    cfg,
		logger: logger.With().Str("component", "ytdlp").Logger(),
		probe:  probeAudio,
	}
}

// Enumerate lists the channel's video ids with a flat playlist listing. The
// listing runs to completion under EnumerateTimeout before any id is yielded.
func (p *Provider) Enumerate(ctx context.Context, req provider.EnumerateRequest) iter.Seq2[models.VideoID, error] {
	return func(yield func(models.VideoID, error) bool) {
		ids, err := p.list(ctx, req)
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func (p *Provider) list(ctx context.Context, req provider.EnumerateRequest) ([]models.VideoID, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.EnumerateTimeout)
	defer cancel()

	args := []string{"--flat-playlist", "--print", "id", "--no-warnings", "--ignore-errors"}
	if req.Limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(req.Limit))
	}
	if req.CredentialsRef != "" {
		args = append(args, "--cookies", req.CredentialsRef)
	}
	args = append(args, req.Channel.URL)

	p.logger.Debug().Str("channel", req.Channel.URL).Int("limit", req.Limit).Msg("listing channel")

	cmd := exec.CommandContext(runCtx, p.cfg.Binary, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	var ids []models.VideoID
	for _, line := range strings.Split(stdout.String(), "\n") {
		id := strings.TrimSpace(line)
		if id == "" || id == "NA" {
			continue
		}
		ids = append(ids, models.VideoID(id))
		if req.Limit > 0 && len(ids) == req.Limit {
			break
		}
	}

	if runErr == nil {
		return ids, nil
	}
	if ctx.Err() != nil {
		return ids, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return ids, failure.New(failure.Transient, "enumerate",
			fmt.Errorf("listing %s timed out after %s", req.Channel.URL, p.cfg.EnumerateTimeout))
	}

	err := classify("enumerate", stderr.String(), runErr)
	// --ignore-errors exits non-zero when single entries are unavailable;
	// the rest of the listing is still complete.
	if len(ids) > 0 && failure.Is(err, failure.Transient) && !failure.Retryable(err) {
		p.logger.Warn().Err(err).Str("channel", req.Channel.URL).Int("ids", len(ids)).Msg("listing skipped unavailable entries")
		return ids, nil
	}
	return ids, err
}

type infoJSON struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	UploadDate  string  `json:"upload_date"`
	Uploader    string  `json:"uploader"`
	Duration    float64 `json:"duration"`
	ViewCount   int64   `json:"view_count"`
	LikeCount   int64   `json:"like_count"`
	Description string  `json:"description"`
	WebpageURL  string  `json:"webpage_url"`
}

// Fetch downloads the preferred audio stream into req.WorkDir and probes it.
func (p *Provider) Fetch(ctx context.Context, req provider.FetchRequest) (*provider.Fetched, error) {
	if req.WorkDir == "" {
		return nil, failure.Newf(failure.DiskIO, "fetch", "work dir is required")
	}
	format := req.FormatPreference
	if format == "" {
		format = provider.FormatSelector(req.MinSampleRate)
	}

	url := p.cfg.VideoURLBase + string(req.VideoID)
	args := []string{
		"-f", format,
		"--no-playlist",
		"--no-progress",
		"--no-part",
		"--retries", "0",
		"--write-info-json",
		"-o", filepath.Join(req.WorkDir, "%(id)s.%(ext)s"),
	}
	if req.RateLimitBytesPerSec > 0 {
		args = append(args, "--limit-rate", formatRate(req.RateLimitBytesPerSec))
	}
	if req.CredentialsRef != "" {
		args = append(args, "--cookies", req.CredentialsRef)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.VideoID, ctx.Err())
		}
		return nil, classify("fetch", stderr.String(), err)
	}

	info, err := readInfo(filepath.Join(req.WorkDir, string(req.VideoID)+".info.json"))
	if err != nil {
		return nil, failure.New(failure.Transient, "fetch", err)
	}
	if info.OriginalURL == "" {
		info.OriginalURL = url
	}

	entries, err := os.ReadDir(req.WorkDir)
	if err != nil {
		return nil, failure.New(failure.DiskIO, "fetch", err)
	}
	fetched := &provider.Fetched{Info: info}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".json") || !strings.HasPrefix(name, string(req.VideoID)+".") {
			continue
		}
		path := filepath.Join(req.WorkDir, name)
		audio, err := p.probe(ctx, p.cfg.FFprobe, path)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", path).Msg("probe failed")
			continue
		}
		fetched.Streams = append(fetched.Streams, provider.Stream{Path: path, Audio: audio})
	}

	p.logger.Debug().
		Str("video_id", string(req.VideoID)).
		Int("streams", len(fetched.Streams)).
		Msg("fetch complete")
	return fetched, nil
}

func readInfo(path string) (provider.VideoInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return provider.VideoInfo{}, fmt.Errorf("yt-dlp wrote no info file")
		}
		return provider.VideoInfo{}, err
	}
	var raw infoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return provider.VideoInfo{}, fmt.Errorf("parse info json: %w", err)
	}
	return provider.VideoInfo{
		Title:       raw.Title,
		UploadDate:  raw.UploadDate,
		Uploader:    raw.Uploader,
		DurationSec: raw.Duration,
		ViewCount:   raw.ViewCount,
		LikeCount:   raw.LikeCount,
		Description: raw.Description,
		OriginalURL: raw.WebpageURL,
	}, nil
}

// formatRate renders bytes/sec in yt-dlp's rate syntax.
func formatRate(bytesPerSec int64) string {
	switch {
	case bytesPerSec%(1024*1024) == 0:
		return strconv.FormatInt(bytesPerSec/(1024*1024), 10) + "M"
	case bytesPerSec%1024 == 0:
		return strconv.FormatInt(bytesPerSec/1024, 10) + "K"
	default:
		return strconv.FormatInt(bytesPerSec, 10)
	}
}
