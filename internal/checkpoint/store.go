/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package checkpoint persists batch progress so a run can resume.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/fsutil"
	"github.com/friendsincode/audioharvest/internal/storage"
)

// Store reads and atomically replaces the checkpoint file.
type Store struct {
	path   string
	mirror storage.ObjectStore
	key    string
	logger zerolog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithMirror copies every saved checkpoint to an object store under key.
func WithMirror(store storage.ObjectStore, key string) Option {
	return func(s *Store) {
		s.mirror = store
		s.key = key
	}
}

// NewStore creates a store for the checkpoint at path.
func NewStore(path string, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "checkpoint").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the checkpoint file location.
func (s *Store) Path() string { return s.path }

// Load returns the saved state. A missing file yields an empty state. A
// corrupt file is moved aside and also yields an empty state.
func (s *Store) Load() State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error().Err(err).Str("path", s.path).Msg("checkpoint unreadable, starting fresh")
		}
		return NewState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			s.logger.Error().Err(renameErr).Str("path", s.path).Msg("failed to move corrupt checkpoint aside")
		}
		s.logger.Error().
			Err(err).
			Str("path", s.path).
			Str("moved_to", aside).
			Msg("checkpoint corrupt, starting fresh")
		return NewState()
	}

	s.logger.Info().
		Int("completed_channels", len(state.CompletedChannels)).
		Int("completed_videos", len(state.CompletedVideos)).
		Int("last_channel_index", state.LastChannelIndex).
		Msg("checkpoint loaded")
	return state
}

// Peek reads the checkpoint without side effects. A missing file yields an
// empty state; a corrupt one yields an error.
func (s *Store) Peek() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	return state, nil
}

// Save replaces the checkpoint atomically. The file on disk is always either
// the previous version or the new one.
func (s *Store) Save(ctx context.Context, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return failure.New(failure.DiskIO, "encode checkpoint", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return &failure.Error{Kind: failure.DiskIO, Op: "save checkpoint", Err: err, Fatal: true}
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, s.key, data); err != nil {
			s.logger.Warn().Err(err).Str("key", s.key).Msg("checkpoint mirror failed")
		}
	}
	return nil
}

// Remove deletes the checkpoint file if present.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// DefaultPath is the checkpoint location under an output root.
func DefaultPath(outputRoot string) string {
	return filepath.Join(outputRoot, "checkpoint.json")
}
