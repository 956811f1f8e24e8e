/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package channels parses the channel list file.
package channels

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/models"
)

// List is the parsed channel list.
type List struct {
	Entries []models.ChannelEntry
	// Skipped counts malformed lines. Blank and comment lines are not counted.
	Skipped int
}

// Loader reads channel lists and reports malformed lines.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "channels").Logger()}
}

// Load reads the channel list at path.
func (l *Loader) Load(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return List{}, failure.Newf(failure.ConfigInvalid, "load channels", "channel list %s not found", path)
		}
		return List{}, failure.New(failure.ConfigInvalid, "load channels", err)
	}
	defer f.Close()

	list, err := l.Parse(f)
	if err != nil {
		return List{}, err
	}
	l.logger.Info().
		Str("path", path).
		Int("channels", len(list.Entries)).
		Int("skipped", list.Skipped).
		Msg("channel list loaded")
	return list, nil
}

// maxLineBytes is the longest line accepted as a channel entry. Longer lines
// are skipped as malformed.
const maxLineBytes = 64 * 1024

// Parse reads "name,url" lines from r. Entries are indexed by their position
// among valid entries.
func (l *Loader) Parse(r io.Reader) (List, error) {
	var list List
	reader := bufio.NewReader(r)

	lineNo := 0
	for {
		raw, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return List{}, failure.New(failure.ConfigInvalid, "parse channels", readErr)
		}
		if raw == "" && readErr != nil {
			break
		}
		lineNo++
		l.parseLine(&list, lineNo, raw)
		if readErr != nil {
			break
		}
	}

	if len(list.Entries) == 0 {
		if list.Skipped > 0 {
			return List{}, failure.Newf(failure.ConfigInvalid, "parse channels", "all %d channel entries are malformed", list.Skipped)
		}
		return List{}, failure.New(failure.ConfigInvalid, "parse channels", fmt.Errorf("channel list is empty"))
	}
	return list, nil
}

func (l *Loader) parseLine(list *List, lineNo int, raw string) {
	if len(raw) > maxLineBytes {
		list.Skipped++
		l.logger.Warn().
			Int("line", lineNo).
			Int("bytes", len(raw)).
			Str("kind", string(failure.MalformedChannelEntry)).
			Msg("skipping oversized channel entry")
		return
	}
	line := strings.TrimSpace(raw)
	if lineNo == 1 {
		line = strings.TrimPrefix(line, "\ufeff")
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	name, url, ok := strings.Cut(line, ",")
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if !ok || name == "" || url == "" {
		list.Skipped++
		l.logger.Warn().
			Int("line", lineNo).
			Str("content", line).
			Str("kind", string(failure.MalformedChannelEntry)).
			Msg("skipping malformed channel entry, expected name,url")
		return
	}

	list.Entries = append(list.Entries, models.ChannelEntry{
		Index: len(list.Entries),
		Name:  name,
		URL:   url,
	})
}
