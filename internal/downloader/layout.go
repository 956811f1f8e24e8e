/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package downloader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/models"
)

const tempPrefix = ".tmp-"

// SanitizeName makes a channel name safe to use as a single path element.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	if out == "" {
		return "unknown"
	}
	return out
}

// ChannelDir is the folder holding every video of a channel.
func ChannelDir(root string, channel models.ChannelEntry) string {
	return filepath.Join(root, SanitizeName(channel.Name))
}

// VideoDir is the final folder of a video.
func VideoDir(root string, channel models.ChannelEntry, id models.VideoID) string {
	return filepath.Join(ChannelDir(root, channel), SanitizeName(string(id)))
}

// CompleteOnDisk reports whether dir holds a parseable metadata document and
// a non-empty audio file for id.
func CompleteOnDisk(dir string, id models.VideoID) bool {
	base := SanitizeName(string(id))
	data, err := os.ReadFile(filepath.Join(dir, base+".json"))
	if err != nil {
		return false
	}
	var rec models.VideoRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.VideoID == "" {
		return false
	}
	if rec.AudioMetadata.Format == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, base+"."+rec.AudioMetadata.Format))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// SweepTemp removes temp folders left by interrupted runs. It returns the
// number removed.
func SweepTemp(root string, logger zerolog.Logger) int {
	channels, err := os.ReadDir(root)
	if err != nil {
		return 0
	}
	removed := 0
	for _, ch := range channels {
		if !ch.IsDir() {
			continue
		}
		chDir := filepath.Join(root, ch.Name())
		entries, err := os.ReadDir(chDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), tempPrefix) {
				continue
			}
			path := filepath.Join(chDir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("failed to remove stale temp folder")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("removed stale temp folders")
	}
	return removed
}
