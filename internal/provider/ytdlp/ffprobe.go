/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/audioharvest/internal/models"
)

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		BitRate    string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		BitRate string `json:"bit_rate"`
		Size    string `json:"size"`
	} `json:"format"`
}

// probeAudio reads stream properties from the file with ffprobe. A file
// without an audio stream yields metadata with an empty codec.
func probeAudio(ctx context.Context, bin, path string) (models.AudioMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return models.AudioMetadata{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(output, path)
}

func parseProbe(output []byte, path string) (models.AudioMetadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return models.AudioMetadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	meta := models.AudioMetadata{
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	if size, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
		meta.FileSize = size
	} else if info, err := os.Stat(path); err == nil {
		meta.FileSize = info.Size()
	}

	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		meta.Codec = s.CodecName
		meta.SampleRate, _ = strconv.Atoi(s.SampleRate)
		meta.Channels = s.Channels
		meta.BitRate, _ = strconv.Atoi(s.BitRate)
		if meta.BitRate == 0 {
			meta.BitRate, _ = strconv.Atoi(probe.Format.BitRate)
		}
		break
	}
	return meta, nil
}
