/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter configures zerolog with an additional writer (e.g., the progress log).
func SetupWithWriter(environment string, additionalWriter io.Writer) zerolog.Logger {
	return setup(environment, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}, additionalWriter)
}

func setup(environment string, console io.Writer, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	writer := console
	if additionalWriter != nil {
		writer = zerolog.MultiLevelWriter(console, additionalWriter)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

// ProgressLog is the plain-text, append-only run log kept beside the downloads.
type ProgressLog struct {
	file *os.File
	zerolog.ConsoleWriter
}

// OpenProgressLog opens path for appending, creating parent directories.
func OpenProgressLog(path string) (*ProgressLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create progress log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	return &ProgressLog{
		file:          f,
		ConsoleWriter: zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.DateTime},
	}, nil
}

// Close flushes and closes the file.
func (p *ProgressLog) Close() error {
	if err := p.file.Sync(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}
