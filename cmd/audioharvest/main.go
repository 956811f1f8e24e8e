/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/audioharvest/internal/config"
	"github.com/friendsincode/audioharvest/internal/logging"
)

// Exit codes.
const (
	exitFatal       = 1
	exitInterrupted = 130
)

var (
	logger     zerolog.Logger
	cfg        *config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "audioharvest",
	Short:         "Paced, resumable audio harvesting from channel lists",
	Long:          "audioharvest downloads the audio track and metadata of every video in a list of channels, pacing requests to stay below provider blocking thresholds and checkpointing progress so interrupted runs resume where they stopped.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default $HARVEST_CONFIG_FILE)")
}

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted; progress saved, rerun to resume")
		return exitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFatal
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	for _, w := range cfg.UnknownEnvWarnings {
		logger.Warn().Msg(w)
	}
	return nil
}
