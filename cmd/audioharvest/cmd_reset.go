/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/audioharvest/internal/checkpoint"
	"github.com/friendsincode/audioharvest/internal/downloader"
	"github.com/friendsincode/audioharvest/internal/runlock"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget progress so the next run starts over",
	Long: `Remove the checkpoint and summary files.

Downloaded audio is kept. The next run skips videos whose folders are already
complete on disk and rebuilds the checkpoint from them.

Examples:
  # Interactive reset (will prompt for confirmation)
  audioharvest reset

  # Force reset without confirmation
  audioharvest reset --force
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Printf("This removes %s and %s.\n", cfg.CheckpointFile(), cfg.SummaryFile())
		fmt.Print("Type 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	lock := runlock.NewFileLock(cfg.LockFile(), "reset", logger)
	if err := lock.Acquire(cmd.Context()); err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			return fmt.Errorf("a run is in progress: %w", err)
		}
		return err
	}
	defer lock.Release(cmd.Context())

	if err := checkpoint.NewStore(cfg.CheckpointFile(), logger).Remove(); err != nil {
		return err
	}
	if err := os.Remove(cfg.SummaryFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove summary: %w", err)
	}
	removed := downloader.SweepTemp(cfg.OutputRoot, logger)

	logger.Info().
		Str("checkpoint", cfg.CheckpointFile()).
		Str("summary", cfg.SummaryFile()).
		Int("temp_folders_removed", removed).
		Msg("progress reset")
	return nil
}
