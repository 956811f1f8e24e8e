/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/audioharvest/internal/checkpoint"
	"github.com/friendsincode/audioharvest/internal/db"
	"github.com/friendsincode/audioharvest/internal/ledger"
	"github.com/friendsincode/audioharvest/internal/models"
)

var statusFailures int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint progress and the last summary",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusFailures, "failures", 10, "Recent failures to list from the ledger")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	state, err := checkpoint.NewStore(cfg.CheckpointFile(), logger).Peek()
	if err != nil {
		return err
	}
	printCheckpoint(out, cfg.CheckpointFile(), state)

	if err := printLastSummary(out, cfg.SummaryFile()); err != nil {
		return err
	}

	if cfg.LedgerDSN == "" {
		return nil
	}
	database, err := db.Connect(cfg.LedgerBackend, cfg.LedgerDSN, false)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return printLedger(cmd, out, ledger.New(database, logger))
}

func printCheckpoint(out io.Writer, path string, state checkpoint.State) {
	fmt.Fprintf(out, "Checkpoint: %s\n", path)
	fmt.Fprintf(out, "  completed channels: %d\n", len(state.CompletedChannels))
	fmt.Fprintf(out, "  completed videos:   %d\n", len(state.CompletedVideos))
	fmt.Fprintf(out, "  last channel index: %d\n", state.LastChannelIndex)
	if len(state.PerChannel) == 0 {
		return
	}

	urls := make([]string, 0, len(state.PerChannel))
	for url := range state.PerChannel {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\n  CHANNEL\tSUCCESSFUL\tFAILED\tDONE")
	for _, url := range urls {
		c := state.PerChannel[url]
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%t\n", url, c.Successful, c.Failed, state.ChannelCompleted(url))
	}
	tw.Flush()
}

func printLastSummary(out io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "\nNo summary at %s\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read summary: %w", err)
	}
	var s models.BatchSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode summary %s: %w", path, err)
	}
	fmt.Fprintf(out, "\nLast run %s (finished %s)\n", s.RunID, s.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  channels %d, videos %d: %d successful, %d failed, %d skipped, %d escalations\n",
		s.TotalChannels, s.TotalVideos, s.Successful, s.Failed, s.Skipped, s.Escalations)
	if s.Interrupted {
		fmt.Fprintln(out, "  run was interrupted")
	}
	if s.FatalError != "" {
		fmt.Fprintf(out, "  fatal: %s\n", s.FatalError)
	}
	return nil
}

func printLedger(cmd *cobra.Command, out io.Writer, l *ledger.Ledger) error {
	ctx := cmd.Context()
	run, err := l.LatestRun(ctx)
	if err != nil {
		return err
	}
	if run != nil {
		counts, err := l.CountByStatus(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nLedger, run %s started %s: %d successful, %d failed, %d skipped\n",
			run.ID, run.StartedAt.Format("2006-01-02 15:04:05"),
			counts[models.StatusSuccess], counts[models.StatusFailed], counts[models.StatusSkipped])
	}

	failures, err := l.RecentFailures(ctx, statusFailures)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\n  WHEN\tCHANNEL\tVIDEO\tKIND\tDETAIL")
	for _, f := range failures {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", f.CreatedAt.Format("01-02 15:04"), f.ChannelName, f.VideoID, f.Kind, truncate(f.Detail, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
