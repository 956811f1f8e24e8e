/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger keeps a queryable history of runs and outcomes. The
// checkpoint file stays the only source of resume state.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/audioharvest/internal/models"
)

// Ledger writes run history through gorm.
type Ledger struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New wraps an open, migrated database.
func New(db *gorm.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.With().Str("component", "ledger").Logger()}
}

// StartRun inserts the run row.
func (l *Ledger) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	run := models.RunRecord{ID: runID, StartedAt: startedAt.UTC()}
	if err := l.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// Record appends one outcome.
func (l *Ledger) Record(ctx context.Context, runID string, channel models.ChannelEntry, out models.Outcome) error {
	row := models.OutcomeRecord{
		RunID:       runID,
		ChannelURL:  channel.URL,
		ChannelName: channel.Name,
		VideoID:     string(out.VideoID),
		Status:      string(out.Status),
		Kind:        string(out.Kind),
		Detail:      out.Detail,
		Attempts:    out.Attempts,
		CreatedAt:   out.At,
	}
	if out.Status == models.StatusSkipped {
		row.Detail = out.Reason
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// FinishRun stores the run totals.
func (l *Ledger) FinishRun(ctx context.Context, summary models.BatchSummary) error {
	finished := summary.FinishedAt
	err := l.db.WithContext(ctx).Model(&models.RunRecord{}).
		Where("id = ?", summary.RunID).
		Updates(map[string]any{
			"finished_at": &finished,
			"interrupted": summary.Interrupted,
			"successful":  summary.Successful,
			"failed":      summary.Failed,
			"skipped":     summary.Skipped,
			"escalations": summary.Escalations,
		}).Error
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentFailures returns the latest failed outcomes, newest first.
func (l *Ledger) RecentFailures(ctx context.Context, limit int) ([]models.OutcomeRecord, error) {
	var rows []models.OutcomeRecord
	err := l.db.WithContext(ctx).
		Where("status = ?", string(models.StatusFailed)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	return rows, nil
}

// CountByStatus tallies a run's outcomes.
func (l *Ledger) CountByStatus(ctx context.Context, runID string) (map[models.OutcomeStatus]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := l.db.WithContext(ctx).Model(&models.OutcomeRecord{}).
		Select("status, count(*) as count").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	out := make(map[models.OutcomeStatus]int, len(rows))
	for _, r := range rows {
		out[models.OutcomeStatus(r.Status)] = r.Count
	}
	return out, nil
}

// LatestRun returns the most recently started run, or nil when none exist.
func (l *Ledger) LatestRun(ctx context.Context) (*models.RunRecord, error) {
	var runs []models.RunRecord
	if err := l.db.WithContext(ctx).Order("started_at DESC").Limit(1).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}
