/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package results folds per-video outcomes into the run summary.
package results

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/audioharvest/internal/fsutil"
	"github.com/friendsincode/audioharvest/internal/models"
)

// Aggregator accumulates outcomes for the current run.
type Aggregator struct {
	mu       sync.Mutex
	summary  models.BatchSummary
	channels map[string]*models.ChannelSummary
}

// NewAggregator starts a summary for runID.
func NewAggregator(runID string, startedAt time.Time) *Aggregator {
	return &Aggregator{
		summary: models.BatchSummary{
			RunID:     runID,
			StartedAt: startedAt.UTC(),
		},
		channels: make(map[string]*models.ChannelSummary),
	}
}

func (a *Aggregator) channel(ch models.ChannelEntry) *models.ChannelSummary {
	c, ok := a.channels[ch.URL]
	if !ok {
		c = &models.ChannelSummary{Index: ch.Index, Name: ch.Name, URL: ch.URL}
		a.channels[ch.URL] = c
		a.summary.TotalChannels++
	}
	return c
}

// EnterChannel registers a channel in the summary.
func (a *Aggregator) EnterChannel(ch models.ChannelEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channel(ch)
}

// SkipChannel records a channel that was already complete.
func (a *Aggregator) SkipChannel(ch models.ChannelEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.channel(ch)
	c.SkippedChannel = true
	c.Completed = true
}

// CompleteChannel marks the channel's enumeration as fully processed.
func (a *Aggregator) CompleteChannel(ch models.ChannelEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channel(ch).Completed = true
}

// ChannelError records an enumeration failure.
func (a *Aggregator) ChannelError(ch models.ChannelEntry, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channel(ch).EnumerateError = err.Error()
}

// Add folds one outcome in.
func (a *Aggregator) Add(ch models.ChannelEntry, out models.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.channel(ch)
	c.Attempted++
	a.summary.TotalVideos++
	switch out.Status {
	case models.StatusSuccess:
		c.Successful++
		a.summary.Successful++
	case models.StatusSkipped:
		c.Skipped++
		a.summary.Skipped++
	case models.StatusFailed:
		c.Failed++
		a.summary.Failed++
		c.Failures = append(c.Failures, models.FailureRecord{
			VideoID:  out.VideoID,
			Kind:     out.Kind,
			Detail:   out.Detail,
			Attempts: out.Attempts,
		})
	}
}

// Escalated counts a pacing escalation.
func (a *Aggregator) Escalated() {
	a.mu.Lock()
	a.summary.Escalations++
	a.mu.Unlock()
}

// Summary returns a snapshot with FinishedAt set to finishedAt.
func (a *Aggregator) Summary(finishedAt time.Time, interrupted bool, fatal error) models.BatchSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.summary
	out.FinishedAt = finishedAt.UTC()
	out.Interrupted = interrupted
	if fatal != nil {
		out.FatalError = fatal.Error()
	}
	out.PerChannel = make(map[string]models.ChannelSummary, len(a.channels))
	for url, c := range a.channels {
		snap := *c
		snap.Failures = append([]models.FailureRecord(nil), c.Failures...)
		out.PerChannel[url] = snap
	}
	return out
}

// WriteSummary writes the summary JSON atomically to path.
func WriteSummary(path string, summary models.BatchSummary) ([]byte, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	return data, nil
}
