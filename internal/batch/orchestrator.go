/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package batch walks the channel list, paces and downloads each video, and
// keeps the checkpoint current so an interrupted run can resume.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/audioharvest/internal/channels"
	"github.com/friendsincode/audioharvest/internal/checkpoint"
	"github.com/friendsincode/audioharvest/internal/downloader"
	"github.com/friendsincode/audioharvest/internal/events"
	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/models"
	"github.com/friendsincode/audioharvest/internal/pacing"
	"github.com/friendsincode/audioharvest/internal/provider"
	"github.com/friendsincode/audioharvest/internal/results"
	"github.com/friendsincode/audioharvest/internal/storage"
	"github.com/friendsincode/audioharvest/internal/telemetry"
)

// Config bounds and tunes one run.
type Config struct {
	RunID        string
	ChannelsFile string
	SummaryPath  string

	StartFrom           int
	MaxChannels         int // 0 means all
	MaxVideosPerChannel int // 0 means all
	CredentialsRef      string

	CheckpointEveryVideo bool

	BlockThreshold   int
	BlockWindow      time.Duration
	EscalationFactor float64
	SleepCeiling     time.Duration
}

// VideoRunner processes one video.
type VideoRunner interface {
	// Pending reports whether Run would contact the provider.
	Pending(job downloader.Job) bool
	Run(ctx context.Context, job downloader.Job) (models.Outcome, error)
}

// Ledger keeps outcome history outside the checkpoint.
type Ledger interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	Record(ctx context.Context, runID string, channel models.ChannelEntry, out models.Outcome) error
	FinishRun(ctx context.Context, summary models.BatchSummary) error
}

// Deps are the collaborators of an Orchestrator. Ledger, Metrics, Events and
// SummaryMirror are optional.
type Deps struct {
	Channels    *channels.Loader
	Provider    provider.MediaProvider
	Downloader  VideoRunner
	Limiter     *pacing.Limiter
	Checkpoints *checkpoint.Store

	Ledger           Ledger
	Metrics          *telemetry.Metrics
	Events           events.Publisher
	SummaryMirror    storage.ObjectStore
	SummaryMirrorKey string
}

// Orchestrator runs one batch. It is single use.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State

	agg    *results.Aggregator
	blocks *blockWindow
	dirty  bool
}

// New creates an orchestrator in the idle state.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = 5
	}
	if cfg.BlockWindow <= 0 {
		cfg.BlockWindow = 30 * time.Minute
	}
	if cfg.EscalationFactor < 1 {
		cfg.EscalationFactor = 2
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "batch").Str("run_id", cfg.RunID).Logger(),
		now:    time.Now,
		state:  StateIdle,
		blocks: newBlockWindow(cfg.BlockThreshold, cfg.BlockWindow),
	}
}

// RunID identifies this run in logs, the ledger and events.
func (o *Orchestrator) RunID() string { return o.cfg.RunID }

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	from := o.state
	if err := checkTransition(from, to); err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = to
	o.mu.Unlock()

	o.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	o.publish(events.EventBatchState, events.Payload{"from": string(from), "to": string(to)})
	return nil
}

// Run executes the batch and returns its summary. ConfigInvalid errors from
// loading abort before any work and write no summary. Otherwise the summary
// is always written; on cancellation it is marked interrupted and Run
// returns the context error.
func (o *Orchestrator) Run(ctx context.Context) (summary models.BatchSummary, err error) {
	if err := o.transition(StateLoadingState); err != nil {
		return models.BatchSummary{}, err
	}
	ctx, span := telemetry.StartSpan(ctx, "batch.run", attribute.String("run_id", o.cfg.RunID))
	defer func() { telemetry.EndSpan(span, err) }()

	startedAt := o.now().UTC()
	o.agg = results.NewAggregator(o.cfg.RunID, startedAt)

	state := o.deps.Checkpoints.Load()
	list, err := o.deps.Channels.Load(o.cfg.ChannelsFile)
	if err != nil {
		_ = o.transition(StateDone)
		return models.BatchSummary{}, err
	}
	window := Window(list.Entries, o.cfg.StartFrom, o.cfg.MaxChannels)
	o.logger.Info().
		Int("channels", len(list.Entries)).
		Int("malformed_lines", list.Skipped).
		Int("window", len(window)).
		Int("start_from", o.cfg.StartFrom).
		Int("completed_channels", len(state.CompletedChannels)).
		Int("completed_videos", len(state.CompletedVideos)).
		Msg("batch loaded")

	if o.deps.Ledger != nil {
		if err := o.deps.Ledger.StartRun(ctx, o.cfg.RunID, startedAt); err != nil {
			o.logger.Warn().Err(err).Msg("ledger start failed")
		}
	}
	o.deps.Metrics.SetBounds(o.deps.Limiter.Bounds())

	if err := o.transition(StateRunning); err != nil {
		return models.BatchSummary{}, err
	}
	runErr := o.runChannels(ctx, window, &state)

	if err := o.transition(StateFlushing); err != nil {
		return models.BatchSummary{}, err
	}
	summary, flushErr := o.flush(ctx, state, runErr)
	if err := o.transition(StateDone); err != nil {
		return summary, err
	}

	if runErr != nil {
		if ctx.Err() != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
			return summary, ctx.Err()
		}
		return summary, runErr
	}
	return summary, flushErr
}

// Window returns entries[startFrom : startFrom+maxChannels], clipped to the
// list. maxChannels <= 0 means no limit.
func Window(entries []models.ChannelEntry, startFrom, maxChannels int) []models.ChannelEntry {
	if startFrom < 0 {
		startFrom = 0
	}
	if startFrom >= len(entries) {
		return nil
	}
	end := len(entries)
	if maxChannels > 0 && startFrom+maxChannels < end {
		end = startFrom + maxChannels
	}
	return entries[startFrom:end]
}

func (o *Orchestrator) runChannels(ctx context.Context, window []models.ChannelEntry, state *checkpoint.State) error {
	for _, ch := range window {
		if err := ctx.Err(); err != nil {
			return err
		}
		if state.ChannelCompleted(ch.URL) {
			o.logger.Info().Str("channel", ch.Name).Int("index", ch.Index).Msg("channel already completed, skipping")
			o.agg.SkipChannel(ch)
			continue
		}
		if err := o.runChannel(ctx, ch, state); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runChannel(ctx context.Context, ch models.ChannelEntry, state *checkpoint.State) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "batch.channel",
		attribute.String("channel.name", ch.Name),
		attribute.String("channel.url", ch.URL),
		attribute.Int("channel.index", ch.Index),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	log := o.logger.With().Str("channel", ch.Name).Int("index", ch.Index).Logger()
	log.Info().Str("url", ch.URL).Msg("channel started")

	state.EnterChannel(ch)
	o.dirty = true
	o.agg.EnterChannel(ch)
	o.publish(events.EventChannelStarted, events.Payload{"channel": ch.Name, "url": ch.URL, "index": ch.Index})

	// The listing is a provider request and is paced like a fetch.
	wait, err := o.deps.Limiter.Wait(ctx)
	if err != nil {
		return err
	}
	o.deps.Metrics.ObserveWait(wait)

	attempted := 0
	var enumErr error
	listing := o.deps.Provider.Enumerate(ctx, provider.EnumerateRequest{
		Channel:        ch,
		CredentialsRef: o.cfg.CredentialsRef,
		Limit:          o.cfg.MaxVideosPerChannel,
	})
	for id, err := range listing {
		if err != nil {
			enumErr = err
			break
		}
		attempted++
		if err := o.runVideo(ctx, ch, id, state); err != nil {
			return err
		}
		if o.cfg.MaxVideosPerChannel > 0 && attempted >= o.cfg.MaxVideosPerChannel {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if enumErr != nil {
		log.Warn().Err(enumErr).Int("attempted", attempted).Msg("channel listing failed")
		if failure.Is(enumErr, failure.Blocked) && o.blocks.record(o.now()) {
			o.escalate()
		}
		o.agg.ChannelError(ch, enumErr)
		o.deps.Metrics.ObserveChannel(false)
		o.publish(events.EventChannelFailed, events.Payload{"channel": ch.Name, "url": ch.URL, "error": enumErr.Error()})
		return o.save(ctx, *state)
	}

	state.MarkChannelComplete(ch)
	o.agg.CompleteChannel(ch)
	o.deps.Metrics.ObserveChannel(true)
	counters := state.PerChannel[ch.URL]
	log.Info().
		Int("attempted", attempted).
		Int("successful", counters.Successful).
		Int("failed", counters.Failed).
		Msg("channel complete")
	o.publish(events.EventChannelComplete, events.Payload{
		"channel":    ch.Name,
		"url":        ch.URL,
		"attempted":  attempted,
		"successful": counters.Successful,
		"failed":     counters.Failed,
	})
	return o.save(ctx, *state)
}

// runVideo paces and processes one video. A returned error stops the batch.
func (o *Orchestrator) runVideo(ctx context.Context, ch models.ChannelEntry, id models.VideoID, state *checkpoint.State) (err error) {
	job := downloader.Job{Channel: ch, VideoID: id, AlreadyCompleted: state.VideoCompleted(id)}

	// Only provider requests are paced; local skips cost nothing upstream.
	if o.deps.Downloader.Pending(job) {
		wait, err := o.deps.Limiter.Wait(ctx)
		if err != nil {
			return err
		}
		o.deps.Metrics.ObserveWait(wait)
	}

	vctx, span := telemetry.StartSpan(ctx, "batch.video", attribute.String("video.id", string(id)))
	out, err := o.deps.Downloader.Run(vctx, job)
	telemetry.EndSpan(span, err)
	if err != nil {
		return err
	}

	o.record(ctx, ch, out, state)

	if out.Status == models.StatusFailed && out.Kind == failure.Blocked {
		if o.blocks.record(out.At) {
			o.escalate()
		}
	}

	if out.Status == models.StatusSkipped && out.Reason == models.SkipAlreadyCompleted {
		return nil
	}
	o.dirty = true
	if o.cfg.CheckpointEveryVideo {
		return o.save(ctx, *state)
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, ch models.ChannelEntry, out models.Outcome, state *checkpoint.State) {
	o.agg.Add(ch, out)
	state.RecordOutcome(ch.URL, out.Status)
	if out.Completes() {
		state.MarkVideoComplete(out.VideoID)
	}
	o.deps.Metrics.ObserveOutcome(out)

	if o.deps.Ledger != nil {
		if err := o.deps.Ledger.Record(ctx, o.cfg.RunID, ch, out); err != nil {
			o.logger.Warn().Err(err).Str("video_id", string(out.VideoID)).Msg("ledger record failed")
		}
	}

	evt := o.logger.Info()
	if out.Status == models.StatusFailed {
		evt = o.logger.Warn().Str("kind", string(out.Kind)).Str("detail", out.Detail)
	}
	if out.Status == models.StatusSkipped {
		evt = evt.Str("reason", out.Reason)
	}
	evt.Str("channel", ch.Name).
		Str("video_id", string(out.VideoID)).
		Str("status", string(out.Status)).
		Int("attempts", out.Attempts).
		Msg("video outcome")

	o.publish(events.EventVideoOutcome, events.Payload{
		"channel":  ch.Name,
		"url":      ch.URL,
		"video_id": string(out.VideoID),
		"status":   string(out.Status),
		"kind":     string(out.Kind),
		"reason":   out.Reason,
		"attempts": out.Attempts,
	})
}

// escalate widens the pacing bounds after repeated blocks.
func (o *Orchestrator) escalate() {
	before := o.deps.Limiter.Bounds()
	after := before.Widen(o.cfg.EscalationFactor, o.cfg.SleepCeiling)
	if after == before {
		o.logger.Warn().Str("bounds", before.String()).Msg("blocked repeatedly, pacing already at ceiling")
		return
	}
	if err := o.deps.Limiter.SetBounds(after); err != nil {
		o.logger.Error().Err(err).Msg("failed to widen pacing bounds")
		return
	}
	o.agg.Escalated()
	o.deps.Metrics.ObserveEscalation(after)
	o.logger.Warn().
		Str("from", before.String()).
		Str("to", after.String()).
		Int("threshold", o.cfg.BlockThreshold).
		Dur("window", o.cfg.BlockWindow).
		Msg("blocked repeatedly, widening pacing bounds")
	o.publish(events.EventPacingEscalated, events.Payload{
		"from_min": before.Min.String(),
		"from_max": before.Max.String(),
		"to_min":   after.Min.String(),
		"to_max":   after.Max.String(),
	})
}

func (o *Orchestrator) save(ctx context.Context, state checkpoint.State) error {
	start := time.Now()
	if err := o.deps.Checkpoints.Save(ctx, state); err != nil {
		o.logger.Error().Err(err).Str("path", o.deps.Checkpoints.Path()).Msg("checkpoint save failed")
		return err
	}
	o.dirty = false
	o.deps.Metrics.ObserveCheckpointSave(time.Since(start))
	o.publish(events.EventCheckpointSaved, events.Payload{
		"completed_channels": len(state.CompletedChannels),
		"completed_videos":   len(state.CompletedVideos),
	})
	return nil
}

// flush saves any unsaved checkpoint progress and writes the summary. It runs
// even after cancellation, so it detaches from ctx.
func (o *Orchestrator) flush(ctx context.Context, state checkpoint.State, runErr error) (models.BatchSummary, error) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	interrupted := ctx.Err() != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded))
	var fatal error
	if runErr != nil && !interrupted {
		fatal = runErr
	}

	var flushErr error
	if o.dirty && !failure.Is(fatal, failure.DiskIO) {
		flushErr = o.save(flushCtx, state)
	}

	summary := o.agg.Summary(o.now(), interrupted, fatal)
	if o.cfg.SummaryPath != "" {
		data, err := results.WriteSummary(o.cfg.SummaryPath, summary)
		if err != nil {
			o.logger.Error().Err(err).Str("path", o.cfg.SummaryPath).Msg("summary write failed")
			if flushErr == nil {
				flushErr = &failure.Error{Kind: failure.DiskIO, Op: "write summary", Err: err, Fatal: true}
			}
		} else if o.deps.SummaryMirror != nil {
			if err := o.deps.SummaryMirror.Put(flushCtx, o.deps.SummaryMirrorKey, data); err != nil {
				o.logger.Warn().Err(err).Msg("summary mirror failed")
			}
		}
	}

	if o.deps.Ledger != nil {
		if err := o.deps.Ledger.FinishRun(flushCtx, summary); err != nil {
			o.logger.Warn().Err(err).Msg("ledger finish failed")
		}
	}

	o.logger.Info().
		Int("total_channels", summary.TotalChannels).
		Int("total_videos", summary.TotalVideos).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("escalations", summary.Escalations).
		Bool("interrupted", summary.Interrupted).
		Msg("batch finished")
	o.publish(events.EventSummaryPublished, events.Payload{
		"total_channels": summary.TotalChannels,
		"total_videos":   summary.TotalVideos,
		"successful":     summary.Successful,
		"failed":         summary.Failed,
		"skipped":        summary.Skipped,
		"interrupted":    summary.Interrupted,
		"fatal_error":    summary.FatalError,
	})
	return summary, flushErr
}

func (o *Orchestrator) publish(eventType events.EventType, payload events.Payload) {
	if o.deps.Events == nil {
		return
	}
	payload["run_id"] = o.cfg.RunID
	o.deps.Events.Publish(eventType, payload)
}
