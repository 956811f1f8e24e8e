/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/audioharvest/internal/batch"
	"github.com/friendsincode/audioharvest/internal/channels"
	"github.com/friendsincode/audioharvest/internal/checkpoint"
	"github.com/friendsincode/audioharvest/internal/db"
	"github.com/friendsincode/audioharvest/internal/downloader"
	"github.com/friendsincode/audioharvest/internal/eventbus"
	"github.com/friendsincode/audioharvest/internal/events"
	"github.com/friendsincode/audioharvest/internal/fsutil"
	"github.com/friendsincode/audioharvest/internal/ledger"
	"github.com/friendsincode/audioharvest/internal/logging"
	"github.com/friendsincode/audioharvest/internal/models"
	"github.com/friendsincode/audioharvest/internal/pacing"
	"github.com/friendsincode/audioharvest/internal/provider/ytdlp"
	"github.com/friendsincode/audioharvest/internal/retry"
	"github.com/friendsincode/audioharvest/internal/runlock"
	"github.com/friendsincode/audioharvest/internal/storage"
	"github.com/friendsincode/audioharvest/internal/telemetry"
	"github.com/friendsincode/audioharvest/internal/version"
)

var runFlags struct {
	channelsFile        string
	outputDir           string
	sleepMin            time.Duration
	sleepMax            time.Duration
	rateLimit           string
	maxVideosPerChannel int
	maxChannels         int
	cookiesFile         string
	startFrom           int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest audio from every channel in the list",
	Long: `Walk the channel list in order and download each video's audio and metadata.

Progress is checkpointed after every video, so an interrupted run picks up
where it stopped. Repeated provider blocks widen the pause between videos.

Examples:
  # Defaults: channels.txt into ./downloads, 5-10s between videos
  audioharvest run

  # Slower and gentler, first two channels only
  audioharvest run --sleep-min 15s --sleep-max 30s --rate-limit 300K --max-channels 2

  # Resume from the fourth channel with browser cookies
  audioharvest run --start-from 3 --cookies-file cookies.txt
`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.channelsFile, "channels-file", "", "Channel list, one 'name,url' per line")
	f.StringVar(&runFlags.outputDir, "output-dir", "", "Output root directory")
	f.DurationVar(&runFlags.sleepMin, "sleep-min", 0, "Minimum pause between videos")
	f.DurationVar(&runFlags.sleepMax, "sleep-max", 0, "Maximum pause between videos")
	f.StringVar(&runFlags.rateLimit, "rate-limit", "", "Download rate limit, e.g. 500K or 1M")
	f.IntVar(&runFlags.maxVideosPerChannel, "max-videos-per-channel", 0, "Attempt only the first N videos of each channel (0 = all)")
	f.IntVar(&runFlags.maxChannels, "max-channels", 0, "Process at most N channels (0 = all)")
	f.StringVar(&runFlags.cookiesFile, "cookies-file", "", "Browser-exported cookies passed to the downloader")
	f.IntVar(&runFlags.startFrom, "start-from", 0, "Zero-based index of the first channel to process")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides file and env values with flags that were set.
func applyRunFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	if f.Changed("channels-file") {
		cfg.ChannelsFile = runFlags.channelsFile
	}
	if f.Changed("output-dir") {
		cfg.OutputRoot = runFlags.outputDir
	}
	if f.Changed("sleep-min") {
		cfg.SleepMin = runFlags.sleepMin
	}
	if f.Changed("sleep-max") {
		cfg.SleepMax = runFlags.sleepMax
	}
	if f.Changed("rate-limit") {
		if err := cfg.RateLimit.Set(runFlags.rateLimit); err != nil {
			return fmt.Errorf("--rate-limit: %w", err)
		}
	}
	if f.Changed("max-videos-per-channel") {
		cfg.MaxVideosPerChannel = runFlags.maxVideosPerChannel
	}
	if f.Changed("max-channels") {
		cfg.MaxChannels = runFlags.maxChannels
	}
	if f.Changed("cookies-file") {
		cfg.CookiesFile = runFlags.cookiesFile
	}
	if f.Changed("start-from") {
		cfg.StartFromChannel = runFlags.startFrom
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := applyRunFlags(cmd); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}
	if err := fsutil.ProbeWritable(cfg.OutputRoot); err != nil {
		return fmt.Errorf("output root %s is not writable: %w", cfg.OutputRoot, err)
	}

	progress, err := logging.OpenProgressLog(cfg.ProgressLogFile())
	if err != nil {
		return err
	}
	defer progress.Close()
	logger = logging.SetupWithWriter(cfg.Environment, progress)

	runID := uuid.NewString()
	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}
	printBanner(runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "audioharvest",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	lock, err := newRunLock(runID)
	if err != nil {
		return err
	}
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			return fmt.Errorf("another run is using checkpoint %s: %w", cfg.CheckpointFile(), err)
		}
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("release run lock")
		}
	}()

	// A lost shared lease means another process may take over the checkpoint.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if lease, ok := lock.(interface{ Lost() <-chan struct{} }); ok {
		go func() {
			select {
			case <-lease.Lost():
				logger.Error().Msg("run lock lost, stopping batch")
				cancelRun()
			case <-runCtx.Done():
			}
		}()
	}

	var mirror storage.ObjectStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize s3 mirror: %w", err)
		}
		mirror = s3Store
	}

	var outcomeLedger batch.Ledger
	if cfg.LedgerDSN != "" {
		database, err := db.Connect(cfg.LedgerBackend, cfg.LedgerDSN, cfg.Environment == "development")
		if err != nil {
			return fmt.Errorf("connect ledger: %w", err)
		}
		defer db.Close(database)
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
		outcomeLedger = ledger.New(database, logger)
	}

	metrics := telemetry.NewMetrics()
	bus := events.NewBus()

	auxCtx, stopAux := context.WithCancel(context.Background())
	defer stopAux()
	g, gctx := errgroup.WithContext(auxCtx)

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsBind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if sink, err := newEventSink(); err != nil {
		logger.Warn().Err(err).Msg("event forwarding disabled")
	} else if sink != nil {
		fwd := eventbus.NewForwarder(bus, sink, cfg.NATSSubject, runID, nodeID, logger)
		g.Go(func() error { return fwd.Run(gctx) })
	}

	if n := downloader.SweepTemp(cfg.OutputRoot, logger); n > 0 {
		logger.Info().Int("removed", n).Msg("removed temp folders from an earlier run")
	}

	limiter, err := pacing.NewLimiter(cfg.SleepBounds())
	if err != nil {
		return err
	}
	provider := ytdlp.New(ytdlp.Config{
		Binary:           cfg.YTDLPBin,
		FFprobe:          cfg.FFprobeBin,
		VideoURLBase:     ytdlp.DefaultConfig().VideoURLBase,
		EnumerateTimeout: cfg.EnumerateTimeout,
	}, logger)
	dl := downloader.New(provider, downloader.Config{
		OutputRoot:           cfg.OutputRoot,
		MinSampleRate:        cfg.MinSampleRate,
		RateLimitBytesPerSec: int64(cfg.RateLimit),
		CredentialsRef:       cfg.CookiesFile,
		FormatPreference:     cfg.FormatPreference,
		Retry: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			Backoff:        cfg.RetryBackoff,
			AttemptTimeout: cfg.FetchTimeout,
		},
	}, logger)

	var cpOpts []checkpoint.Option
	if mirror != nil {
		cpOpts = append(cpOpts, checkpoint.WithMirror(mirror, storage.Key(cfg.S3Prefix, "checkpoint.json")))
	}

	orch := batch.New(batch.Config{
		RunID:                runID,
		ChannelsFile:         cfg.ChannelsFile,
		SummaryPath:          cfg.SummaryFile(),
		StartFrom:            cfg.StartFromChannel,
		MaxChannels:          cfg.MaxChannels,
		MaxVideosPerChannel:  cfg.MaxVideosPerChannel,
		CredentialsRef:       cfg.CookiesFile,
		CheckpointEveryVideo: cfg.CheckpointEveryVideo,
		BlockThreshold:       cfg.BlockThreshold,
		BlockWindow:          cfg.BlockWindow,
		EscalationFactor:     cfg.EscalationFactor,
		SleepCeiling:         cfg.SleepCeiling,
	}, batch.Deps{
		Channels:         channels.NewLoader(logger),
		Provider:         provider,
		Downloader:       dl,
		Limiter:          limiter,
		Checkpoints:      checkpoint.NewStore(cfg.CheckpointFile(), logger, cpOpts...),
		Ledger:           outcomeLedger,
		Metrics:          metrics,
		Events:           bus,
		SummaryMirror:    mirror,
		SummaryMirrorKey: storage.Key(cfg.S3Prefix, "summary.json"),
	}, logger)

	summary, runErr := orch.Run(runCtx)

	stopAux()
	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Msg("auxiliary services stopped with error")
	}

	if summary.RunID != "" {
		printStats(summary)
	}
	return runErr
}

func newRunLock(runID string) (runlock.Lock, error) {
	if cfg.RedisAddr == "" {
		return runlock.NewFileLock(cfg.LockFile(), runID, logger), nil
	}
	abs, err := filepath.Abs(cfg.CheckpointFile())
	if err != nil {
		abs = cfg.CheckpointFile()
	}
	lock, err := runlock.NewRedisLock(runlock.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      "audioharvest:runlock:" + abs,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize run lock: %w", err)
	}
	return lock, nil
}

// newEventSink returns nil when no broker is configured.
func newEventSink() (eventbus.Sink, error) {
	switch {
	case cfg.NATSURL != "":
		return eventbus.NewNATSSink(eventbus.NATSConfig{URL: cfg.NATSURL, Token: cfg.NATSToken, Name: "audioharvest"}, logger)
	case cfg.RedisEvents && cfg.RedisAddr != "":
		return eventbus.NewRedisSink(eventbus.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	default:
		return nil, nil
	}
}

func printBanner(runID string) {
	logger.Info().Msg(strings.Repeat("=", 60))
	logger.Info().Str("version", version.Version).Str("run_id", runID).Msg("audioharvest batch starting")
	logger.Info().
		Str("channels_file", cfg.ChannelsFile).
		Str("output_root", cfg.OutputRoot).
		Str("sleep", cfg.SleepBounds().String()).
		Str("rate_limit", cfg.RateLimit.String()).
		Int("max_videos_per_channel", cfg.MaxVideosPerChannel).
		Int("max_channels", cfg.MaxChannels).
		Int("start_from", cfg.StartFromChannel).
		Bool("cookies", cfg.CookiesFile != "").
		Str("checkpoint", cfg.CheckpointFile()).
		Msg("configuration")
	logger.Info().Msg(strings.Repeat("=", 60))
}

func printStats(s models.BatchSummary) {
	logger.Info().Msg(strings.Repeat("=", 60))
	logger.Info().
		Int("channels", s.TotalChannels).
		Int("videos", s.TotalVideos).
		Int("successful", s.Successful).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Int("escalations", s.Escalations).
		Bool("interrupted", s.Interrupted).
		Str("summary", cfg.SummaryFile()).
		Msg("download statistics")
	if s.Escalations > 0 || s.Failed > s.Successful {
		logger.Warn().Msg("many failures or blocks: consider --sleep-min/--sleep-max higher, a lower --rate-limit, or --cookies-file")
	}
	logger.Info().Msg(strings.Repeat("=", 60))
}
