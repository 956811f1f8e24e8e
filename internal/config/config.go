/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/pacing"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers a batch run. Values come from defaults, then the YAML file,
// then HARVEST_* environment variables, then command-line flags.
type Config struct {
	Environment string `yaml:"environment"`
	InstanceID  string `yaml:"instance_id"`

	ChannelsFile string `yaml:"channels_file"`
	OutputRoot   string `yaml:"output_root"`

	SleepMin     time.Duration `yaml:"sleep_min"`
	SleepMax     time.Duration `yaml:"sleep_max"`
	SleepCeiling time.Duration `yaml:"sleep_ceiling"`
	RateLimit    ByteRate      `yaml:"rate_limit"`

	MaxVideosPerChannel int    `yaml:"max_videos_per_channel"`
	MaxChannels         int    `yaml:"max_channels"`
	StartFromChannel    int    `yaml:"start_from_channel_index"`
	CookiesFile         string `yaml:"cookies_file"`
	MinSampleRate       int    `yaml:"min_sample_rate"`
	FormatPreference    string `yaml:"format_preference"`

	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// EnumerateTimeout bounds one channel listing.
	EnumerateTimeout time.Duration `yaml:"enumerate_timeout"`

	BlockThreshold   int           `yaml:"block_threshold"`
	BlockWindow      time.Duration `yaml:"block_window"`
	EscalationFactor float64       `yaml:"escalation_factor"`

	CheckpointEveryVideo bool   `yaml:"checkpoint_every_video"`
	CheckpointPath       string `yaml:"checkpoint_path"`
	SummaryPath          string `yaml:"summary_path"`
	ProgressLog          string `yaml:"progress_log"`

	YTDLPBin   string `yaml:"ytdlp_bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`

	MetricsBind string `yaml:"metrics_bind"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	// Outcome ledger; disabled without a DSN.
	LedgerBackend DatabaseBackend `yaml:"ledger_backend"`
	LedgerDSN     string          `yaml:"ledger_dsn"`

	// Redis backs the shared run lock when set; otherwise a lock file is used.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// RedisEvents forwards batch events over Redis pub/sub when NATS is not configured.
	RedisEvents bool `yaml:"redis_events"`

	NATSURL     string `yaml:"nats_url"`
	NATSToken   string `yaml:"nats_token"`
	NATSSubject string `yaml:"nats_subject"`

	// S3 mirror of checkpoint and summary
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3Endpoint        string `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, Spaces, etc.)
	S3Prefix          string `yaml:"s3_prefix"`
	S3UsePathStyle    bool   `yaml:"s3_use_path_style"` // Required for MinIO

	UnknownEnvWarnings []string `yaml:"-"`
}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	return &Config{
		Environment:          "production",
		ChannelsFile:         "channels.txt",
		OutputRoot:           "downloads",
		SleepMin:             5 * time.Second,
		SleepMax:             10 * time.Second,
		SleepCeiling:         5 * time.Minute,
		RateLimit:            500 * 1024,
		MinSampleRate:        16000,
		MaxAttempts:          3,
		RetryBackoff:         2 * time.Second,
		FetchTimeout:         15 * time.Minute,
		EnumerateTimeout:     5 * time.Minute,
		BlockThreshold:       5,
		BlockWindow:          30 * time.Minute,
		EscalationFactor:     2.0,
		CheckpointEveryVideo: true,
		YTDLPBin:             "yt-dlp",
		FFprobeBin:           "ffprobe",
		OTLPEndpoint:         "localhost:4317",
		TracingSampleRate:    1.0,
		LedgerBackend:        DatabaseSQLite,
		NATSSubject:          "audioharvest.events",
		S3Region:             "us-east-1",
	}
}

// Load applies the YAML file at path (or HARVEST_CONFIG_FILE when path is
// empty) and the environment over the defaults. Call Validate once flags
// have been applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("HARVEST_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, failure.New(failure.ConfigInvalid, "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, failure.New(failure.ConfigInvalid, "parse config file", err)
		}
	}

	cfg.applyEnv()
	cfg.UnknownEnvWarnings = detectUnknownEnvWarnings()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnvAny([]string{"HARVEST_ENV"}, c.Environment)
	c.InstanceID = getEnvAny([]string{"HARVEST_INSTANCE_ID"}, c.InstanceID)

	c.ChannelsFile = getEnvAny([]string{"HARVEST_CHANNELS_FILE"}, c.ChannelsFile)
	c.OutputRoot = getEnvAny([]string{"HARVEST_OUTPUT_ROOT"}, c.OutputRoot)

	c.SleepMin = getEnvDurationAny([]string{"HARVEST_SLEEP_MIN"}, c.SleepMin)
	c.SleepMax = getEnvDurationAny([]string{"HARVEST_SLEEP_MAX"}, c.SleepMax)
	c.SleepCeiling = getEnvDurationAny([]string{"HARVEST_SLEEP_CEILING"}, c.SleepCeiling)
	c.RateLimit = getEnvRateAny([]string{"HARVEST_RATE_LIMIT"}, c.RateLimit)

	c.MaxVideosPerChannel = getEnvIntAny([]string{"HARVEST_MAX_VIDEOS_PER_CHANNEL"}, c.MaxVideosPerChannel)
	c.MaxChannels = getEnvIntAny([]string{"HARVEST_MAX_CHANNELS"}, c.MaxChannels)
	c.StartFromChannel = getEnvIntAny([]string{"HARVEST_START_FROM"}, c.StartFromChannel)
	c.CookiesFile = getEnvAny([]string{"HARVEST_COOKIES_FILE"}, c.CookiesFile)
	c.MinSampleRate = getEnvIntAny([]string{"HARVEST_MIN_SAMPLE_RATE"}, c.MinSampleRate)
	c.FormatPreference = getEnvAny([]string{"HARVEST_FORMAT"}, c.FormatPreference)

	c.MaxAttempts = getEnvIntAny([]string{"HARVEST_MAX_ATTEMPTS"}, c.MaxAttempts)
	c.RetryBackoff = getEnvDurationAny([]string{"HARVEST_RETRY_BACKOFF"}, c.RetryBackoff)
	c.FetchTimeout = getEnvDurationAny([]string{"HARVEST_FETCH_TIMEOUT"}, c.FetchTimeout)
	c.EnumerateTimeout = getEnvDurationAny([]string{"HARVEST_ENUMERATE_TIMEOUT"}, c.EnumerateTimeout)

	c.BlockThreshold = getEnvIntAny([]string{"HARVEST_BLOCK_THRESHOLD"}, c.BlockThreshold)
	c.BlockWindow = getEnvDurationAny([]string{"HARVEST_BLOCK_WINDOW"}, c.BlockWindow)
	c.EscalationFactor = getEnvFloatAny([]string{"HARVEST_ESCALATION_FACTOR"}, c.EscalationFactor)

	c.CheckpointEveryVideo = getEnvBoolAny([]string{"HARVEST_CHECKPOINT_EVERY_VIDEO"}, c.CheckpointEveryVideo)
	c.CheckpointPath = getEnvAny([]string{"HARVEST_CHECKPOINT_PATH"}, c.CheckpointPath)
	c.SummaryPath = getEnvAny([]string{"HARVEST_SUMMARY_PATH"}, c.SummaryPath)
	c.ProgressLog = getEnvAny([]string{"HARVEST_PROGRESS_LOG"}, c.ProgressLog)

	c.YTDLPBin = getEnvAny([]string{"HARVEST_YTDLP_BIN"}, c.YTDLPBin)
	c.FFprobeBin = getEnvAny([]string{"HARVEST_FFPROBE_BIN"}, c.FFprobeBin)

	c.MetricsBind = getEnvAny([]string{"HARVEST_METRICS_BIND"}, c.MetricsBind)

	c.TracingEnabled = getEnvBoolAny([]string{"HARVEST_TRACING_ENABLED"}, c.TracingEnabled)
	c.OTLPEndpoint = getEnvAny([]string{"HARVEST_OTLP_ENDPOINT"}, c.OTLPEndpoint)
	c.TracingSampleRate = getEnvFloatAny([]string{"HARVEST_TRACING_SAMPLE_RATE"}, c.TracingSampleRate)

	c.LedgerBackend = DatabaseBackend(getEnvAny([]string{"HARVEST_LEDGER_BACKEND"}, string(c.LedgerBackend)))
	c.LedgerDSN = getEnvAny([]string{"HARVEST_LEDGER_DSN"}, c.LedgerDSN)

	c.RedisAddr = getEnvAny([]string{"HARVEST_REDIS_ADDR"}, c.RedisAddr)
	c.RedisPassword = getEnvAny([]string{"HARVEST_REDIS_PASSWORD"}, c.RedisPassword)
	c.RedisDB = getEnvIntAny([]string{"HARVEST_REDIS_DB"}, c.RedisDB)
	c.RedisEvents = getEnvBoolAny([]string{"HARVEST_REDIS_EVENTS"}, c.RedisEvents)

	c.NATSURL = getEnvAny([]string{"HARVEST_NATS_URL"}, c.NATSURL)
	c.NATSToken = getEnvAny([]string{"HARVEST_NATS_TOKEN"}, c.NATSToken)
	c.NATSSubject = getEnvAny([]string{"HARVEST_NATS_SUBJECT"}, c.NATSSubject)

	c.S3AccessKeyID = getEnvAny([]string{"HARVEST_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, c.S3AccessKeyID)
	c.S3SecretAccessKey = getEnvAny([]string{"HARVEST_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, c.S3SecretAccessKey)
	c.S3Region = getEnvAny([]string{"HARVEST_S3_REGION", "AWS_REGION"}, c.S3Region)
	c.S3Bucket = getEnvAny([]string{"HARVEST_S3_BUCKET"}, c.S3Bucket)
	c.S3Endpoint = getEnvAny([]string{"HARVEST_S3_ENDPOINT"}, c.S3Endpoint)
	c.S3Prefix = getEnvAny([]string{"HARVEST_S3_PREFIX"}, c.S3Prefix)
	c.S3UsePathStyle = getEnvBoolAny([]string{"HARVEST_S3_USE_PATH_STYLE"}, c.S3UsePathStyle)
}

// knownEnvKeys lists every HARVEST_* key read by Load.
var knownEnvKeys = map[string]struct{}{}

func init() {
	for _, k := range []string{
		"HARVEST_CONFIG_FILE", "HARVEST_ENV", "HARVEST_INSTANCE_ID",
		"HARVEST_CHANNELS_FILE", "HARVEST_OUTPUT_ROOT",
		"HARVEST_SLEEP_MIN", "HARVEST_SLEEP_MAX", "HARVEST_SLEEP_CEILING", "HARVEST_RATE_LIMIT",
		"HARVEST_MAX_VIDEOS_PER_CHANNEL", "HARVEST_MAX_CHANNELS", "HARVEST_START_FROM",
		"HARVEST_COOKIES_FILE", "HARVEST_MIN_SAMPLE_RATE", "HARVEST_FORMAT",
		"HARVEST_MAX_ATTEMPTS", "HARVEST_RETRY_BACKOFF", "HARVEST_FETCH_TIMEOUT", "HARVEST_ENUMERATE_TIMEOUT",
		"HARVEST_BLOCK_THRESHOLD", "HARVEST_BLOCK_WINDOW", "HARVEST_ESCALATION_FACTOR",
		"HARVEST_CHECKPOINT_EVERY_VIDEO", "HARVEST_CHECKPOINT_PATH", "HARVEST_SUMMARY_PATH", "HARVEST_PROGRESS_LOG",
		"HARVEST_YTDLP_BIN", "HARVEST_FFPROBE_BIN", "HARVEST_METRICS_BIND",
		"HARVEST_TRACING_ENABLED", "HARVEST_OTLP_ENDPOINT", "HARVEST_TRACING_SAMPLE_RATE",
		"HARVEST_LEDGER_BACKEND", "HARVEST_LEDGER_DSN",
		"HARVEST_REDIS_ADDR", "HARVEST_REDIS_PASSWORD", "HARVEST_REDIS_DB", "HARVEST_REDIS_EVENTS",
		"HARVEST_NATS_URL", "HARVEST_NATS_TOKEN", "HARVEST_NATS_SUBJECT",
		"HARVEST_S3_ACCESS_KEY_ID", "HARVEST_S3_SECRET_ACCESS_KEY", "HARVEST_S3_REGION",
		"HARVEST_S3_BUCKET", "HARVEST_S3_ENDPOINT", "HARVEST_S3_PREFIX", "HARVEST_S3_USE_PATH_STYLE",
		"HARVEST_TEST_REDIS_ADDR",
	} {
		knownEnvKeys[k] = struct{}{}
	}
}

// detectUnknownEnvWarnings reports HARVEST_* keys that nothing reads, which
// are almost always typos.
func detectUnknownEnvWarnings() []string {
	var warnings []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, "HARVEST_") {
			continue
		}
		if _, ok := knownEnvKeys[key]; !ok {
			warnings = append(warnings, fmt.Sprintf("unknown env key %s is set and ignored", key))
		}
	}
	sort.Strings(warnings)
	return warnings
}

// Validate checks the configuration before any work starts.
func (c *Config) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	check(strings.TrimSpace(c.ChannelsFile) != "", "channels file must be set")
	check(strings.TrimSpace(c.OutputRoot) != "", "output root must be set")
	check(c.SleepMin >= 0 && c.SleepMax >= 0, "sleep bounds must be non-negative (min %s, max %s)", c.SleepMin, c.SleepMax)
	check(c.SleepMin <= c.SleepMax, "sleep min %s exceeds sleep max %s", c.SleepMin, c.SleepMax)
	check(c.SleepCeiling >= c.SleepMax, "sleep ceiling %s is below sleep max %s", c.SleepCeiling, c.SleepMax)
	check(c.RateLimit >= 0, "rate limit must be non-negative")
	check(c.MaxVideosPerChannel >= 0, "max videos per channel must be non-negative")
	check(c.MaxChannels >= 0, "max channels must be non-negative")
	check(c.StartFromChannel >= 0, "start index must be non-negative")
	check(c.MinSampleRate > 0, "min sample rate must be positive")
	check(c.MaxAttempts >= 1, "max attempts must be at least 1")
	check(c.RetryBackoff >= 0, "retry backoff must be non-negative")
	check(c.FetchTimeout > 0, "fetch timeout must be positive")
	check(c.EnumerateTimeout > 0, "enumerate timeout must be positive")
	check(c.BlockThreshold >= 1, "block threshold must be at least 1")
	check(c.BlockWindow > 0, "block window must be positive")
	check(c.EscalationFactor >= 1, "escalation factor must be at least 1")
	check(c.LedgerBackend == DatabasePostgres || c.LedgerBackend == DatabaseMySQL || c.LedgerBackend == DatabaseSQLite,
		"unsupported ledger backend %q", c.LedgerBackend)
	check(c.TracingSampleRate >= 0 && c.TracingSampleRate <= 1, "tracing sample rate must be within [0, 1]")

	if len(problems) > 0 {
		return failure.New(failure.ConfigInvalid, "validate config", errors.Join(problems...))
	}
	return nil
}

// SleepBounds returns the configured inter-download pause range.
func (c *Config) SleepBounds() pacing.Bounds {
	return pacing.Bounds{Min: c.SleepMin, Max: c.SleepMax}
}

// CheckpointFile returns the checkpoint path, defaulting under the output root.
func (c *Config) CheckpointFile() string {
	return c.pathOrDefault(c.CheckpointPath, "checkpoint.json")
}

// SummaryFile returns the summary path, defaulting under the output root.
func (c *Config) SummaryFile() string {
	return c.pathOrDefault(c.SummaryPath, "summary.json")
}

// ProgressLogFile returns the progress log path, defaulting under the output root.
func (c *Config) ProgressLogFile() string {
	return c.pathOrDefault(c.ProgressLog, "progress.log")
}

// LockFile sits beside the checkpoint it protects.
func (c *Config) LockFile() string {
	return c.CheckpointFile() + ".lock"
}

func (c *Config) pathOrDefault(path, name string) string {
	if path != "" {
		return path
	}
	return filepath.Join(c.OutputRoot, name)
}

// ByteRate is a transfer rate in bytes per second. Text forms accept an
// optional K, M or G suffix in binary units, so "500K" is 512000.
type ByteRate int64

// ParseRate parses "512000", "500K", "1.5M" or "2G".
func ParseRate(s string) (ByteRate, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty rate")
	}
	upper := strings.TrimSuffix(strings.ToUpper(raw), "B")
	mult := 1.0
	switch {
	case strings.HasSuffix(upper, "K"):
		mult, upper = 1024, strings.TrimSuffix(upper, "K")
	case strings.HasSuffix(upper, "M"):
		mult, upper = 1024*1024, strings.TrimSuffix(upper, "M")
	case strings.HasSuffix(upper, "G"):
		mult, upper = 1024*1024*1024, strings.TrimSuffix(upper, "G")
	}
	n, err := strconv.ParseFloat(upper, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	return ByteRate(n * mult), nil
}

// String renders the rate the way the CLI accepts it.
func (r ByteRate) String() string {
	switch {
	case r > 0 && r%(1024*1024) == 0:
		return fmt.Sprintf("%dM", r/(1024*1024))
	case r > 0 && r%1024 == 0:
		return fmt.Sprintf("%dK", r/1024)
	default:
		return strconv.FormatInt(int64(r), 10)
	}
}

// Set implements pflag.Value.
func (r *ByteRate) Set(s string) error {
	v, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Type implements pflag.Value.
func (r *ByteRate) Type() string { return "rate" }

// UnmarshalYAML accepts both numbers and suffixed strings.
func (r *ByteRate) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseRate(value.Value)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s") or bare seconds ("90").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return def
}

// getEnvRateAny returns the first parseable rate from keys, or def.
func getEnvRateAny(keys []string, def ByteRate) ByteRate {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := ParseRate(v); err == nil {
				return parsed
			}
		}
	}
	return def
}
