/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/friendsincode/audioharvest/internal/models"
	"github.com/friendsincode/audioharvest/internal/pacing"
)

const namespace = "audioharvest"

// Metrics holds the batch collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	VideoOutcomes      *prometheus.CounterVec
	FetchAttempts      prometheus.Counter
	PacingWait         prometheus.Histogram
	SleepBound         *prometheus.GaugeVec
	Escalations        prometheus.Counter
	ChannelsCompleted  prometheus.Counter
	ChannelsFailed     prometheus.Counter
	CheckpointSaves    prometheus.Counter
	CheckpointSaveTime prometheus.Histogram
}

// NewMetrics registers the batch collectors plus the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		VideoOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_outcomes_total",
			Help:      "Video outcomes by status and failure kind.",
		}, []string{"status", "kind"}),
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Provider fetch attempts including retries.",
		}),
		PacingWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pacing_wait_seconds",
			Help:      "Randomized waits between videos.",
			Buckets:   []float64{1, 2.5, 5, 7.5, 10, 15, 20, 30, 60, 120, 300},
		}),
		SleepBound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sleep_bound_seconds",
			Help:      "Current pacing bounds.",
		}, []string{"bound"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Times the pacing bounds were widened after repeated blocks.",
		}),
		ChannelsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_completed_total",
			Help:      "Channels fully processed.",
		}),
		ChannelsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_failed_total",
			Help:      "Channels whose listing failed.",
		}),
		CheckpointSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint writes.",
		}),
		CheckpointSaveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_save_seconds",
			Help:      "Checkpoint write latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	reg.MustRegister(
		m.VideoOutcomes,
		m.FetchAttempts,
		m.PacingWait,
		m.SleepBound,
		m.Escalations,
		m.ChannelsCompleted,
		m.ChannelsFailed,
		m.CheckpointSaves,
		m.CheckpointSaveTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveOutcome records a finished video.
func (m *Metrics) ObserveOutcome(out models.Outcome) {
	if m == nil {
		return
	}
	m.VideoOutcomes.WithLabelValues(string(out.Status), string(out.Kind)).Inc()
	m.FetchAttempts.Add(float64(out.Attempts))
}

// ObserveWait records one pacing wait.
func (m *Metrics) ObserveWait(d time.Duration) {
	if m == nil {
		return
	}
	m.PacingWait.Observe(d.Seconds())
}

// SetBounds publishes the current pacing bounds.
func (m *Metrics) SetBounds(b pacing.Bounds) {
	if m == nil {
		return
	}
	m.SleepBound.WithLabelValues("min").Set(b.Min.Seconds())
	m.SleepBound.WithLabelValues("max").Set(b.Max.Seconds())
}

// ObserveCheckpointSave records a checkpoint write.
func (m *Metrics) ObserveCheckpointSave(d time.Duration) {
	if m == nil {
		return
	}
	m.CheckpointSaves.Inc()
	m.CheckpointSaveTime.Observe(d.Seconds())
}

// ObserveEscalation counts a pacing escalation and publishes the new bounds.
func (m *Metrics) ObserveEscalation(b pacing.Bounds) {
	if m == nil {
		return
	}
	m.Escalations.Inc()
	m.SetBounds(b)
}

// ObserveChannel counts a finished channel.
func (m *Metrics) ObserveChannel(completed bool) {
	if m == nil {
		return
	}
	if completed {
		m.ChannelsCompleted.Inc()
		return
	}
	m.ChannelsFailed.Inc()
}

// Handler exposes the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
