/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package results

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/models"
)

func TestAggregatorCounts(t *testing.T) {
	now := time.Now()
	a := NewAggregator("run-1", now)
	alpha := models.ChannelEntry{Index: 0, Name: "Alpha", URL: "https://a"}
	beta := models.ChannelEntry{Index: 1, Name: "Beta", URL: "https://b"}

	a.EnterChannel(alpha)
	a.Add(alpha, models.Success(alpha.URL, models.VideoRecord{VideoID: "1"}, 1, now))
	a.Add(alpha, models.Failed(alpha.URL, "2", failure.Blocked, "403", 1, now))
	a.Add(alpha, models.Skipped(alpha.URL, "3", models.SkipAlreadyCompleted, now))
	a.CompleteChannel(alpha)
	a.SkipChannel(beta)
	a.Escalated()

	s := a.Summary(now.Add(time.Minute), false, nil)
	if s.TotalChannels != 2 || s.TotalVideos != 3 || s.Successful != 1 || s.Failed != 1 || s.Skipped != 1 {
		t.Fatalf("summary totals = %+v", s)
	}
	if s.Escalations != 1 {
		t.Fatalf("escalations = %d", s.Escalations)
	}
	a1 := s.PerChannel[alpha.URL]
	if a1.Name != alpha.Name || !a1.Completed {
		t.Fatalf("alpha = %+v", a1)
	}
	if len(a1.Failures) != 1 || a1.Failures[0].Kind != failure.Blocked {
		t.Fatalf("failures = %+v", a1.Failures)
	}
	if !s.PerChannel[beta.URL].SkippedChannel {
		t.Fatal("beta should be flagged as skipped")
	}
	if ordered := s.Channels(); len(ordered) != 2 || ordered[0].URL != alpha.URL || ordered[1].URL != beta.URL {
		t.Fatalf("channels = %+v", ordered)
	}
}

func TestSummarySnapshotIsIndependent(t *testing.T) {
	now := time.Now()
	a := NewAggregator("run", now)
	ch := models.ChannelEntry{URL: "https://a"}
	a.Add(ch, models.Failed(ch.URL, "1", failure.Transient, "x", 3, now))
	s := a.Summary(now, false, nil)
	a.Add(ch, models.Failed(ch.URL, "2", failure.Transient, "y", 3, now))
	if len(s.PerChannel[ch.URL].Failures) != 1 {
		t.Fatal("snapshot changed after further outcomes")
	}
}

func TestWriteSummary(t *testing.T) {
	now := time.Now()
	a := NewAggregator("run", now)
	a.ChannelError(models.ChannelEntry{URL: "https://a"}, errors.New("listing failed"))
	path := filepath.Join(t.TempDir(), "summary.json")

	if _, err := WriteSummary(path, a.Summary(now, true, errors.New("disk gone"))); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got models.BatchSummary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Interrupted || got.FatalError != "disk gone" || got.PerChannel["https://a"].EnumerateError != "listing failed" {
		t.Fatalf("summary = %+v", got)
	}

	// per_channel is an object keyed by channel URL.
	var raw struct {
		PerChannel map[string]json.RawMessage `json:"per_channel"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("per_channel is not an object: %v", err)
	}
	if _, ok := raw.PerChannel["https://a"]; !ok {
		t.Fatalf("per_channel keys = %v", raw.PerChannel)
	}
}
