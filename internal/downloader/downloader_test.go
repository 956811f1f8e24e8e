/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/models"
	"github.com/friendsincode/audioharvest/internal/provider"
	"github.com/friendsincode/audioharvest/internal/retry"
)

type fakeStream struct {
	ext        string
	codec      string
	sampleRate int
}

type fakeProvider struct {
	streams []fakeStream
	errs    []error
	calls   int
	// afterWrite runs after files are written, before Fetch returns.
	afterWrite func(req provider.FetchRequest)
}

func (f *fakeProvider) Enumerate(context.Context, provider.EnumerateRequest) iter.Seq2[models.VideoID, error] {
	return func(func(models.VideoID, error) bool) {}
}

func (f *fakeProvider) Fetch(ctx context.Context, req provider.FetchRequest) (*provider.Fetched, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := &provider.Fetched{Info: provider.VideoInfo{Title: "Title " + string(req.VideoID), Uploader: "up", DurationSec: 61}}
	for _, s := range f.streams {
		path := filepath.Join(req.WorkDir, string(req.VideoID)+"."+s.ext)
		if err := os.WriteFile(path, []byte("audio-"+s.ext), 0o644); err != nil {
			return nil, err
		}
		out.Streams = append(out.Streams, provider.Stream{
			Path:  path,
			Audio: models.AudioMetadata{Codec: s.codec, SampleRate: s.sampleRate, Channels: 2, Format: s.ext, FileSize: 10},
		})
	}
	if f.afterWrite != nil {
		f.afterWrite(req)
	}
	return out, nil
}

var channelA = models.ChannelEntry{Index: 0, Name: "Alpha/Beta", URL: "https://example.com/@alpha"}

func newTestDownloader(t *testing.T, p provider.MediaProvider) (*Downloader, string) {
	t.Helper()
	root := t.TempDir()
	d := New(p, Config{
		OutputRoot:    root,
		MinSampleRate: 16000,
		Retry:         retry.Policy{MaxAttempts: 3, Backoff: time.Millisecond},
	}, zerolog.Nop())
	return d, root
}

func TestRunPersistsAudioAndMetadata(t *testing.T) {
	p := &fakeProvider{streams: []fakeStream{{"m4a", "aac", 44100}, {"flac", "flac", 44100}}}
	d, root := newTestDownloader(t, p)

	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "vid1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != models.StatusSuccess {
		t.Fatalf("status = %s (%s)", out.Status, out.Detail)
	}

	dir := filepath.Join(root, "Alpha_Beta", "vid1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read final dir: %v", err)
	}
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 {
		t.Fatalf("final dir contents = %v", names)
	}
	if _, err := os.Stat(filepath.Join(dir, "vid1.flac")); err != nil {
		t.Fatalf("expected lossless stream to be chosen: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "vid1.json"))
	if err != nil {
		t.Fatal(err)
	}
	var rec models.VideoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ChannelURL != channelA.URL || rec.ChannelName != channelA.Name || rec.AudioMetadata.Codec != "flac" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.DownloadTimestamp.IsZero() {
		t.Fatal("missing download timestamp")
	}

	chEntries, _ := os.ReadDir(filepath.Join(root, "Alpha_Beta"))
	for _, e := range chEntries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			t.Fatalf("temp folder left behind: %s", e.Name())
		}
	}
	if !CompleteOnDisk(dir, "vid1") {
		t.Fatal("CompleteOnDisk = false after success")
	}
}

func TestRunSkipsCompleted(t *testing.T) {
	p := &fakeProvider{}
	d, _ := newTestDownloader(t, p)
	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v", AlreadyCompleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.StatusSkipped || out.Reason != models.SkipAlreadyCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	if p.calls != 0 {
		t.Fatal("provider called for completed video")
	}
}

func TestRunSkipsArtifactsOnDisk(t *testing.T) {
	p := &fakeProvider{streams: []fakeStream{{"wav", "pcm_s16le", 48000}}}
	d, _ := newTestDownloader(t, p)
	job := Job{Channel: channelA, VideoID: "v"}
	if !d.Pending(job) {
		t.Fatal("fresh video should be pending")
	}
	if _, err := d.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if d.Pending(job) {
		t.Fatal("saved video should not be pending")
	}
	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != models.SkipAlreadyOnDisk || !out.Completes() {
		t.Fatalf("outcome = %+v", out)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
}

func TestRunRetriesTransient(t *testing.T) {
	p := &fakeProvider{
		streams: []fakeStream{{"m4a", "aac", 44100}},
		errs:    []error{failure.New(failure.Transient, "fetch", errors.New("reset")), nil},
	}
	d, _ := newTestDownloader(t, p)
	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.StatusSuccess || out.Attempts != 2 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunBlockedNotRetried(t *testing.T) {
	p := &fakeProvider{errs: []error{failure.New(failure.Blocked, "fetch", errors.New("403"))}}
	d, root := newTestDownloader(t, p)
	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != models.StatusFailed || out.Kind != failure.Blocked || out.Attempts != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := os.Stat(filepath.Join(root, "Alpha_Beta", "v")); !os.IsNotExist(err) {
		t.Fatal("final folder must not exist after failure")
	}
}

func TestRunQualityFloor(t *testing.T) {
	p := &fakeProvider{streams: []fakeStream{{"m4a", "aac", 8000}}}
	var floor int
	p.afterWrite = func(req provider.FetchRequest) { floor = req.MinSampleRate }
	d, root := newTestDownloader(t, p)
	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if floor != 16000 {
		t.Fatalf("fetch request min sample rate = %d, want 16000", floor)
	}
	if out.Kind != failure.BelowQualityFloor {
		t.Fatalf("outcome = %+v", out)
	}
	if _, err := os.Stat(filepath.Join(root, "Alpha_Beta", "v")); !os.IsNotExist(err) {
		t.Fatal("nothing should be persisted below the floor")
	}
}

func TestRunNoAudioTrack(t *testing.T) {
	p := &fakeProvider{streams: []fakeStream{{"mp4", "", 0}}}
	d, _ := newTestDownloader(t, p)
	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != failure.NoAudioTrack {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunReplacesIncompleteFolder(t *testing.T) {
	p := &fakeProvider{streams: []fakeStream{{"m4a", "aac", 44100}}}
	d, root := newTestDownloader(t, p)
	stale := filepath.Join(root, "Alpha_Beta", "v")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "v.m4a"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v"})
	if err != nil || out.Status != models.StatusSuccess {
		t.Fatalf("outcome = %+v err=%v", out, err)
	}
	if !CompleteOnDisk(stale, "v") {
		t.Fatal("folder not completed")
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{streams: []fakeStream{{"m4a", "aac", 44100}}}
	p.errs = []error{failure.New(failure.Transient, "fetch", errors.New("reset"))}
	p.afterWrite = func(provider.FetchRequest) {}
	d, root := newTestDownloader(t, p)
	cancel()

	_, err := d.Run(ctx, Job{Channel: channelA, VideoID: "v"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Alpha_Beta", "v")); !os.IsNotExist(err) {
		t.Fatal("cancelled run must not leave a final folder")
	}
}

func TestRunUnwritableRootIsFatal(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "file-not-dir")
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := New(&fakeProvider{}, Config{OutputRoot: root, MinSampleRate: 16000}, zerolog.Nop())
	_, err := d.Run(context.Background(), Job{Channel: channelA, VideoID: "v"})
	if !failure.IsFatal(err) || !failure.Is(err, failure.DiskIO) {
		t.Fatalf("expected fatal disk error, got %v", err)
	}
}

func TestSelectStreamOrdering(t *testing.T) {
	streams := []provider.Stream{
		{Path: "a", Audio: models.AudioMetadata{Codec: "opus", SampleRate: 48000, BitRate: 160000, Format: "webm"}},
		{Path: "b", Audio: models.AudioMetadata{Codec: "aac", SampleRate: 44100, BitRate: 128000, Format: "m4a"}},
		{Path: "c", Audio: models.AudioMetadata{Codec: "pcm_s16le", SampleRate: 22050, Format: "wav"}},
		{Path: "d", Audio: models.AudioMetadata{Codec: "flac", SampleRate: 8000, Format: "flac"}},
	}
	got, err := SelectStream(streams, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != "c" {
		t.Fatalf("selected %s, want lossless stream above floor", got.Path)
	}

	got, err = SelectStream(streams[:2], 16000)
	if err != nil || got.Path != "a" {
		t.Fatalf("selected %s err=%v, want highest sample rate", got.Path, err)
	}
}

func TestSanitizeName(t *testing.T) {
	for in, want := range map[string]string{
		"Plain Name":  "Plain Name",
		"a/b\\c":      "a_b_c",
		"..":          "unknown",
		"  ":          "unknown",
		"tab\there":   "tab_here",
		"what?*<>|\"": "what______",
	} {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSweepTemp(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "Chan", tempPrefix+"v-123")
	keep := filepath.Join(root, "Chan", "v")
	for _, dir := range []string{stale, keep} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if n := SweepTemp(root, zerolog.Nop()); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale temp folder remains")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal("final folder removed")
	}
}
