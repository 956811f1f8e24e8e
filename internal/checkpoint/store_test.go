/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/models"
	"github.com/friendsincode/audioharvest/internal/storage"
)

func TestLoadMissingReturnsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "checkpoint.json"), zerolog.Nop())
	state := store.Load()
	if len(state.CompletedChannels) != 0 || len(state.CompletedVideos) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
	if state.LastChannelIndex != -1 {
		t.Fatalf("last index = %d, want -1", state.LastChannelIndex)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "checkpoint.json")
	store := NewStore(path, zerolog.Nop())

	ch := models.ChannelEntry{Index: 2, Name: "Alpha", URL: "https://a"}
	state := NewState()
	state.EnterChannel(ch)
	state.MarkVideoComplete("v2")
	state.MarkVideoComplete("v1")
	state.RecordOutcome(ch.URL, models.StatusSuccess)
	state.RecordOutcome(ch.URL, models.StatusSuccess)
	state.RecordOutcome(ch.URL, models.StatusFailed)
	state.RecordOutcome(ch.URL, models.StatusSkipped)
	state.MarkChannelComplete(ch)

	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := store.Load()
	if !loaded.ChannelCompleted("https://a") {
		t.Fatal("channel not completed after reload")
	}
	if !loaded.VideoCompleted("v1") || !loaded.VideoCompleted("v2") {
		t.Fatal("videos not completed after reload")
	}
	if loaded.LastChannelIndex != 2 {
		t.Fatalf("last index = %d", loaded.LastChannelIndex)
	}
	if got := loaded.PerChannel["https://a"]; got.Successful != 2 || got.Failed != 1 {
		t.Fatalf("counters = %+v", got)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"completed_channels", "completed_videos", "last_channel_index", "per_channel"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("checkpoint missing key %s: %s", key, raw)
		}
	}
	videos := doc["completed_videos"].([]any)
	if videos[0] != "v1" || videos[1] != "v2" {
		t.Fatalf("videos not sorted: %v", videos)
	}
}

func TestLoadCorruptMovesAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	state := NewStore(path, zerolog.Nop()).Load()
	if len(state.CompletedVideos) != 0 {
		t.Fatal("expected empty state from corrupt file")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt checkpoint should have been moved aside")
	}
	entries, _ := os.ReadDir(dir)
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "checkpoint.json.corrupt-") {
			found = true
		}
	}
	if !found {
		t.Fatal("no corrupt backup found")
	}
}

func TestEnterChannelResetsFailedOnly(t *testing.T) {
	ch := models.ChannelEntry{Index: 0, Name: "A", URL: "https://a"}
	state := NewState()
	state.PerChannel[ch.URL] = Counters{Successful: 4, Failed: 3}
	state.EnterChannel(ch)
	if got := state.PerChannel[ch.URL]; got.Successful != 4 || got.Failed != 0 {
		t.Fatalf("counters = %+v", got)
	}
}

func TestSaveMirrors(t *testing.T) {
	mirror := storage.NewMemoryStore()
	store := NewStore(filepath.Join(t.TempDir(), "checkpoint.json"), zerolog.Nop(), WithMirror(mirror, "harvest/checkpoint.json"))

	state := NewState()
	state.MarkVideoComplete("abc")
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	data, err := mirror.Get(context.Background(), "harvest/checkpoint.json")
	if err != nil {
		t.Fatalf("mirror get: %v", err)
	}
	if !strings.Contains(string(data), `"abc"`) {
		t.Fatalf("mirror content = %s", data)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	state := NewState()
	state.MarkVideoComplete("a")
	clone := state.Clone()
	clone.MarkVideoComplete("b")
	if state.VideoCompleted("b") {
		t.Fatal("clone shares storage with original")
	}
}

func TestPeekLeavesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(path, zerolog.Nop())
	if _, err := store.Peek(); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("peek must not move the file")
	}

	missing := NewStore(filepath.Join(t.TempDir(), "none.json"), zerolog.Nop())
	st, err := missing.Peek()
	if err != nil || st.LastChannelIndex != -1 {
		t.Fatalf("peek missing = %+v, %v", st, err)
	}
}
