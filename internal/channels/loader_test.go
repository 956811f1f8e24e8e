/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channels

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/failure"
)

func TestParseSkipsMalformedAndComments(t *testing.T) {
	input := strings.Join([]string{
		"# channels to harvest",
		"Alpha, https://example.com/@alpha",
		"",
		"no comma here",
		"Beta,https://example.com/@beta/videos",
		",https://example.com/@nameless",
		"Gamma , https://example.com/c/gamma?x=1,2",
	}, "\n")

	list, err := NewLoader(zerolog.Nop()).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if list.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", list.Skipped)
	}
	if len(list.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(list.Entries))
	}

	want := []struct {
		name, url string
	}{
		{"Alpha", "https://example.com/@alpha"},
		{"Beta", "https://example.com/@beta/videos"},
		{"Gamma", "https://example.com/c/gamma?x=1,2"},
	}
	for i, w := range want {
		got := list.Entries[i]
		if got.Index != i || got.Name != w.name || got.URL != w.url {
			t.Fatalf("entry %d = %+v, want %s %s", i, got, w.name, w.url)
		}
	}
}

func TestParseSkipsOversizedLine(t *testing.T) {
	input := "Alpha,https://a\n" + "Huge," + strings.Repeat("x", 2<<20) + "\nBeta,https://b"

	list, err := NewLoader(zerolog.Nop()).Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("an oversized line must not abort the load: %v", err)
	}
	if list.Skipped != 1 || len(list.Entries) != 2 || list.Entries[1].Name != "Beta" || list.Entries[1].Index != 1 {
		t.Fatalf("list = skipped %d, entries %+v", list.Skipped, list.Entries)
	}
}

func TestParseEmptyIsConfigInvalid(t *testing.T) {
	for name, input := range map[string]string{
		"empty":         "",
		"comments only": "# nothing\n\n",
		"all malformed": "one\ntwo\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader(zerolog.Nop()).Parse(strings.NewReader(input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !failure.Is(err, failure.ConfigInvalid) {
				t.Fatalf("expected config invalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).Load(filepath.Join(t.TempDir(), "missing.txt"))
	if !failure.Is(err, failure.ConfigInvalid) {
		t.Fatalf("expected config invalid, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.txt")
	if err := os.WriteFile(path, []byte("\ufeffA,https://a\r\nB,https://b\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := NewLoader(zerolog.Nop()).Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list.Entries) != 2 || list.Entries[0].Name != "A" || list.Entries[1].URL != "https://b" {
		t.Fatalf("unexpected entries %+v", list.Entries)
	}
}
