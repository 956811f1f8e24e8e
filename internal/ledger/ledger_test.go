/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/audioharvest/internal/config"
	"github.com/friendsincode/audioharvest/internal/db"
	"github.com/friendsincode/audioharvest/internal/failure"
	"github.com/friendsincode/audioharvest/internal/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Connect(config.DatabaseSQLite, ":memory:", false)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(database, zerolog.Nop())
}

func TestRecordAndQuery(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	ch := models.ChannelEntry{Index: 0, Name: "Alpha", URL: "https://a"}
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := l.StartRun(ctx, "run-1", base); err != nil {
		t.Fatal(err)
	}
	outcomes := []models.Outcome{
		models.Success(ch.URL, models.VideoRecord{VideoID: "v1"}, 1, base),
		models.Failed(ch.URL, "v2", failure.Blocked, "HTTP Error 403", 1, base.Add(time.Second)),
		models.Failed(ch.URL, "v3", failure.Transient, "timed out", 3, base.Add(2*time.Second)),
		models.Skipped(ch.URL, "v4", models.SkipAlreadyCompleted, base.Add(3*time.Second)),
	}
	for _, out := range outcomes {
		if err := l.Record(ctx, "run-1", ch, out); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	counts, err := l.CountByStatus(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.StatusSuccess] != 1 || counts[models.StatusFailed] != 2 || counts[models.StatusSkipped] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	failures, err := l.RecentFailures(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 2 || failures[0].VideoID != "v3" || failures[1].Kind != string(failure.Blocked) {
		t.Fatalf("failures = %+v", failures)
	}

	summary := models.BatchSummary{RunID: "run-1", FinishedAt: base.Add(time.Minute), Successful: 1, Failed: 2, Skipped: 1, Interrupted: true}
	if err := l.FinishRun(ctx, summary); err != nil {
		t.Fatal(err)
	}
	run, err := l.LatestRun(ctx)
	if err != nil || run == nil {
		t.Fatalf("latest run: %v %v", run, err)
	}
	if run.FinishedAt == nil || !run.Interrupted || run.Failed != 2 {
		t.Fatalf("run = %+v", run)
	}
}

func TestLatestRunEmpty(t *testing.T) {
	l := newTestLedger(t)
	run, err := l.LatestRun(context.Background())
	if err != nil || run != nil {
		t.Fatalf("run=%v err=%v", run, err)
	}
}
