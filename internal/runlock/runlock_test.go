/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestFileLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	ctx := context.Background()

	first := NewFileLock(path, "run-1", zerolog.Nop())
	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second := NewFileLock(path, "run-2", zerolog.Nop())
	if err := second.Acquire(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire = %v, want ErrHeld", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := second.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file left behind")
	}
}

func TestFileLockReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	host, _ := os.Hostname()
	// pid 0 is never a live owner.
	data, _ := json.Marshal(lockInfo{PID: 0, RunID: "old", Host: host, AcquiredAt: time.Now()})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	lock := NewFileLock(path, "new", zerolog.Nop())
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("expected stale lock to be reclaimed: %v", err)
	}
	raw, _ := os.ReadFile(path)
	var info lockInfo
	if err := json.Unmarshal(raw, &info); err != nil || info.RunID != "new" {
		t.Fatalf("lock info = %+v err=%v", info, err)
	}
}

func TestFileLockKeepsForeignHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	data, _ := json.Marshal(lockInfo{PID: 0, RunID: "old", Host: "some-other-host.invalid"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewFileLock(path, "new", zerolog.Nop()).Acquire(context.Background()); !errors.Is(err, ErrHeld) {
		t.Fatalf("acquire = %v, want ErrHeld", err)
	}
}

// Redis tests need a live server; set HARVEST_TEST_REDIS_ADDR to run them.
func TestRedisLockExclusive(t *testing.T) {
	addr := os.Getenv("HARVEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HARVEST_TEST_REDIS_ADDR not set")
	}
	cfg := RedisConfig{
		Addr:          addr,
		Key:           "audioharvest:test:" + uuid.NewString(),
		LeaseDuration: 2 * time.Second,
		RenewInterval: 500 * time.Millisecond,
	}
	ctx := context.Background()

	first, err := NewRedisLock(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewRedisLock(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// Outlive the lease to prove renewal works.
	time.Sleep(3 * time.Second)
	if err := second.Acquire(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire = %v, want ErrHeld", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := second.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRedisConfigValidation(t *testing.T) {
	_, err := NewRedisLock(RedisConfig{Addr: "127.0.0.1:1", LeaseDuration: time.Second, RenewInterval: time.Second}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected renew interval validation error")
	}
}
