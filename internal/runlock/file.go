/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

type lockInfo struct {
	PID        int       `json:"pid"`
	RunID      string    `json:"run_id"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock is a lock file created with O_EXCL. A lock whose owner pid is no
// longer alive on this host is reclaimed.
type FileLock struct {
	path   string
	runID  string
	logger zerolog.Logger

	mu   sync.Mutex
	held bool
}

// NewFileLock creates a lock at path for runID.
func NewFileLock(path, runID string, logger zerolog.Logger) *FileLock {
	return &FileLock{
		path:   path,
		runID:  runID,
		logger: logger.With().Str("component", "runlock").Logger(),
	}
}

// Acquire creates the lock file.
func (l *FileLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.create()
		if err == nil {
			l.held = true
			l.logger.Debug().Str("path", l.path).Msg("run lock acquired")
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock: %w", err)
		}
		if !l.reclaimStale() {
			return ErrHeld
		}
	}
	return ErrHeld
}

func (l *FileLock) create() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	info := lockInfo{PID: os.Getpid(), RunID: l.runID, Host: host, AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		f.Close()
		os.Remove(l.path)
		return err
	}
	return f.Close()
}

// reclaimStale removes the lock when its owner is gone.
func (l *FileLock) reclaimStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Half-written lock; leave ownership ambiguous rather than steal it.
		return false
	}
	host, _ := os.Hostname()
	if info.Host != host || processAlive(info.PID) {
		return false
	}
	l.logger.Warn().Int("pid", info.PID).Str("run_id", info.RunID).Msg("reclaiming stale run lock")
	return os.Remove(l.path) == nil
}

// Release removes the lock file.
func (l *FileLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
