/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultLockKey       = "audioharvest:runlock"
	defaultLeaseDuration = 30 * time.Second
	defaultRenewInterval = 10 * time.Second
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the shared lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key should be derived from the checkpoint location so unrelated runs
	// do not contend.
	Key           string
	LeaseDuration time.Duration
	RenewInterval time.Duration
}

// RedisLock is a leased lock in Redis, renewed in the background while held.
type RedisLock struct {
	client *redis.Client
	cfg    RedisConfig
	token  string
	logger zerolog.Logger

	mu     sync.Mutex
	held   bool
	cancel context.CancelFunc
	done   chan struct{}
	lost   chan struct{}
}

// NewRedisLock connects to Redis.
func NewRedisLock(cfg RedisConfig, logger zerolog.Logger) (*RedisLock, error) {
	if cfg.Key == "" {
		cfg.Key = defaultLockKey
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.RenewInterval == 0 {
		cfg.RenewInterval = defaultRenewInterval
	}
	if cfg.RenewInterval >= cfg.LeaseDuration {
		return nil, fmt.Errorf("renew interval %s must be shorter than lease %s", cfg.RenewInterval, cfg.LeaseDuration)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLock{
		client: client,
		cfg:    cfg,
		token:  uuid.NewString(),
		logger: logger.With().Str("component", "runlock").Str("key", cfg.Key).Logger(),
		lost:   make(chan struct{}),
	}, nil
}

// Acquire takes the lease and starts renewing it.
func (l *RedisLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil
	}

	ok, err := l.client.SetNX(ctx, l.cfg.Key, l.token, l.cfg.LeaseDuration).Result()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		owner, _ := l.client.Get(ctx, l.cfg.Key).Result()
		l.logger.Warn().Str("owner", owner).Msg("run lock held elsewhere")
		return ErrHeld
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.held = true
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.renewLoop(renewCtx)

	l.logger.Info().Str("token", l.token).Dur("lease", l.cfg.LeaseDuration).Msg("run lock acquired")
	return nil
}

// Lost is closed if the lease could not be renewed.
func (l *RedisLock) Lost() <-chan struct{} { return l.lost }

func (l *RedisLock) renewLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{l.cfg.Key}, l.token, l.cfg.LeaseDuration.Milliseconds()).Int64()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				l.logger.Error().Err(err).Msg("failed to renew run lock")
				continue
			}
			if n == 0 {
				l.logger.Error().Msg("run lock lost")
				close(l.lost)
				return
			}
		}
	}
}

// Release stops renewal, deletes the key if still owned and closes the client.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return l.client.Close()
	}
	l.held = false
	l.cancel()
	<-l.done

	if err := releaseScript.Run(ctx, l.client, []string{l.cfg.Key}, l.token).Err(); err != nil {
		l.client.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	return l.client.Close()
}
