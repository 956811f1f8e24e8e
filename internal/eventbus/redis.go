/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisSink publishes events on Redis pub/sub channels.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink connects to Redis.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisSink{client: client}, nil
}

// Publish sends data on the channel named subject.
func (s *RedisSink) Publish(ctx context.Context, subject string, data []byte) error {
	return s.client.Publish(ctx, subject, data).Err()
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
