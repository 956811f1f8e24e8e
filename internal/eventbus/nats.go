/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string
}

// NATSSink publishes events to NATS core subjects.
type NATSSink struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSSink connects to NATS with unlimited reconnects.
func NewNATSSink(cfg NATSConfig, logger zerolog.Logger) (*NATSSink, error) {
	logger = logger.With().Str("component", "nats_sink").Logger()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats event sink connected")
	return &NATSSink{conn: conn, logger: logger}, nil
}

// Publish sends data on subject.
func (s *NATSSink) Publish(_ context.Context, subject string, data []byte) error {
	return s.conn.Publish(subject, data)
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.FlushTimeout(5 * time.Second); err != nil {
		s.logger.Warn().Err(err).Msg("nats flush")
	}
	s.conn.Close()
	return nil
}
