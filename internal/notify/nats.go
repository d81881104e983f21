// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root events are published under.
const DefaultSubjectPrefix = "ocms.pages"

const flushTimeout = 2 * time.Second

// NATSConfig configures the NATS notifier.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	ClientName     string
	ConnectTimeout time.Duration
}

// NATSNotifier publishes events as JSON on core NATS. Subjects have the form
// <prefix>.<site id>.<event type>, so a consumer can subscribe to one site
// with <prefix>.<site id>.> or to everything with <prefix>.>.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
}

// DialNATS connects to cfg.URL. After the initial connection the client
// reconnects indefinitely; events published while disconnected are buffered
// by the client.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats: empty URL")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "ocms-publish"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSNotifier{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject e is published on.
func (n *NATSNotifier) Subject(e PageEvent) string {
	return SubjectFor(n.prefix, e)
}

// SubjectFor builds the subject for e under prefix.
func SubjectFor(prefix string, e PageEvent) string {
	return prefix + "." + e.SiteID.String() + "." + e.Type
}

// Notify publishes e and flushes the connection. The event id is sent as
// Nats-Msg-Id so a JetStream stream bound to the subject deduplicates
// redeliveries.
func (n *NATSNotifier) Notify(ctx context.Context, e PageEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}

	msg := nats.NewMsg(n.Subject(e))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.ID.String())
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", msg.Subject, err)
	}

	// FlushWithContext requires a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing nats connection: %w", err)
	}
	return nil
}

// Connected reports whether the client currently has a server connection.
func (n *NATSNotifier) Connected() bool {
	return n.conn.IsConnected()
}

// Close drains pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}

var _ Notifier = (*NATSNotifier)(nil)
