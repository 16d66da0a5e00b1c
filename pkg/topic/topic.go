// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package topic implements the persistent, at-least-once, competing-
// consumer queue used to hand BatchInfo messages from the simulation
// writer to analytics indexers.
//
// It is built directly on top of pkg/nats/client.go's connection-
// management idiom (option construction, reconnect/disconnect/error
// handlers logged through the shared logger, a long-lived *nats.Conn
// guarded by a mutex), generalized from plain publish/subscribe to the
// jetstream subpackage of the same already-present nats-io/nats.go module:
// plain NATS subjects have no durable redelivery-on-timeout semantics, but
// JetStream's durable consumers with explicit ack and AckWait give exactly
// the claim-timeout/lease behavior §4.E requires.
package topic

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	clog "github.com/evochora/pipeline/pkg/log"
	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// DefaultClaimTimeout is the default lease duration for an in-flight,
// unacknowledged message (§4.E: "up to claim_timeout (default 300 s)").
const DefaultClaimTimeout = 300 * time.Second

// DefaultPollInterval bounds the idle poll interval between fetch attempts
// (§5: "bounded poll interval (default 100 ms) between idle loops").
const DefaultPollInterval = 100 * time.Millisecond

// Config is the `topic` configuration section (§6).
type Config struct {
	Address       string        `json:"address"`
	Username      string        `json:"username"`
	Password      string        `json:"password"`
	CredsFilePath string        `json:"creds_file_path"`
	ClaimTimeout  time.Duration `json:"claim_timeout"`
	ConsumerGroup string        `json:"consumer_group"`
}

// Client wraps a NATS/JetStream connection, mirroring pkg/nats.Client's
// shape (a guarded connection plus an explicit Close) generalized to also
// carry a JetStream context.
type Client struct {
	mu   sync.Mutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect dials the configured NATS server and initializes JetStream.
func Connect(cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				clog.Errorf("topic: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			clog.Infof("topic: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			clog.Errorf("topic: async error: %v", err)
		}),
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	} else if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "connect to topic broker", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "initialize jetstream context", err)
	}
	return &Client{conn: nc, js: js}, nil
}

// Close drains and closes the underlying connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// subjectFor renders the per-run topic name "<base>_<runId>" (§4.E).
func subjectFor(base, runID string) string {
	return fmt.Sprintf("%s_%s", base, runID)
}

// Topic is one per-run queue: a JetStream stream bound to a single
// subject, plus the claim timeout new consumers are created with.
type Topic struct {
	client       *Client
	subject      string
	stream       jetstream.Stream
	claimTimeout time.Duration
}

// Open ensures the per-run stream exists (creating it if necessary) and
// returns a handle bound to it.
func (c *Client) Open(ctx context.Context, base, runID string, claimTimeout time.Duration) (*Topic, error) {
	if claimTimeout <= 0 {
		claimTimeout = DefaultClaimTimeout
	}
	subject := subjectFor(base, runID)

	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamNameFor(subject),
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "create/open topic stream", err)
	}
	return &Topic{client: c, subject: subject, stream: stream, claimTimeout: claimTimeout}, nil
}

func streamNameFor(subject string) string {
	return "TOPIC_" + sanitizeStreamName(subject)
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

func sanitizeStreamName(s string) string {
	return nonAlnum.ReplaceAllString(s, "_")
}

// Publish durably persists message before returning (at-least-once).
func (t *Topic) Publish(ctx context.Context, message []byte) error {
	_, err := t.client.js.Publish(ctx, t.subject, message)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "publish message", err)
	}
	return nil
}

// Message is one delivered, unacknowledged queue message.
type Message struct {
	Data []byte
	raw  jetstream.Msg
}

// Ack acknowledges successful processing; failing to call Ack before the
// claim timeout elapses causes redelivery to another consumer in the
// group.
func (m Message) Ack() error {
	if err := m.raw.Ack(); err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "ack message", err)
	}
	return nil
}

// Nak explicitly signals failed processing, making the message eligible
// for immediate redelivery instead of waiting out the full claim timeout.
func (m Message) Nak() error {
	if err := m.raw.Nak(); err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "nak message", err)
	}
	return nil
}

// Subscription is a competing-consumer handle within a consumer group:
// each message delivered through it is delivered to exactly one live
// consumer in the group.
type Subscription struct {
	consumer jetstream.Consumer
	iter     jetstream.MessagesContext
}

// Subscribe joins consumerGroup as a competing consumer of this topic.
// Per-consumer delivery order equals publish order; across the group,
// ordering is not preserved.
func (t *Topic) Subscribe(ctx context.Context, consumerGroup string) (*Subscription, error) {
	consumer, err := t.client.js.CreateOrUpdateConsumer(ctx, t.stream.CachedInfo().Config.Name, jetstream.ConsumerConfig{
		Durable:       sanitizeStreamName(consumerGroup),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       t.claimTimeout,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "create competing-consumer group", err)
	}
	iter, err := consumer.Messages()
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "open message iterator", err)
	}
	return &Subscription{consumer: consumer, iter: iter}, nil
}

// Next blocks until a message is available, the context is cancelled, or
// the bounded poll interval elapses with nothing to deliver (in which case
// it returns ErrIdle so the caller's loop can check for cancellation and
// retry, per §5's bounded idle poll requirement).
var ErrIdle = errors.New("topic: no message available this poll interval")

func (s *Subscription) Next(ctx context.Context) (Message, error) {
	type result struct {
		msg jetstream.Msg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := s.iter.Next()
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return Message{}, pipelineerr.Wrap(pipelineerr.Cancelled, "subscription cancelled", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return Message{}, pipelineerr.Wrap(pipelineerr.IoFailed, "receive message", r.err)
		}
		return Message{Data: r.msg.Data(), raw: r.msg}, nil
	case <-time.After(DefaultPollInterval):
		return Message{}, ErrIdle
	}
}

// Stop releases the subscription's message iterator.
func (s *Subscription) Stop() {
	s.iter.Stop()
}

// runIDSuffixRe matches a topic subject's trailing run-ID component, per
// the cleanup pattern `.*_(YYYYMMDD-HHMMSSSS-<uuid>)`.
var runIDSuffixRe = regexp.MustCompile(`.*_(\d{8}-\d{8}-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// ListStreamNames enumerates every stream address currently known to the
// broker, for cleanup tooling.
func (c *Client) ListStreamNames(ctx context.Context) ([]string, error) {
	var names []string
	lister := c.js.ListStreams(ctx)
	for info := range lister.Info() {
		names = append(names, info.Config.Name)
	}
	if err := lister.Err(); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "list streams", err)
	}
	return names, nil
}

// DeleteByRunID deletes every stream whose subject-derived name ends in
// the given run ID.
func (c *Client) DeleteByRunID(ctx context.Context, runID string) error {
	names, err := c.ListStreamNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		m := runIDSuffixRe.FindStringSubmatch(name)
		if m == nil || m[1] != runID {
			continue
		}
		if err := c.js.DeleteStream(ctx, name); err != nil {
			return pipelineerr.Wrap(pipelineerr.IoFailed, "delete stream "+name, err)
		}
	}
	return nil
}
