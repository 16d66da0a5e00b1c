// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package indexer

import (
	"context"
	"errors"
	"time"

	clog "github.com/evochora/pipeline/pkg/log"
	"github.com/evochora/pipeline/pkg/pipelineerr"
	"github.com/evochora/pipeline/pkg/wire"
)

// MetadataSource is the narrow slice of pkg/metastore.Store the indexer's
// startup poll needs. Accepting an interface here (rather than a concrete
// *metastore.Store) keeps the indexer testable without a live Postgres.
type MetadataSource interface {
	// Poll returns ok=false (never an error) while the run's metadata has
	// not been written yet, so the caller can keep polling; a non-nil
	// error means a genuine I/O failure, not "not yet present".
	Poll(ctx context.Context, runID string) (meta SimulationMetadata, ok bool, err error)
}

// SimulationMetadata mirrors metastore.SimulationMetadata, duplicated here
// to avoid the indexer package depending on the database driver transitively
// pulled in by metastore for callers that only need the Poll contract.
type SimulationMetadata struct {
	SimulationRunID    string
	ResolvedConfigJSON string
	StartTimeMs        int64
	InitialSeed        int64
	SamplingInterval   int64
}

// BatchInfoMessage is one delivered, unacknowledged topic message.
type BatchInfoMessage interface {
	Data() []byte
	Ack() error
	Nak() error
}

// Subscription is the narrow slice of pkg/topic.Subscription the indexer
// consumes: block for the next message, or ErrIdle on the bounded poll
// timeout so the caller's loop can check for cancellation.
type Subscription interface {
	Next(ctx context.Context) (BatchInfoMessage, error)
}

// ErrIdle is returned by Subscription.Next when no message arrived within
// the bounded poll interval (§5).
var ErrIdle = errors.New("indexer: no message available this poll interval")

// BatchReader is the narrow slice of pkg/batchstore.Store the indexer's
// per-message processing needs.
type BatchReader interface {
	ForEachChunk(ctx context.Context, path string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error
}

// ManifestWriter durably writes one file's bytes, used for both the Parquet
// outputs and the manifest.json documents. Implementations MUST use the
// same temp+rename atomicity batchstore.Store.WriteBatch uses.
type ManifestWriter interface {
	WriteFile(path string, data []byte) error
}

// Indexer is one run-bound analytics indexing service.
type Indexer struct {
	cfg Config

	metadata MetadataSource
	sub      Subscription
	reader   BatchReader
	out      ManifestWriter

	plugins *pluginSet

	state   stateBox
	metrics Metrics

	errCause error
}

// New constructs an Indexer. Plugin instantiation (via the registry) and
// metadata/topic/storage wiring are the caller's responsibility, matching
// §9's "explicit application context created at main" redesign flag: no
// package-level singletons are created here.
func New(cfg Config, metadata MetadataSource, sub Subscription, reader BatchReader, out ManifestWriter, plugins []Plugin) (*Indexer, error) {
	ps, err := newPluginSet(plugins)
	if err != nil {
		return nil, err
	}
	ix := &Indexer{cfg: cfg, metadata: metadata, sub: sub, reader: reader, out: out, plugins: ps}
	ix.state.Store(StateStarting)
	return ix, nil
}

// State returns the indexer's current lifecycle state.
func (ix *Indexer) State() State { return ix.state.Load() }

// Err returns the cause of an ERROR state transition, if any.
func (ix *Indexer) Err() error { return ix.errCause }

// Metrics exposes the indexer's running counters; these remain readable
// regardless of State (§7).
func (ix *Indexer) Metrics() MetricsSnapshot { return ix.metrics.Snapshot() }

func (ix *Indexer) fail(err error) error {
	ix.errCause = err
	ix.state.Store(StateError)
	clog.Errorf("indexer: run %s entering ERROR state: %v", ix.cfg.RunID, err)
	return err
}

// Start performs §4.H's startup sequence: poll metadata up to the
// configured timeout, derive the LOD plan, ensure lod0..lodN-1 folders
// exist, and emit a manifest file per plugin.
func (ix *Indexer) Start(ctx context.Context) error {
	meta, err := ix.pollMetadata(ctx)
	if err != nil {
		return ix.fail(err)
	}
	clog.Infof("indexer: run %s metadata resolved (seed=%d, sampling_interval=%d)", ix.cfg.RunID, meta.InitialSeed, meta.SamplingInterval)

	if err := ix.plugins.ensureLodFolders(ix.cfg); err != nil {
		return ix.fail(err)
	}
	if err := ix.plugins.emitManifests(ix.cfg, ix.out); err != nil {
		return ix.fail(err)
	}

	ix.state.Store(StateRunning)
	return nil
}

// pollMetadata implements §5's cancellation contract: fail with
// METADATA_TIMEOUT after metadata_max_poll_duration_ms.
func (ix *Indexer) pollMetadata(ctx context.Context) (SimulationMetadata, error) {
	deadline := time.Now().Add(ix.cfg.metadataMaxPollDuration())
	interval := ix.cfg.metadataPollInterval()

	for {
		meta, ok, err := ix.metadata.Poll(ctx, ix.cfg.RunID)
		if err != nil {
			return SimulationMetadata{}, pipelineerr.Wrap(pipelineerr.IoFailed, "poll metadata", err)
		}
		if ok {
			return meta, nil
		}
		if time.Now().After(deadline) {
			return SimulationMetadata{}, pipelineerr.New(pipelineerr.Timeout, "METADATA_TIMEOUT: metadata not present for run "+ix.cfg.RunID)
		}
		select {
		case <-ctx.Done():
			return SimulationMetadata{}, pipelineerr.Wrap(pipelineerr.Cancelled, "metadata poll cancelled", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Run drains the topic subscription until ctx is cancelled, processing one
// BatchInfo message at a time. On graceful shutdown (ctx cancellation) it
// does not ack a message still in flight, letting the lease redeliver it
// (§5 "Graceful shutdown").
func (ix *Indexer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			ix.state.Store(StateStopped)
			return nil
		}

		msg, err := ix.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrIdle) {
				continue
			}
			if pipelineerr.Is(err, pipelineerr.Cancelled) {
				ix.state.Store(StateStopped)
				return nil
			}
			return ix.fail(err)
		}

		if err := ix.processMessage(ctx, msg); err != nil {
			ix.metrics.WriteErrors.Add(1)
			clog.Errorf("indexer: run %s failed processing batch: %v (message left un-acked for redelivery)", ix.cfg.RunID, err)
			select {
			case <-ctx.Done():
			case <-time.After(failureBackoff):
			}
			continue
		}
	}
}

// failureBackoff is how long the consume loop pauses after a processing
// failure before polling again, so a persistently bad batch cannot spin
// the loop at full speed while its lease ticks down.
const failureBackoff = time.Second
