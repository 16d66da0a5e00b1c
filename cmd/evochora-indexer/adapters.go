// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/evochora/pipeline/pkg/batchstore"
	"github.com/evochora/pipeline/pkg/indexer"
	"github.com/evochora/pipeline/pkg/metastore"
	"github.com/evochora/pipeline/pkg/pipelineerr"
	"github.com/evochora/pipeline/pkg/resource"
	"github.com/evochora/pipeline/pkg/topic"
	"github.com/evochora/pipeline/pkg/wire"
)

func randSuffix() string { return uuid.New().String() }

// metadataAdapter narrows *metastore.Store to indexer.MetadataSource,
// translating its UpstreamUnavailable error convention into the
// ok=false-means-not-yet-present convention pkg/indexer polls on.
type metadataAdapter struct {
	store *metastore.Store
}

func (a *metadataAdapter) Poll(ctx context.Context, runID string) (indexer.SimulationMetadata, bool, error) {
	meta, err := a.store.GetSimulationMetadata(ctx, runID)
	if err != nil {
		if pipelineerr.Is(err, pipelineerr.UpstreamUnavailable) {
			return indexer.SimulationMetadata{}, false, nil
		}
		return indexer.SimulationMetadata{}, false, err
	}
	return indexer.SimulationMetadata{
		SimulationRunID:    meta.SimulationRunID,
		ResolvedConfigJSON: meta.ResolvedConfigJSON,
		StartTimeMs:        meta.StartTimeMs,
		InitialSeed:        meta.InitialSeed,
		SamplingInterval:   meta.SamplingInterval,
	}, true, nil
}

// topicMessageAdapter exposes a delivered *topic.Message as a
// Data()-method-shaped indexer.BatchInfoMessage; topic.Message carries its
// payload as a plain field since pkg/topic has no reason to hide it from
// its own callers.
type topicMessageAdapter struct {
	msg topic.Message
}

func (a topicMessageAdapter) Data() []byte { return a.msg.Data }
func (a topicMessageAdapter) Ack() error   { return a.msg.Ack() }
func (a topicMessageAdapter) Nak() error   { return a.msg.Nak() }

// subscriptionAdapter narrows *topic.Subscription to indexer.Subscription,
// translating topic.ErrIdle to indexer.ErrIdle so pkg/indexer never
// imports pkg/topic directly.
type subscriptionAdapter struct {
	sub *topic.Subscription
}

func (a *subscriptionAdapter) Next(ctx context.Context) (indexer.BatchInfoMessage, error) {
	msg, err := a.sub.Next(ctx)
	if err != nil {
		if errors.Is(err, topic.ErrIdle) {
			return nil, indexer.ErrIdle
		}
		return nil, err
	}
	return topicMessageAdapter{msg: msg}, nil
}

// batchReaderAdapter narrows *batchstore.Store to indexer.BatchReader.
type batchReaderAdapter struct {
	store *batchstore.Store
}

func (a *batchReaderAdapter) ForEachChunk(ctx context.Context, path string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	return a.store.ForEachChunk(ctx, path, filter, consumer)
}

// writerAdapter implements indexer.ManifestWriter with the same
// temp-file-plus-rename atomicity batchstore.Store.WriteBatch uses for raw
// batches, rooted under the same folder_structure.root as the raw archive.
// Output keys are validated before touching the filesystem, and every write
// is recorded against the analytics-write capability counters.
type writerAdapter struct {
	root    string
	monitor *resource.Wrapper
}

func (a *writerAdapter) WriteFile(path string, data []byte) error {
	start := time.Now()
	if a.monitor != nil {
		if err := a.monitor.Require(resource.UsageAnalyticsWrite); err != nil {
			return err
		}
	}
	if err := batchstore.ValidateKey(path); err != nil {
		return err
	}
	full := filepath.Join(a.root, path)
	if err := batchstore.ValidateContainment(a.root, full); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "create output directory", err)
	}
	tmp := full + "." + randSuffix() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "write temp output file", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return pipelineerr.Wrap(pipelineerr.IoFailed, "rename output file into place", err)
	}
	if a.monitor != nil {
		a.monitor.SetState(resource.Active)
		a.monitor.Record(resource.UsageAnalyticsWrite, int64(len(data)), time.Since(start))
	}
	return nil
}
