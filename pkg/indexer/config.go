// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package indexer implements the analytics indexer (§4.H): a long-running,
// competing-consumer service bound to one simulation run that consumes
// BatchInfo from the topic, streams chunks from batch storage, routes
// ticks to a fixed plugin set at every configured LOD level, and writes
// the results as bucketed Parquet files plus a per-metric manifest.
//
// It is grounded on pkg/archive/parquet/writer.go's size-triggered
// AddJob/Flush buffering shape (here one buffer per (plugin, LOD) instead
// of one global buffer) and pkg/metricstore/checkpoint.go's ticker-driven
// background-worker shape for the consume loop.
package indexer

import (
	"time"

	"github.com/evochora/pipeline/pkg/batchstore"
	"github.com/evochora/pipeline/pkg/codec"
)

// PluginConfig is one `plugins[]` configuration entry (§6).
type PluginConfig struct {
	ClassName string                        `json:"class_name"`
	Options   map[string]any                `json:"options"`
}

// Config is the indexer configuration section (§6).
type Config struct {
	RunID                      string            `json:"run_id"`
	MetadataPollIntervalMs     int64             `json:"metadata_poll_interval_ms"`
	MetadataMaxPollDurationMs  int64             `json:"metadata_max_poll_duration_ms"`
	TempDirectory              string            `json:"temp_directory"`
	FolderStructure            batchstore.Config `json:"folder_structure"`
	Plugins                    []PluginConfig    `json:"plugins"`

	// MetadataDSN is the Postgres connection string for pkg/metastore.
	MetadataDSN string `json:"metadata_dsn"`

	TopicAddress  string        `json:"topic_address"`
	ConsumerGroup string        `json:"consumer_group"`
	ClaimTimeout  time.Duration `json:"claim_timeout"`

	Compression codec.Config `json:"compression"`

	// MaxParquetBatchBytes is decoded from configuration but not read by
	// the indexer: each (plugin, LOD) buffer is flushed once, after the
	// whole batch has been consumed, with no size-triggered flush.
	MaxParquetBatchBytes int64 `json:"max_parquet_batch_bytes"`

	// MetricsWindowSeconds configures the sliding window the resource
	// wrappers' counters aggregate over (§6, default 5).
	MetricsWindowSeconds int `json:"metrics_window_seconds"`
}

// MetricsWindow returns the configured sliding-window width.
func (c Config) MetricsWindow() time.Duration {
	if c.MetricsWindowSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.MetricsWindowSeconds) * time.Second
}

func (c Config) metadataPollInterval() time.Duration {
	if c.MetadataPollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.MetadataPollIntervalMs) * time.Millisecond
}

func (c Config) metadataMaxPollDuration() time.Duration {
	if c.MetadataMaxPollDurationMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.MetadataMaxPollDurationMs) * time.Millisecond
}
