// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package batchstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	clog "github.com/evochora/pipeline/pkg/log"
	"github.com/evochora/pipeline/pkg/codec"
	"github.com/evochora/pipeline/pkg/pipelineerr"
	"github.com/evochora/pipeline/pkg/resource"
	"github.com/evochora/pipeline/pkg/wire"
)

// Config is the folder_structure + compression configuration a Store is
// built from (§6 "Configuration (enumerated)").
type Config struct {
	Root        string        `json:"root"`
	Levels      []int64       `json:"levels"`
	Compression codec.Config  `json:"compression"`
}

// Store is the batch storage resource: one per analytics root.
type Store struct {
	cfg     Config
	codec   codec.Codec
	monitor *resource.Wrapper
}

// New builds a Store, resolving its compression codec once up front.
func New(cfg Config) (*Store, error) {
	if len(cfg.Levels) == 0 {
		cfg.Levels = DefaultLevels
	}
	c, err := codec.Get(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, codec: c}, nil
}

// Monitor attaches a capability wrapper; subsequent reads and writes record
// operation count, byte count and latency against its sliding-window
// counters. Batch storage is always ACTIVE, so callers typically pass a
// wrapper built with resource.Active.
func (s *Store) Monitor(w *resource.Wrapper) { s.monitor = w }

func (s *Store) record(usage resource.UsageType, bytes int64, start time.Time) {
	if s.monitor != nil {
		s.monitor.Record(usage, bytes, time.Since(start))
	}
}

// ChunkSource is a pull-based, ordered, non-empty iterator of chunks, as
// required by the streaming write contract in §4.D.
type ChunkSource interface {
	// Next returns the next chunk, or ok=false when the source is
	// exhausted. A non-nil error aborts the write.
	Next() (chunk wire.TickDataChunk, ok bool, err error)
}

// SliceSource adapts an in-memory slice of chunks to ChunkSource, for
// tests and small callers.
type SliceSource struct {
	chunks []wire.TickDataChunk
	idx    int
}

func NewSliceSource(chunks []wire.TickDataChunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

func (s *SliceSource) Next() (wire.TickDataChunk, bool, error) {
	if s.idx >= len(s.chunks) {
		return wire.TickDataChunk{}, false, nil
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, true, nil
}

// WriteResult is the information returned from a successful WriteBatch.
type WriteResult struct {
	StoragePath     string
	SimulationRunID string
	FirstTick       int64
	LastTick        int64
	ChunkCount      int64
	TotalTickCount  int64
	BytesWritten    int64
}

type byteCounter struct {
	w io.Writer
	n int64
}

func (b *byteCounter) Write(p []byte) (int, error) {
	n, err := b.w.Write(p)
	b.n += int64(n)
	return n, err
}

// WriteBatch streams src's chunks to a single atomically-renamed batch
// file, exactly per the algorithm in §4.D "Streaming write of a chunk
// batch".
func (s *Store) WriteBatch(src ChunkSource) (WriteResult, error) {
	start := time.Now()
	first, ok, err := src.Next()
	if err != nil {
		return WriteResult{}, pipelineerr.Wrap(pipelineerr.IoFailed, "read first chunk", err)
	}
	if !ok {
		return WriteResult{}, pipelineerr.New(pipelineerr.InvalidInput, "chunk source must be non-empty")
	}

	runID := first.SimulationRunID
	firstTick := first.FirstTick
	dir := BatchDir(s.cfg.Root, runID, s.cfg.Levels, firstTick)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteResult{}, pipelineerr.Wrap(pipelineerr.IoFailed, "create batch directory", err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf("batch_%020d.%s.tmp", firstTick, uuid.New().String()))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return WriteResult{}, pipelineerr.Wrap(pipelineerr.IoFailed, "create temp batch file", err)
	}
	counter := &byteCounter{w: f}
	cw, err := s.codec.WrapWriter(counter)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return WriteResult{}, pipelineerr.Wrap(pipelineerr.IoFailed, "wrap codec writer", err)
	}

	abort := func(cause error) (WriteResult, error) {
		cw.Close()
		f.Close()
		os.Remove(tmpPath)
		return WriteResult{}, cause
	}

	lastTick := first.LastTick
	var chunkCount, totalTicks int64

	chunk := first
	for {
		if chunk.SimulationRunID != runID {
			return abort(pipelineerr.New(pipelineerr.MismatchedRunId,
				fmt.Sprintf("chunk run id %q does not match batch run id %q", chunk.SimulationRunID, runID)))
		}
		if chunkCount > 0 && chunk.FirstTick < lastTick {
			return abort(pipelineerr.New(pipelineerr.OutOfOrderChunks,
				fmt.Sprintf("chunk first_tick %d precedes previous last_tick %d", chunk.FirstTick, lastTick)))
		}

		if _, err := wire.WriteDelimited(cw, wire.MarshalChunk(chunk)); err != nil {
			return abort(pipelineerr.Wrap(pipelineerr.IoFailed, "write chunk", err))
		}

		lastTick = chunk.LastTick
		chunkCount++
		totalTicks += chunk.TickCount

		next, ok, err := src.Next()
		if err != nil {
			return abort(pipelineerr.Wrap(pipelineerr.IoFailed, "read next chunk", err))
		}
		if !ok {
			break
		}
		chunk = next
	}

	if err := cw.Close(); err != nil {
		return abort(pipelineerr.Wrap(pipelineerr.IoFailed, "flush codec writer", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, pipelineerr.Wrap(pipelineerr.IoFailed, "close temp batch file", err)
	}

	finalName := BatchFileName(firstTick, lastTick) + s.codec.Extension()
	finalPath := filepath.Join(dir, finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, pipelineerr.Wrap(pipelineerr.IoFailed, "rename batch file into place", err)
	}

	clog.Infof("batchstore: wrote %s (%d chunks, %d ticks, %d bytes)", finalPath, chunkCount, totalTicks, counter.n)
	s.record(resource.UsageStorageWrite, counter.n, start)

	return WriteResult{
		StoragePath:     finalPath,
		SimulationRunID: runID,
		FirstTick:       firstTick,
		LastTick:        lastTick,
		ChunkCount:      chunkCount,
		TotalTickCount:  totalTicks,
		BytesWritten:    counter.n,
	}, nil
}

// WriteMetadataBlob atomically writes an opaque metadata message to
// <root>/<runID>/raw/metadata.pb[.ext], framed with the same delimited
// length prefix as batch chunks so ReadMessage can parse it back, using
// the same temp+rename protocol as WriteBatch.
func (s *Store) WriteMetadataBlob(runID string, raw []byte) (string, error) {
	start := time.Now()
	dir := RunRawDir(s.cfg.Root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.IoFailed, "create run raw directory", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf("%s.%s.tmp", MetadataBase, uuid.New().String()))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", pipelineerr.Wrap(pipelineerr.IoFailed, "create temp metadata file", err)
	}
	cw, err := s.codec.WrapWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", pipelineerr.Wrap(pipelineerr.IoFailed, "wrap codec writer", err)
	}
	if _, err := wire.WriteDelimited(cw, raw); err != nil {
		cw.Close()
		f.Close()
		os.Remove(tmpPath)
		return "", pipelineerr.Wrap(pipelineerr.IoFailed, "write metadata blob", err)
	}
	if err := cw.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", pipelineerr.Wrap(pipelineerr.IoFailed, "flush metadata blob", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", pipelineerr.Wrap(pipelineerr.IoFailed, "close temp metadata file", err)
	}
	finalPath := filepath.Join(dir, MetadataBase+s.codec.Extension())
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", pipelineerr.Wrap(pipelineerr.IoFailed, "rename metadata file into place", err)
	}
	s.record(resource.UsageStorageWrite, int64(len(raw)), start)
	return finalPath, nil
}

// Root exposes the configured analytics root, used by callers that need to
// build analytics-output paths alongside raw batch paths.
func (s *Store) Root() string { return s.cfg.Root }

// Codec exposes the resolved codec so callers that need it directly can
// reuse it.
func (s *Store) Codec() codec.Codec { return s.codec }
