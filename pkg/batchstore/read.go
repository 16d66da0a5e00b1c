// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package batchstore

import (
	"bufio"
	"context"
	"errors"
	"os"
	"time"

	"github.com/evochora/pipeline/pkg/codec"
	"github.com/evochora/pipeline/pkg/pipelineerr"
	"github.com/evochora/pipeline/pkg/resource"
	"github.com/evochora/pipeline/pkg/wire"
)

// openDecompressed opens path and wraps it in the codec detected from its
// extension, matching the reader-side auto-detection rule in §4.A.
func openDecompressed(path string) (*os.File, *bufio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, pipelineerr.Wrap(pipelineerr.NotFound, "open batch file", err)
		}
		return nil, nil, pipelineerr.Wrap(pipelineerr.IoFailed, "open batch file", err)
	}
	c := codec.DetectByExtension(path)
	rc, err := c.WrapReader(f)
	if err != nil {
		f.Close()
		return nil, nil, pipelineerr.Wrap(pipelineerr.Corrupt, "wrap codec reader", err)
	}
	return f, bufio.NewReader(rc), nil
}

// ReadMessage reads exactly one delimited message from path and parses it
// with parser. A second message present in the file is rejected with an
// InvalidInput error. It is a free function rather than a method because Go
// methods cannot carry their own type parameters.
func ReadMessage[T any](s *Store, path string, parser func([]byte) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	var bytesRead int64
	defer func() { s.record(resource.UsageStorageRead, bytesRead, start) }()

	f, r, err := openDecompressed(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	raw, err := wire.ReadDelimited(r)
	if err != nil {
		return zero, pipelineerr.Wrap(pipelineerr.Corrupt, "read message", err)
	}
	bytesRead = int64(len(raw))
	msg, err := parser(raw)
	if err != nil {
		return zero, pipelineerr.Wrap(pipelineerr.Corrupt, "parse message", err)
	}

	if _, err := wire.ReadDelimited(r); err == nil {
		return zero, pipelineerr.New(pipelineerr.InvalidInput, "file contains more than one message: "+path)
	} else if !errors.Is(err, wire.ErrNoMoreMessages) {
		return zero, pipelineerr.Wrap(pipelineerr.Corrupt, "probe for trailing message", err)
	}

	return msg, nil
}

// ReadLastSnapshot iterates the delimited messages in path, parsing each
// with snapshot-only parse, and returns the snapshot of the last
// successfully parsed chunk. It errors if the file is empty.
func (s *Store) ReadLastSnapshot(path string) (wire.TickData, error) {
	start := time.Now()
	var bytesRead int64
	defer func() { s.record(resource.UsageStorageRead, bytesRead, start) }()

	f, r, err := openDecompressed(path)
	if err != nil {
		return wire.TickData{}, err
	}
	defer f.Close()

	var last *wire.TickData
	for {
		raw, err := wire.ReadDelimited(r)
		if errors.Is(err, wire.ErrNoMoreMessages) {
			break
		}
		if err != nil {
			return wire.TickData{}, pipelineerr.Wrap(pipelineerr.Corrupt, "read chunk", err)
		}
		bytesRead += int64(len(raw))
		chunk, err := wire.ParseChunkSnapshotOnly(raw)
		if err != nil {
			return wire.TickData{}, pipelineerr.Wrap(pipelineerr.Corrupt, "parse chunk snapshot", err)
		}
		snap := chunk.Snapshot
		last = &snap
	}
	if last == nil {
		return wire.TickData{}, pipelineerr.New(pipelineerr.InvalidInput, "file contains no chunks: "+path)
	}
	return *last, nil
}

// ForEachRawChunk streams path through decompression, delivering a
// RawChunk (metadata + undecoded bytes) per delimited message, with no
// further allocation than the partial parse itself requires.
func (s *Store) ForEachRawChunk(ctx context.Context, path string, consumer func(wire.RawChunk) error) error {
	start := time.Now()
	var bytesRead int64
	defer func() { s.record(resource.UsageStorageRead, bytesRead, start) }()

	f, r, err := openDecompressed(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		if err := ctx.Err(); err != nil {
			return pipelineerr.Wrap(pipelineerr.Cancelled, "streaming read cancelled", err)
		}
		raw, err := wire.ReadDelimited(r)
		if errors.Is(err, wire.ErrNoMoreMessages) {
			return nil
		}
		if err != nil {
			return pipelineerr.Wrap(pipelineerr.Corrupt, "read chunk", err)
		}
		bytesRead += int64(len(raw))
		meta, err := wire.ParseChunkMetadata(raw)
		if err != nil {
			return pipelineerr.Wrap(pipelineerr.Corrupt, "parse chunk metadata", err)
		}
		if err := consumer(wire.RawChunk{FirstTick: meta.FirstTick, LastTick: meta.LastTick, TickCount: meta.TickCount, Bytes: raw}); err != nil {
			return err
		}
	}
}

// ForEachChunk streams path through decompression, full-parsing each
// chunk when filter == FilterAll and filter-parsing it otherwise,
// delivering each chunk to consumer before advancing.
func (s *Store) ForEachChunk(ctx context.Context, path string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	start := time.Now()
	var bytesRead int64
	defer func() { s.record(resource.UsageStorageRead, bytesRead, start) }()

	f, r, err := openDecompressed(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		if err := ctx.Err(); err != nil {
			return pipelineerr.Wrap(pipelineerr.Cancelled, "streaming read cancelled", err)
		}
		raw, err := wire.ReadDelimited(r)
		if errors.Is(err, wire.ErrNoMoreMessages) {
			return nil
		}
		if err != nil {
			return pipelineerr.Wrap(pipelineerr.Corrupt, "read chunk", err)
		}
		bytesRead += int64(len(raw))
		chunk, err := wire.ParseChunk(raw, filter)
		if err != nil {
			return pipelineerr.Wrap(pipelineerr.Corrupt, "parse chunk", err)
		}
		if err := consumer(chunk); err != nil {
			return err
		}
	}
}
