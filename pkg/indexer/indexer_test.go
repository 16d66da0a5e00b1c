// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evochora/pipeline/pkg/analyticsplugin"
	"github.com/evochora/pipeline/pkg/batchstore"
	"github.com/evochora/pipeline/pkg/wire"
)

// -- test doubles ------------------------------------------------------

type fakeMetadataSource struct {
	meta  SimulationMetadata
	ready bool
	err   error
}

func (f *fakeMetadataSource) Poll(ctx context.Context, runID string) (SimulationMetadata, bool, error) {
	if f.err != nil {
		return SimulationMetadata{}, false, f.err
	}
	return f.meta, f.ready, nil
}

type fakeMessage struct {
	data   []byte
	acked  bool
	nacked bool
}

func (m *fakeMessage) Data() []byte { return m.data }
func (m *fakeMessage) Ack() error   { m.acked = true; return nil }
func (m *fakeMessage) Nak() error   { m.nacked = true; return nil }

// fakeSubscription delivers messages[] in order, then blocks returning
// ErrIdle until ctx is cancelled.
type fakeSubscription struct {
	mu       sync.Mutex
	messages []*fakeMessage
	idx      int
}

func (s *fakeSubscription) Next(ctx context.Context) (BatchInfoMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx < len(s.messages) {
		m := s.messages[s.idx]
		s.idx++
		return m, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, ErrIdle
	}
}

// fakeBatchReader replays a fixed set of chunks regardless of the
// requested path, keyed only by the filter it was called with.
type fakeBatchReader struct {
	chunks []wire.TickDataChunk
}

func (r *fakeBatchReader) ForEachChunk(ctx context.Context, path string, filter wire.Filter, consumer func(wire.TickDataChunk) error) error {
	for _, c := range r.chunks {
		if err := consumer(c); err != nil {
			return err
		}
	}
	return nil
}

type fakeWriter struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeWriter() *fakeWriter { return &fakeWriter{files: make(map[string][]byte)} }

func (w *fakeWriter) WriteFile(path string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[path] = data
	return nil
}

// countingPlugin is a minimal stateless plugin that emits one row per tick
// carrying the tick number, for exercising the indexing pipeline end to
// end without any real plugin business logic.
type countingPlugin struct {
	id        string
	sampling  int64
	lodFactor int64
	lodLevels int
}

func (p *countingPlugin) MetricID() string          { return p.id }
func (p *countingPlugin) SamplingInterval() int64    { return p.sampling }
func (p *countingPlugin) LodFactor() int64           { return p.lodFactor }
func (p *countingPlugin) LodLevels() int             { return p.lodLevels }
func (p *countingPlugin) MaxDataPoints() (int, bool) { return 0, false }
func (p *countingPlugin) NeedsEnvironmentData() bool { return false }

func (p *countingPlugin) Schema() analyticsplugin.Schema {
	return analyticsplugin.Schema{{Name: "tick", Type: analyticsplugin.TypeBigInt}}
}

func (p *countingPlugin) ExtractRows(tick analyticsplugin.TickView) ([]analyticsplugin.Row, error) {
	return []analyticsplugin.Row{{"tick": tick.TickNumber}}, nil
}

func (p *countingPlugin) ManifestEntries() []analyticsplugin.ManifestEntry {
	return []analyticsplugin.ManifestEntry{{
		ID:              p.id,
		StorageMetricID: p.id,
		Name:            p.id,
		Visualization:   analyticsplugin.Visualization{Type: "line"},
	}}
}

func (p *countingPlugin) Query() (analyticsplugin.QuerySpec, bool) { return analyticsplugin.QuerySpec{}, false }

// -- helpers -------------------------------------------------------------

func chunkAt(runID string, first, last int64) wire.TickDataChunk {
	deltas := make([]wire.TickDelta, 0, last-first)
	for t := first + 1; t <= last; t++ {
		deltas = append(deltas, wire.TickDelta{TickNumber: t})
	}
	return wire.TickDataChunk{
		SimulationRunID: runID,
		FirstTick:       first,
		LastTick:        last,
		TickCount:       last - first + 1,
		Snapshot:        wire.TickData{SimulationRunID: runID, TickNumber: first},
		Deltas:          deltas,
	}
}

func testConfig(t *testing.T, runID string) Config {
	return Config{
		RunID:                     runID,
		MetadataMaxPollDurationMs: 50,
		MetadataPollIntervalMs:    5,
		FolderStructure:           batchstore.Config{Root: t.TempDir(), Levels: batchstore.DefaultLevels},
	}
}

// -- tests ----------------------------------------------------------------

func TestStartFailsWithTimeoutWhenMetadataNeverArrives(t *testing.T) {
	ix, err := New(testConfig(t, "run-1"), &fakeMetadataSource{ready: false}, &fakeSubscription{}, &fakeBatchReader{}, newFakeWriter(), nil)
	require.NoError(t, err)

	err = ix.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateError, ix.State())
	require.ErrorIs(t, err, ix.Err())
}

func TestStartSucceedsOnceMetadataIsReady(t *testing.T) {
	p := &countingPlugin{id: "ticks", sampling: 1, lodFactor: 10, lodLevels: 1}
	out := newFakeWriter()
	ix, err := New(testConfig(t, "run-2"), &fakeMetadataSource{ready: true, meta: SimulationMetadata{SimulationRunID: "run-2"}}, &fakeSubscription{}, &fakeBatchReader{}, out, []Plugin{p})
	require.NoError(t, err)

	require.NoError(t, ix.Start(context.Background()))
	require.Equal(t, StateRunning, ix.State())

	manifestPath := "run-2/analytics/ticks/metadata.json"
	_, ok := out.files[manifestPath]
	require.True(t, ok, "expected manifest file at %s", manifestPath)
}

func TestRunProcessesOneBatchAndWritesOneParquetFilePerLOD(t *testing.T) {
	runID := "run-3"
	chunk := chunkAt(runID, 0, 24)
	info := wire.BatchInfo{SimulationRunID: runID, StoragePath: "ignored", TickStart: 0, TickEnd: 24}
	msg := &fakeMessage{data: wire.MarshalBatchInfo(info)}

	p := &countingPlugin{id: "ticks", sampling: 1, lodFactor: 10, lodLevels: 1}
	out := newFakeWriter()
	sub := &fakeSubscription{messages: []*fakeMessage{msg}}
	reader := &fakeBatchReader{chunks: []wire.TickDataChunk{chunk}}

	ix, err := New(testConfig(t, runID), &fakeMetadataSource{ready: true, meta: SimulationMetadata{SimulationRunID: runID}}, sub, reader, out, []Plugin{p})
	require.NoError(t, err)
	require.NoError(t, ix.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = ix.Run(ctx) // returns nil on context cancellation (graceful shutdown)

	require.True(t, msg.acked, "message should be acked once the batch is flushed")
	require.False(t, msg.nacked)

	snap := ix.Metrics()
	require.Equal(t, int64(1), snap.BatchesProcessed)
	require.Equal(t, int64(25), snap.TicksProcessed)
	require.Equal(t, int64(1), snap.ParquetFilesWritten)

	expected := expectedParquetPath(runID, "ticks", 0, 0, 24)
	data, ok := out.files[expected]
	require.True(t, ok, "expected parquet output at %s, got files: %v", expected, keysOf(out.files))
	require.NotEmpty(t, data)
}

func TestRunLeavesMessageUnackedOnProcessingFailure(t *testing.T) {
	runID := "run-4"
	msg := &fakeMessage{data: []byte("not a valid BatchInfo")}
	sub := &fakeSubscription{messages: []*fakeMessage{msg}}

	ix, err := New(testConfig(t, runID), &fakeMetadataSource{ready: true, meta: SimulationMetadata{SimulationRunID: runID}}, sub, &fakeBatchReader{}, newFakeWriter(), nil)
	require.NoError(t, err)
	require.NoError(t, ix.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = ix.Run(ctx)

	require.False(t, msg.acked)
	require.False(t, msg.nacked)
	require.Equal(t, int64(1), ix.Metrics().WriteErrors)
}

func TestEffectiveSamplingFiltersExtractRowsPerLOD(t *testing.T) {
	runID := "run-5"
	// lod0 samples every tick, lod1 samples every 10th tick (factor 10).
	p := &countingPlugin{id: "ticks", sampling: 1, lodFactor: 10, lodLevels: 2}
	out := newFakeWriter()
	info := wire.BatchInfo{SimulationRunID: runID, StoragePath: "ignored", TickStart: 0, TickEnd: 19}
	msg := &fakeMessage{data: wire.MarshalBatchInfo(info)}
	sub := &fakeSubscription{messages: []*fakeMessage{msg}}
	reader := &fakeBatchReader{chunks: []wire.TickDataChunk{chunkAt(runID, 0, 19)}}

	ix, err := New(testConfig(t, runID), &fakeMetadataSource{ready: true, meta: SimulationMetadata{SimulationRunID: runID}}, sub, reader, out, []Plugin{p})
	require.NoError(t, err)
	require.NoError(t, ix.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = ix.Run(ctx)

	lod0 := expectedParquetPath(runID, "ticks", 0, 0, 19)
	lod1 := expectedParquetPath(runID, "ticks", 1, 0, 10)
	_, ok0 := out.files[lod0]
	_, ok1 := out.files[lod1]
	require.True(t, ok0)
	require.True(t, ok1, "lod1 should only contain ticks 0 and 10 (every 10th), got files: %v", keysOf(out.files))
}

func TestPollMetadataStopsOnContextCancellation(t *testing.T) {
	ix, err := New(testConfig(t, "run-6"), &fakeMetadataSource{ready: false}, &fakeSubscription{}, &fakeBatchReader{}, newFakeWriter(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ix.Start(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled) || ix.State() == StateError)
}

func expectedParquetPath(runID, metricID string, lod int, minTick, maxTick int64) string {
	segs := batchstore.BucketPath(batchstore.DefaultLevels, minTick)
	parts := append([]string{runID, "analytics", metricID, fmt.Sprintf("lod%d", lod)}, segs...)
	parts = append(parts, fmt.Sprintf("batch_%020d_%020d.parquet", minTick, maxTick))
	path := parts[0]
	for _, p := range parts[1:] {
		path += "/" + p
	}
	return path
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// envPlugin reads one cell out of the reconstructed environment each tick,
// exercising the per-plugin mutable cell state path.
type envPlugin struct {
	countingPlugin
	cell int
}

func (p *envPlugin) NeedsEnvironmentData() bool { return true }

func (p *envPlugin) Schema() analyticsplugin.Schema {
	return analyticsplugin.Schema{
		{Name: "tick", Type: analyticsplugin.TypeBigInt},
		{Name: "molecule", Type: analyticsplugin.TypeInteger},
	}
}

func (p *envPlugin) ExtractRows(tick analyticsplugin.TickView) ([]analyticsplugin.Row, error) {
	if tick.Environment == nil {
		return nil, errors.New("environment not materialized")
	}
	return []analyticsplugin.Row{{
		"tick":     tick.TickNumber,
		"molecule": tick.Environment.MoleculeAt(p.cell),
	}}, nil
}

func TestEnvironmentPluginSeesSnapshotAndDeltaState(t *testing.T) {
	runID := "run-7"
	chunk := chunkAt(runID, 0, 2)
	chunk.Snapshot.CellColumns = wire.CellDataColumns{
		FlatIndices: []int32{5}, MoleculeData: []int32{11}, OwnerIDs: []int32{1},
	}
	// Tick 1 rewrites cell 5; tick 2 clears it with an explicit zero pair.
	chunk.Deltas[0].ChangedCells = wire.CellDataColumns{
		FlatIndices: []int32{5}, MoleculeData: []int32{22}, OwnerIDs: []int32{1},
	}
	chunk.Deltas[1].ChangedCells = wire.CellDataColumns{
		FlatIndices: []int32{5}, MoleculeData: []int32{0}, OwnerIDs: []int32{0},
	}

	p := &envPlugin{countingPlugin: countingPlugin{id: "env", sampling: 1, lodFactor: 10, lodLevels: 1}, cell: 5}
	out := newFakeWriter()
	info := wire.BatchInfo{SimulationRunID: runID, StoragePath: "ignored", TickStart: 0, TickEnd: 2}
	msg := &fakeMessage{data: wire.MarshalBatchInfo(info)}
	sub := &fakeSubscription{messages: []*fakeMessage{msg}}
	reader := &fakeBatchReader{chunks: []wire.TickDataChunk{chunk}}

	ix, err := New(testConfig(t, runID), &fakeMetadataSource{ready: true, meta: SimulationMetadata{SimulationRunID: runID}}, sub, reader, out, []Plugin{p})
	require.NoError(t, err)
	require.NoError(t, ix.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = ix.Run(ctx)

	require.True(t, msg.acked)
	expected := expectedParquetPath(runID, "env", 0, 0, 2)
	_, ok := out.files[expected]
	require.True(t, ok, "expected parquet output at %s, got files: %v", expected, keysOf(out.files))
}
