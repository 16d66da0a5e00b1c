// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package indexer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/evochora/pipeline/pkg/analyticsplugin"
	"github.com/evochora/pipeline/pkg/batchstore"
	"github.com/evochora/pipeline/pkg/cellstate"
	"github.com/evochora/pipeline/pkg/pipelineerr"
	"github.com/evochora/pipeline/pkg/wire"
)

// processMessage implements §4.H "Per-message processing": select a field
// filter, stream the batch's chunks, route every emitted tick to every
// (plugin, LOD) buffer, flush each buffer to a bucketed Parquet file once
// the whole batch has been consumed, then ack.
func (ix *Indexer) processMessage(ctx context.Context, msg BatchInfoMessage) error {
	info, err := wire.ParseBatchInfo(msg.Data())
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.Corrupt, "parse batch info", err)
	}

	filter := wire.FilterAll
	if !ix.plugins.needsEnvironmentData() {
		filter = wire.FilterSkipCells
	}
	// SKIP_ORGANISMS would further narrow the filter when no plugin
	// consumes organism fields; §4.H step 1 defaults to ALL when that is
	// undecidable, which pluginSet.needsOrganismData always reports.
	_ = ix.plugins.needsOrganismData()

	envStates := make(map[string]*cellstate.State)

	err = ix.reader.ForEachChunk(ctx, info.StoragePath, filter, func(chunk wire.TickDataChunk) error {
		return ix.routeChunk(chunk, envStates)
	})
	if err != nil {
		return err
	}

	if err := ix.flushBatch(info); err != nil {
		return err
	}

	ix.metrics.BatchesProcessed.Add(1)
	return msg.Ack()
}

// routeChunk applies one chunk's snapshot and deltas to every plugin that
// needs environment data, then calls extractTick for each emitted tick.
func (ix *Indexer) routeChunk(chunk wire.TickDataChunk, envStates map[string]*cellstate.State) error {
	gridSize := estimateGridSize(chunk)
	for _, e := range ix.plugins.entries {
		if !e.needsEnvironment {
			continue
		}
		st, ok := envStates[e.plugin.MetricID()]
		if !ok || st.Len() < gridSize {
			// Every chunk opens with a full snapshot, so a state that
			// turned out too small can be replaced without losing history.
			st = cellstate.New(gridSize)
			envStates[e.plugin.MetricID()] = st
		}
		st.ApplySnapshot(chunk.Snapshot.CellColumns)
	}

	if err := ix.extractTick(chunk.Snapshot.TickNumber, true, chunk.SimulationRunID, tickFromSnapshot(chunk.Snapshot), envStates); err != nil {
		return err
	}

	for _, d := range chunk.Deltas {
		for _, e := range ix.plugins.entries {
			if !e.needsEnvironment {
				continue
			}
			envStates[e.plugin.MetricID()].ApplyDelta(d.ChangedCells)
		}
		view := tickFromDelta(chunk.SimulationRunID, d)
		if err := ix.extractTick(d.TickNumber, false, chunk.SimulationRunID, view, envStates); err != nil {
			return err
		}
	}
	return nil
}

// estimateGridSize derives a cell-grid size large enough to hold every
// flat index referenced by the chunk's snapshot and deltas, since the
// indexer has no direct access to the simulation's configured environment
// shape.
func estimateGridSize(chunk wire.TickDataChunk) int {
	max := 0
	grow := func(cols wire.CellDataColumns) {
		for _, idx := range cols.FlatIndices {
			if int(idx) >= max {
				max = int(idx) + 1
			}
		}
	}
	grow(chunk.Snapshot.CellColumns)
	for _, d := range chunk.Deltas {
		grow(d.ChangedCells)
	}
	if max == 0 {
		max = 1
	}
	return max
}

func tickFromSnapshot(s wire.TickData) analyticsplugin.TickView {
	return analyticsplugin.TickView{
		SimulationRunID:       s.SimulationRunID,
		TickNumber:            s.TickNumber,
		CaptureTimeMs:         s.CaptureTimeMs,
		IsSnapshot:            true,
		Organisms:             s.Organisms,
		TotalOrganismsCreated: s.TotalOrganismsCreated,
		TotalUniqueGenomes:    s.TotalUniqueGenomes,
	}
}

func tickFromDelta(runID string, d wire.TickDelta) analyticsplugin.TickView {
	return analyticsplugin.TickView{
		SimulationRunID:       runID,
		TickNumber:            d.TickNumber,
		CaptureTimeMs:         d.CaptureTimeMs,
		IsSnapshot:            false,
		Organisms:             d.Organisms,
		TotalOrganismsCreated: d.TotalOrganismsCreated,
		TotalUniqueGenomes:    d.TotalUniqueGenomes,
	}
}

// extractTick evaluates every (plugin, LOD)'s emission condition for tick
// and, where satisfied, hands the plugin a materialized TickView and
// appends its extracted rows to the matching buffer (§4.H step 3).
func (ix *Indexer) extractTick(tick int64, isSnapshot bool, runID string, view analyticsplugin.TickView, envStates map[string]*cellstate.State) error {
	ix.metrics.TicksProcessed.Add(1)

	for _, e := range ix.plugins.entries {
		if e.needsEnvironment {
			view.Environment = envStates[e.plugin.MetricID()]
		} else {
			view.Environment = nil
		}

		for l, sampling := range e.effectiveSamples {
			if tick%sampling != 0 {
				continue
			}
			rows, err := e.plugin.ExtractRows(view)
			if err != nil {
				return pipelineerr.Wrap(pipelineerr.InvalidInput, "plugin "+e.plugin.MetricID()+" extract_rows failed", err)
			}
			for _, row := range rows {
				if err := e.buffers[l].Add(tick, row); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// flushBatch writes every non-empty (plugin, LOD) buffer accumulated while
// processing one BatchInfo to its bucketed Parquet path (§4.H step 4),
// then clears the buffers for the next batch.
func (ix *Indexer) flushBatch(info wire.BatchInfo) error {
	for _, e := range ix.plugins.entries {
		entries := e.plugin.ManifestEntries()
		prefix := e.plugin.MetricID()
		if len(entries) > 0 && entries[0].StorageMetricID != "" {
			prefix = entries[0].StorageMetricID
		}

		for l, buf := range e.buffers {
			minTick, maxTick, ok := buf.TickRange()
			if !ok {
				continue
			}
			data, err := buf.Flush()
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}

			segs := batchstore.BucketPath(ix.cfg.FolderStructure.Levels, minTick)
			parts := append([]string{ix.cfg.RunID, "analytics", prefix, fmt.Sprintf("lod%d", l)}, segs...)
			fileName := fmt.Sprintf("batch_%020d_%020d.parquet", minTick, maxTick)
			path := filepath.Join(append(parts, fileName)...)

			if err := ix.out.WriteFile(path, data); err != nil {
				return pipelineerr.Wrap(pipelineerr.IoFailed, "write parquet output", err)
			}
			ix.metrics.ParquetFilesWritten.Add(1)
		}
	}
	return nil
}
