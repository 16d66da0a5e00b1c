// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cellstate implements the mutable, single-threaded cell-grid
// reconstruction used by both the analytics indexer and frame renderers.
// It is the dense counterpart of wire.CellDataColumns: a fixed-size array
// kept alive across a whole chunk's snapshot+deltas instead of being
// reallocated per tick, the same pooled-buffer discipline
// pkg/metricstore/buffer.go applies to its own per-metric ring buffers.
package cellstate

import "github.com/evochora/pipeline/pkg/wire"

// State is a dense reconstruction of a cell grid. It is NOT safe for
// concurrent use: one State is owned by exactly one processing pipeline at
// a time (one plugin instance, or one frame-render worker).
type State struct {
	moleculeData []int32
	ownerIDs     []int32
}

// New allocates a State for a grid of totalCells cells, zero-initialized.
func New(totalCells int) *State {
	return &State{
		moleculeData: make([]int32, totalCells),
		ownerIDs:     make([]int32, totalCells),
	}
}

// Len returns the number of cells this State tracks.
func (s *State) Len() int { return len(s.moleculeData) }

// Reset zeroes both arrays in place, allowing the State to be reused for a
// new chunk without reallocating its backing arrays.
func (s *State) Reset() {
	clear(s.moleculeData)
	clear(s.ownerIDs)
}

// ApplySnapshot resets the state to zero, then writes every (flat_index,
// molecule_data, owner_id) triple from cols. Out-of-range indices are
// skipped rather than causing a panic or error, per §4.B.
func (s *State) ApplySnapshot(cols wire.CellDataColumns) {
	s.Reset()
	n := len(s.moleculeData)
	for i, idx := range cols.FlatIndices {
		if idx < 0 || int(idx) >= n {
			continue
		}
		s.moleculeData[idx] = cols.MoleculeData[i]
		s.ownerIDs[idx] = cols.OwnerIDs[i]
	}
}

// ApplyDelta writes every (flat_index, molecule_data, owner_id) triple from
// cols unconditionally: an explicit zero pair clears the cell. Unlike
// ApplySnapshot this does not reset the rest of the grid first.
func (s *State) ApplyDelta(cols wire.CellDataColumns) {
	n := len(s.moleculeData)
	for i, idx := range cols.FlatIndices {
		if idx < 0 || int(idx) >= n {
			continue
		}
		s.moleculeData[idx] = cols.MoleculeData[i]
		s.ownerIDs[idx] = cols.OwnerIDs[i]
	}
}

// ToColumns emits sparse columns for every cell where molecule_data != 0 OR
// owner_id != 0, matching the empty-cell convention used across §3.
func (s *State) ToColumns() wire.CellDataColumns {
	var cols wire.CellDataColumns
	for i, m := range s.moleculeData {
		o := s.ownerIDs[i]
		if m == 0 && o == 0 {
			continue
		}
		cols.FlatIndices = append(cols.FlatIndices, int32(i))
		cols.MoleculeData = append(cols.MoleculeData, m)
		cols.OwnerIDs = append(cols.OwnerIDs, o)
	}
	return cols
}

// MoleculeAt and OwnerAt give read-only cell access without materializing a
// full column export, used by plugins that only need a handful of cells.
func (s *State) MoleculeAt(flatIndex int) int32 {
	if flatIndex < 0 || flatIndex >= len(s.moleculeData) {
		return 0
	}
	return s.moleculeData[flatIndex]
}

func (s *State) OwnerAt(flatIndex int) int32 {
	if flatIndex < 0 || flatIndex >= len(s.ownerIDs) {
		return 0
	}
	return s.ownerIDs[flatIndex]
}
