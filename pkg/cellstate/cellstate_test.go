// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package cellstate

import (
	"testing"

	"github.com/evochora/pipeline/pkg/wire"
	"github.com/stretchr/testify/require"
)

func TestApplySnapshotResetsFirst(t *testing.T) {
	s := New(8)
	s.ApplySnapshot(wire.CellDataColumns{
		FlatIndices:  []int32{1, 3},
		MoleculeData: []int32{11, 33},
		OwnerIDs:     []int32{1, 1},
	})
	require.EqualValues(t, 11, s.MoleculeAt(1))
	require.EqualValues(t, 33, s.MoleculeAt(3))

	// A second, smaller snapshot must clear cells the first one set.
	s.ApplySnapshot(wire.CellDataColumns{
		FlatIndices:  []int32{1},
		MoleculeData: []int32{99},
		OwnerIDs:     []int32{2},
	})
	require.EqualValues(t, 99, s.MoleculeAt(1))
	require.EqualValues(t, 0, s.MoleculeAt(3))
	require.EqualValues(t, 0, s.OwnerAt(3))
}

func TestApplySnapshotSkipsOutOfRange(t *testing.T) {
	s := New(4)
	require.NotPanics(t, func() {
		s.ApplySnapshot(wire.CellDataColumns{
			FlatIndices:  []int32{-1, 4, 2},
			MoleculeData: []int32{1, 2, 42},
			OwnerIDs:     []int32{1, 2, 7},
		})
	})
	require.EqualValues(t, 42, s.MoleculeAt(2))
	require.EqualValues(t, 7, s.OwnerAt(2))
}

func TestApplyDeltaClearsWithExplicitZeroPair(t *testing.T) {
	s := New(4)
	s.ApplySnapshot(wire.CellDataColumns{
		FlatIndices:  []int32{0, 1},
		MoleculeData: []int32{5, 6},
		OwnerIDs:     []int32{1, 1},
	})
	s.ApplyDelta(wire.CellDataColumns{
		FlatIndices:  []int32{0},
		MoleculeData: []int32{0},
		OwnerIDs:     []int32{0},
	})
	require.EqualValues(t, 0, s.MoleculeAt(0))
	require.EqualValues(t, 0, s.OwnerAt(0))
	// Cell 1 is untouched by the delta.
	require.EqualValues(t, 6, s.MoleculeAt(1))
}

func TestApplyDeltaAllowsOwnerWithoutMolecule(t *testing.T) {
	s := New(4)
	s.ApplyDelta(wire.CellDataColumns{
		FlatIndices:  []int32{2},
		MoleculeData: []int32{0},
		OwnerIDs:     []int32{9},
	})
	require.EqualValues(t, 0, s.MoleculeAt(2))
	require.EqualValues(t, 9, s.OwnerAt(2))
}

func TestResetZeroesWithoutReallocating(t *testing.T) {
	s := New(4)
	s.ApplySnapshot(wire.CellDataColumns{
		FlatIndices:  []int32{0},
		MoleculeData: []int32{1},
		OwnerIDs:     []int32{1},
	})
	s.Reset()
	require.Equal(t, 4, s.Len())
	cols := s.ToColumns()
	require.Empty(t, cols.FlatIndices)
}

func TestToColumnsSparseAndOrdered(t *testing.T) {
	s := New(5)
	s.ApplySnapshot(wire.CellDataColumns{
		FlatIndices:  []int32{4, 1},
		MoleculeData: []int32{40, 0},
		OwnerIDs:     []int32{0, 10},
	})
	cols := s.ToColumns()
	require.Equal(t, []int32{1, 4}, cols.FlatIndices)
	require.Equal(t, []int32{0, 40}, cols.MoleculeData)
	require.Equal(t, []int32{10, 0}, cols.OwnerIDs)
}

// TestReconstructionMatchesFullSnapshotAtEachTick exercises testable
// property #4: applying a snapshot followed by a prefix of deltas must
// equal applying the full snapshot for that tick directly.
func TestReconstructionMatchesFullSnapshotAtEachTick(t *testing.T) {
	snapshot := wire.CellDataColumns{
		FlatIndices:  []int32{0, 1, 2},
		MoleculeData: []int32{10, 20, 30},
		OwnerIDs:     []int32{1, 1, 1},
	}
	deltas := []wire.CellDataColumns{
		{FlatIndices: []int32{1}, MoleculeData: []int32{0}, OwnerIDs: []int32{0}},
		{FlatIndices: []int32{2}, MoleculeData: []int32{99}, OwnerIDs: []int32{2}},
	}
	// Full snapshots equivalent to the state after each delta, built by hand.
	wantAfter := []wire.CellDataColumns{
		{FlatIndices: []int32{0, 2}, MoleculeData: []int32{10, 30}, OwnerIDs: []int32{1, 1}},
		{FlatIndices: []int32{0, 2}, MoleculeData: []int32{10, 99}, OwnerIDs: []int32{1, 2}},
	}

	s := New(3)
	s.ApplySnapshot(snapshot)
	for i, d := range deltas {
		s.ApplyDelta(d)
		require.Equal(t, wantAfter[i], s.ToColumns(), "mismatch after delta %d", i)
	}
}
