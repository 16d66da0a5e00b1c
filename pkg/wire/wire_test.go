// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleChunk() TickDataChunk {
	return TickDataChunk{
		SimulationRunID: "20260101-00000001-deadbeef-0000-0000-0000-000000000000",
		FirstTick:       0,
		LastTick:        2,
		TickCount:       3,
		Snapshot: TickData{
			SimulationRunID: "20260101-00000001-deadbeef-0000-0000-0000-000000000000",
			TickNumber:      0,
			CaptureTimeMs:   1000,
			Organisms: []OrganismState{
				{OrganismID: 1, BirthTick: 0, Energy: 10.5, GenomeHash: 42},
				{OrganismID: 2, HasParentID: true, ParentID: 1, BirthTick: 0, Energy: 5},
			},
			CellColumns: CellDataColumns{
				FlatIndices:  []int32{0, 1, 2},
				MoleculeData: []int32{7, -3, 0},
				OwnerIDs:     []int32{1, 0, 2},
			},
			RngState:                []byte{1, 2, 3, 4},
			TotalOrganismsCreated:   2,
			TotalUniqueGenomes:      2,
			AllGenomeHashesEverSeen: []int64{42, 43},
		},
		Deltas: []TickDelta{
			{
				TickNumber:    1,
				CaptureTimeMs: 1010,
				ChangedCells: CellDataColumns{
					FlatIndices:  []int32{2},
					MoleculeData: []int32{9},
					OwnerIDs:     []int32{2},
				},
				TotalOrganismsCreated: 2,
				TotalUniqueGenomes:    2,
			},
			{
				TickNumber:            2,
				CaptureTimeMs:         1020,
				TotalOrganismsCreated: 2,
				TotalUniqueGenomes:    2,
			},
		},
	}
}

func TestRoundTripFull(t *testing.T) {
	c := sampleChunk()
	raw := MarshalChunk(c)
	got, err := ParseChunk(raw, FilterAll)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestRoundTripSkipOrganisms(t *testing.T) {
	c := sampleChunk()
	raw := MarshalChunk(c)
	got, err := ParseChunk(raw, FilterSkipOrganisms)
	require.NoError(t, err)

	want := c
	want.Snapshot.Organisms = nil
	for i := range want.Deltas {
		want.Deltas[i].Organisms = nil
	}
	require.Equal(t, want, got)
}

func TestRoundTripSkipCells(t *testing.T) {
	c := sampleChunk()
	raw := MarshalChunk(c)
	got, err := ParseChunk(raw, FilterSkipCells)
	require.NoError(t, err)

	want := c
	want.Snapshot.CellColumns = CellDataColumns{}
	for i := range want.Deltas {
		want.Deltas[i].ChangedCells = CellDataColumns{}
	}
	require.Equal(t, want, got)
}

func TestMetadataParse(t *testing.T) {
	c := sampleChunk()
	raw := MarshalChunk(c)
	meta, err := ParseChunkMetadata(raw)
	require.NoError(t, err)
	require.Equal(t, c.FirstTick, meta.FirstTick)
	require.Equal(t, c.LastTick, meta.LastTick)
	require.Equal(t, c.TickCount, meta.TickCount)
	require.Equal(t, raw, meta.Raw)
}

func TestSnapshotOnlyParse(t *testing.T) {
	c := sampleChunk()
	raw := MarshalChunk(c)
	got, err := ParseChunkSnapshotOnly(raw)
	require.NoError(t, err)
	require.Equal(t, c.Snapshot, got.Snapshot)
	require.Nil(t, got.Deltas)
	require.Equal(t, c.FirstTick, got.FirstTick)
	require.Equal(t, c.LastTick, got.LastTick)
}

func TestPackedAndUnpackedGenomeHashes(t *testing.T) {
	c := sampleChunk()
	raw := MarshalChunk(c) // writer always packs

	got, err := ParseChunk(raw, FilterAll)
	require.NoError(t, err)
	require.Equal(t, []int64{42, 43}, got.Snapshot.AllGenomeHashesEverSeen)

	// Build an alternative encoding with the same field emitted as
	// individual unpacked varints, and confirm the parser still accepts it.
	unpackedSnapshot := MarshalTickData(TickData{SimulationRunID: c.Snapshot.SimulationRunID})
	for _, v := range []int64{1, 2, 3} {
		unpackedSnapshot = protowire.AppendTag(unpackedSnapshot, fSnapGenomeHashes, protowire.VarintType)
		unpackedSnapshot = protowire.AppendVarint(unpackedSnapshot, uint64(v))
	}
	parsed, err := ParseTickData(unpackedSnapshot, FilterAll)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, parsed.AllGenomeHashesEverSeen)
}

func TestDelimitedStreamRoundTrip(t *testing.T) {
	c1 := sampleChunk()
	c2 := sampleChunk()
	c2.FirstTick, c2.LastTick = 3, 3
	c2.Deltas = nil
	c2.TickCount = 1
	c2.Snapshot.TickNumber = 3

	var buf bytes.Buffer
	_, err := WriteDelimited(&buf, MarshalChunk(c1))
	require.NoError(t, err)
	_, err = WriteDelimited(&buf, MarshalChunk(c2))
	require.NoError(t, err)

	r := bufio.NewReader(&buf)
	raw1, err := ReadDelimited(r)
	require.NoError(t, err)
	got1, err := ParseChunk(raw1, FilterAll)
	require.NoError(t, err)
	require.Equal(t, c1, got1)

	raw2, err := ReadDelimited(r)
	require.NoError(t, err)
	got2, err := ParseChunk(raw2, FilterAll)
	require.NoError(t, err)
	require.Equal(t, c2, got2)

	_, err = ReadDelimited(r)
	require.ErrorIs(t, err, ErrNoMoreMessages)
}

func TestBatchInfoRoundTrip(t *testing.T) {
	bi := BatchInfo{
		SimulationRunID: "run-1",
		StoragePath:     "run-1/raw/000/000/batch_00000000000000000000_00000000000000000009.pb",
		TickStart:       0,
		TickEnd:         9,
		WrittenAtMs:     12345,
	}
	raw := MarshalBatchInfo(bi)
	got, err := ParseBatchInfo(raw)
	require.NoError(t, err)
	require.Equal(t, bi, got)
}
