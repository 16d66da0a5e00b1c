// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the tick codec: length-delimited, schema-tagged
// serialization of TickData, TickDelta, TickDataChunk and BatchInfo.
//
// Per the spec's explicit design note, any wire-compatible schema-tagged
// encoding with unsigned-varint length prefixing is permitted as long as
// field numbers are stable and unknown/skipped fields remain skippable at
// the wire level. This package hand-rolls that framing directly against
// google.golang.org/protobuf/encoding/protowire's primitives rather than
// depending on generated protoc-gen-go code, so no code generation step is
// required to build or evolve it.
package wire

// Molecule is a packed 32-bit integer: high bits hold a type tag (code,
// data, energy, structure, label, ...), low bits hold a signed value. The
// mask constants below are part of the wire format and MUST NOT change
// without a schema version bump.
type Molecule int32

const (
	MoleculeTypeMask  int32 = ^int32(0xFFFFFF) // high 8 bits
	MoleculeValueMask int32 = 0xFFFFFF         // low 24 bits
	moleculeSignBit   int32 = 1 << 23
)

// TypeTag extracts the high-bit type tag from a packed molecule value.
func (m Molecule) TypeTag() int32 {
	return (int32(m) & MoleculeTypeMask) >> 24
}

// Value extracts the signed low-bits payload from a packed molecule value.
func (m Molecule) Value() int32 {
	v := int32(m) & MoleculeValueMask
	if v&moleculeSignBit != 0 {
		v |= MoleculeTypeMask
	}
	return v
}

// CellDataColumns is a sparse column-oriented view of a cell grid. The
// three slices are always equal length; a cell is "empty" iff
// molecule_data == 0 AND owner_id == 0.
type CellDataColumns struct {
	FlatIndices  []int32
	MoleculeData []int32
	OwnerIDs     []int32
}

// PluginState is an opaque, plugin-owned blob carried alongside a snapshot
// or delta so stateful analytics plugins can persist cross-tick state in
// the same capture stream.
type PluginState struct {
	PluginID string
	State    []byte
}

// OrganismState is opaque to the core except for the fields indexers
// actually consume.
type OrganismState struct {
	OrganismID           int64
	ParentID             int64
	HasParentID          bool
	BirthTick            int64
	Energy               float64
	EntropyRegister      int64
	IsDead               bool
	GenomeHash           int64
	InstructionOpcodeID  int32
	HasInstructionOpcode bool
}

// TickData is a complete environment snapshot: applying it fully
// determines the environment.
type TickData struct {
	SimulationRunID          string
	TickNumber               int64
	CaptureTimeMs            int64
	Organisms                []OrganismState
	CellColumns              CellDataColumns
	RngState                 []byte
	PluginStates             []PluginState
	TotalOrganismsCreated    int64
	TotalUniqueGenomes       int64
	AllGenomeHashesEverSeen  []int64
}

// DeltaType enumerates the kind of change a TickDelta represents. The
// concrete values are opaque core-side; they pass through unchanged.
type DeltaType int32

// TickDelta lists only the cells and organisms mutated since the
// immediately preceding tick.
type TickDelta struct {
	TickNumber            int64
	CaptureTimeMs         int64
	DeltaType             DeltaType
	ChangedCells          CellDataColumns
	Organisms             []OrganismState
	TotalOrganismsCreated int64
	RngState              []byte
	PluginStates          []PluginState
	TotalUniqueGenomes    int64
}

// TickDataChunk is one snapshot plus a contiguous, strictly ascending run
// of deltas.
//
// Invariants (enforced by callers that build chunks, not by this struct
// itself): snapshot.TickNumber == FirstTick; Deltas is strictly ascending
// in TickNumber and its last element's TickNumber == LastTick; TickCount
// == 1 + len(Deltas).
type TickDataChunk struct {
	SimulationRunID string
	FirstTick       int64
	LastTick        int64
	TickCount       int64
	Snapshot        TickData
	Deltas          []TickDelta
}

// BatchInfo is published to the topic once a batch file has been durably
// renamed into place.
type BatchInfo struct {
	SimulationRunID string
	StoragePath     string
	TickStart       int64
	TickEnd         int64
	WrittenAtMs     int64
}

// ChunkMetadata is the result of a partial/metadata parse: only
// first_tick, last_tick and tick_count, plus the original raw bytes for
// zero-copy forwarding.
type ChunkMetadata struct {
	FirstTick int64
	LastTick  int64
	TickCount int64
	Raw       []byte
}

// RawChunk is delivered by streaming raw-chunk iteration: the partial-parse
// metadata fields plus the chunk's undecoded message bytes.
type RawChunk struct {
	FirstTick int64
	LastTick  int64
	TickCount int64
	Bytes     []byte
}

// Filter selects which sub-fields of a snapshot/delta are materialized
// during a filtered parse.
type Filter int

const (
	FilterAll Filter = iota
	FilterSkipOrganisms
	FilterSkipCells
)
