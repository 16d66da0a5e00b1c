// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import "google.golang.org/protobuf/encoding/protowire"

func marshalCellColumns(c CellDataColumns) []byte {
	var b []byte
	b = appendPackedVarints(b, fCellFlatIndices, int64FromInt32Slice(c.FlatIndices))
	b = appendPackedVarints(b, fCellMoleculeData, int64FromInt32Slice(c.MoleculeData))
	b = appendPackedVarints(b, fCellOwnerIDs, int64FromInt32Slice(c.OwnerIDs))
	return b
}

func marshalOrganism(o OrganismState) []byte {
	var b []byte
	b = appendInt64Field(b, fOrgID, o.OrganismID)
	if o.HasParentID {
		b = appendInt64Field(b, fOrgParentID, o.ParentID)
		b = appendBoolField(b, fOrgHasParent, true)
	}
	b = appendInt64Field(b, fOrgBirthTick, o.BirthTick)
	b = appendDoubleField(b, fOrgEnergy, o.Energy)
	b = appendInt64Field(b, fOrgEntropyReg, o.EntropyRegister)
	b = appendBoolField(b, fOrgIsDead, o.IsDead)
	b = appendInt64Field(b, fOrgGenomeHash, o.GenomeHash)
	if o.HasInstructionOpcode {
		b = appendInt32Field(b, fOrgOpcodeID, o.InstructionOpcodeID)
		b = appendBoolField(b, fOrgHasOpcode, true)
	}
	return b
}

func marshalPluginState(p PluginState) []byte {
	var b []byte
	b = appendStringField(b, fPluginID, p.PluginID)
	b = appendBytesField(b, fPluginState, p.State)
	return b
}

// MarshalTickData serializes a TickData snapshot, unfiltered.
func MarshalTickData(t TickData) []byte {
	var b []byte
	b = appendStringField(b, fSnapRunID, t.SimulationRunID)
	b = appendInt64Field(b, fSnapTick, t.TickNumber)
	b = appendInt64Field(b, fSnapCaptureTime, t.CaptureTimeMs)
	for _, o := range t.Organisms {
		b = appendMessageField(b, fSnapOrganisms, marshalOrganism(o))
	}
	b = appendMessageField(b, fSnapCellColumns, marshalCellColumns(t.CellColumns))
	b = appendBytesField(b, fSnapRngState, t.RngState)
	for _, p := range t.PluginStates {
		b = appendMessageField(b, fSnapPluginStates, marshalPluginState(p))
	}
	b = appendInt64Field(b, fSnapTotalOrgs, t.TotalOrganismsCreated)
	b = appendInt64Field(b, fSnapTotalGenomes, t.TotalUniqueGenomes)
	b = appendPackedVarints(b, fSnapGenomeHashes, t.AllGenomeHashesEverSeen)
	return b
}

// MarshalTickDelta serializes a TickDelta, unfiltered.
func MarshalTickDelta(d TickDelta) []byte {
	var b []byte
	b = appendInt64Field(b, fDeltaTick, d.TickNumber)
	b = appendInt64Field(b, fDeltaCaptureTime, d.CaptureTimeMs)
	b = appendInt32Field(b, fDeltaType, int32(d.DeltaType))
	b = appendMessageField(b, fDeltaChangedCells, marshalCellColumns(d.ChangedCells))
	for _, o := range d.Organisms {
		b = appendMessageField(b, fDeltaOrganisms, marshalOrganism(o))
	}
	b = appendInt64Field(b, fDeltaTotalOrgs, d.TotalOrganismsCreated)
	b = appendBytesField(b, fDeltaRngState, d.RngState)
	for _, p := range d.PluginStates {
		b = appendMessageField(b, fDeltaPluginStates, marshalPluginState(p))
	}
	b = appendInt64Field(b, fDeltaTotalGenomes, d.TotalUniqueGenomes)
	return b
}

// MarshalChunk serializes a full TickDataChunk to its raw (un-length-
// prefixed) message bytes. Use WriteDelimited to frame it for a batch file.
func MarshalChunk(c TickDataChunk) []byte {
	var b []byte
	b = appendStringField(b, fChunkRunID, c.SimulationRunID)
	b = appendInt64Field(b, fChunkFirstTick, c.FirstTick)
	b = appendInt64Field(b, fChunkLastTick, c.LastTick)
	b = appendInt64Field(b, fChunkTickCount, c.TickCount)
	b = appendMessageField(b, fChunkSnapshot, MarshalTickData(c.Snapshot))
	for _, d := range c.Deltas {
		b = appendMessageField(b, fChunkDeltas, MarshalTickDelta(d))
	}
	return b
}

// MarshalBatchInfo serializes a BatchInfo message.
func MarshalBatchInfo(bi BatchInfo) []byte {
	var b []byte
	b = appendStringField(b, fBatchRunID, bi.SimulationRunID)
	b = appendStringField(b, fBatchStorePath, bi.StoragePath)
	b = appendInt64Field(b, fBatchTickStart, bi.TickStart)
	b = appendInt64Field(b, fBatchTickEnd, bi.TickEnd)
	b = appendInt64Field(b, fBatchWrittenAt, bi.WrittenAtMs)
	return b
}

// AppendDelimited appends an unsigned-varint length prefix followed by msg
// to b, matching the batch file's on-disk message framing.
func AppendDelimited(b []byte, msg []byte) []byte {
	b = protowire.AppendVarint(b, uint64(len(msg)))
	b = append(b, msg...)
	return b
}
