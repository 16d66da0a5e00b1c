// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// forEachField walks a message's top-level fields, handing each occurrence
// to fn. fn receives the field number, wire type, and the buffer
// immediately following the tag; it must return the number of bytes its
// value occupies (or a negative protowire error code). Unknown fields
// should be skipped with protowire.ConsumeFieldValue, which is exactly
// what keeps filtered/partial parsing allocation-free for the fields a
// caller does not want.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, tail []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireErr(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 || m > len(b) {
			return fmt.Errorf("wire: invalid field length for field %d", num)
		}
		b = b[m:]
	}
	return nil
}

func wireErr(n int) error {
	return fmt.Errorf("wire: malformed input: %w", protowire.ParseError(n))
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, wireErr(n)
	}
	return n, nil
}

func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, wireErr(n)
	}
	return v, n, nil
}

func consumeBytesCopy(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireErr(n)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeVarint(b []byte) (int64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireErr(n)
	}
	return int64(v), n, nil
}

func consumeFixed64(b []byte) (float64, int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, wireErr(n)
	}
	return math.Float64frombits(v), n, nil
}

func consumeMessage(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireErr(n)
	}
	return v, n, nil
}

func ParseCellColumns(raw []byte) (CellDataColumns, error) {
	var c CellDataColumns
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fCellFlatIndices:
			vals, n, err := consumeScalarOccurrence(typ, b)
			if err != nil {
				return 0, err
			}
			c.FlatIndices = append(c.FlatIndices, int32Slice(vals)...)
			return n, nil
		case fCellMoleculeData:
			vals, n, err := consumeScalarOccurrence(typ, b)
			if err != nil {
				return 0, err
			}
			c.MoleculeData = append(c.MoleculeData, int32Slice(vals)...)
			return n, nil
		case fCellOwnerIDs:
			vals, n, err := consumeScalarOccurrence(typ, b)
			if err != nil {
				return 0, err
			}
			c.OwnerIDs = append(c.OwnerIDs, int32Slice(vals)...)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return c, err
}

func parseOrganism(raw []byte) (OrganismState, error) {
	var o OrganismState
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fOrgID:
			v, n, err := consumeVarint(b)
			o.OrganismID = v
			return n, err
		case fOrgParentID:
			v, n, err := consumeVarint(b)
			o.ParentID = v
			return n, err
		case fOrgHasParent:
			v, n, err := consumeVarint(b)
			o.HasParentID = v != 0
			return n, err
		case fOrgBirthTick:
			v, n, err := consumeVarint(b)
			o.BirthTick = v
			return n, err
		case fOrgEnergy:
			v, n, err := consumeFixed64(b)
			o.Energy = v
			return n, err
		case fOrgEntropyReg:
			v, n, err := consumeVarint(b)
			o.EntropyRegister = v
			return n, err
		case fOrgIsDead:
			v, n, err := consumeVarint(b)
			o.IsDead = v != 0
			return n, err
		case fOrgGenomeHash:
			v, n, err := consumeVarint(b)
			o.GenomeHash = v
			return n, err
		case fOrgOpcodeID:
			v, n, err := consumeVarint(b)
			o.InstructionOpcodeID = int32(v)
			return n, err
		case fOrgHasOpcode:
			v, n, err := consumeVarint(b)
			o.HasInstructionOpcode = v != 0
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
	return o, err
}

func parsePluginState(raw []byte) (PluginState, error) {
	var p PluginState
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fPluginID:
			v, n, err := consumeString(b)
			p.PluginID = v
			return n, err
		case fPluginState:
			v, n, err := consumeBytesCopy(b)
			p.State = v
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
	return p, err
}

// ParseTickData parses a snapshot message honoring the given Filter.
// FilterSkipOrganisms discards the organisms field at the wire level
// (never allocating an OrganismState slice); FilterSkipCells does the same
// for cell_columns.
func ParseTickData(raw []byte, filter Filter) (TickData, error) {
	var t TickData
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fSnapRunID:
			v, n, err := consumeString(b)
			t.SimulationRunID = v
			return n, err
		case fSnapTick:
			v, n, err := consumeVarint(b)
			t.TickNumber = v
			return n, err
		case fSnapCaptureTime:
			v, n, err := consumeVarint(b)
			t.CaptureTimeMs = v
			return n, err
		case fSnapOrganisms:
			if filter == FilterSkipOrganisms {
				return skipField(num, typ, b)
			}
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			o, err := parseOrganism(msg)
			if err != nil {
				return 0, err
			}
			t.Organisms = append(t.Organisms, o)
			return n, nil
		case fSnapCellColumns:
			if filter == FilterSkipCells {
				return skipField(num, typ, b)
			}
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			cols, err := ParseCellColumns(msg)
			if err != nil {
				return 0, err
			}
			t.CellColumns = cols
			return n, nil
		case fSnapRngState:
			v, n, err := consumeBytesCopy(b)
			t.RngState = v
			return n, err
		case fSnapPluginStates:
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			p, err := parsePluginState(msg)
			if err != nil {
				return 0, err
			}
			t.PluginStates = append(t.PluginStates, p)
			return n, nil
		case fSnapTotalOrgs:
			v, n, err := consumeVarint(b)
			t.TotalOrganismsCreated = v
			return n, err
		case fSnapTotalGenomes:
			v, n, err := consumeVarint(b)
			t.TotalUniqueGenomes = v
			return n, err
		case fSnapGenomeHashes:
			vals, n, err := consumeScalarOccurrence(typ, b)
			if err != nil {
				return 0, err
			}
			t.AllGenomeHashesEverSeen = append(t.AllGenomeHashesEverSeen, vals...)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return t, err
}

// ParseTickDelta parses a delta message honoring the given Filter.
func ParseTickDelta(raw []byte, filter Filter) (TickDelta, error) {
	var d TickDelta
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fDeltaTick:
			v, n, err := consumeVarint(b)
			d.TickNumber = v
			return n, err
		case fDeltaCaptureTime:
			v, n, err := consumeVarint(b)
			d.CaptureTimeMs = v
			return n, err
		case fDeltaType:
			v, n, err := consumeVarint(b)
			d.DeltaType = DeltaType(v)
			return n, err
		case fDeltaChangedCells:
			if filter == FilterSkipCells {
				return skipField(num, typ, b)
			}
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			cols, err := ParseCellColumns(msg)
			if err != nil {
				return 0, err
			}
			d.ChangedCells = cols
			return n, nil
		case fDeltaOrganisms:
			if filter == FilterSkipOrganisms {
				return skipField(num, typ, b)
			}
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			o, err := parseOrganism(msg)
			if err != nil {
				return 0, err
			}
			d.Organisms = append(d.Organisms, o)
			return n, nil
		case fDeltaTotalOrgs:
			v, n, err := consumeVarint(b)
			d.TotalOrganismsCreated = v
			return n, err
		case fDeltaRngState:
			v, n, err := consumeBytesCopy(b)
			d.RngState = v
			return n, err
		case fDeltaPluginStates:
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			p, err := parsePluginState(msg)
			if err != nil {
				return 0, err
			}
			d.PluginStates = append(d.PluginStates, p)
			return n, nil
		case fDeltaTotalGenomes:
			v, n, err := consumeVarint(b)
			d.TotalUniqueGenomes = v
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}

// ParseChunk is the full parse: it materializes every field of the chunk,
// its snapshot and all deltas, honoring filter for the snapshot/delta
// sub-fields.
func ParseChunk(raw []byte, filter Filter) (TickDataChunk, error) {
	var c TickDataChunk
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fChunkRunID:
			v, n, err := consumeString(b)
			c.SimulationRunID = v
			return n, err
		case fChunkFirstTick:
			v, n, err := consumeVarint(b)
			c.FirstTick = v
			return n, err
		case fChunkLastTick:
			v, n, err := consumeVarint(b)
			c.LastTick = v
			return n, err
		case fChunkTickCount:
			v, n, err := consumeVarint(b)
			c.TickCount = v
			return n, err
		case fChunkSnapshot:
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			snap, err := ParseTickData(msg, filter)
			if err != nil {
				return 0, err
			}
			c.Snapshot = snap
			return n, nil
		case fChunkDeltas:
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			delta, err := ParseTickDelta(msg, filter)
			if err != nil {
				return 0, err
			}
			c.Deltas = append(c.Deltas, delta)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return c, err
}

// ParseChunkMetadata is the partial/metadata parse mode: it reads only
// first_tick, last_tick and tick_count, skipping run_id, snapshot and
// deltas entirely at the wire level, and returns the original raw bytes
// alongside for zero-copy forwarding.
func ParseChunkMetadata(raw []byte) (ChunkMetadata, error) {
	meta := ChunkMetadata{Raw: raw}
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fChunkFirstTick:
			v, n, err := consumeVarint(b)
			meta.FirstTick = v
			return n, err
		case fChunkLastTick:
			v, n, err := consumeVarint(b)
			meta.LastTick = v
			return n, err
		case fChunkTickCount:
			v, n, err := consumeVarint(b)
			meta.TickCount = v
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
	return meta, err
}

// ParseChunkSnapshotOnly parses chunk metadata and the snapshot field,
// skipping the deltas field entirely without materializing any delta
// bytes beyond the wire-level skip itself.
func ParseChunkSnapshotOnly(raw []byte) (TickDataChunk, error) {
	var c TickDataChunk
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fChunkRunID:
			v, n, err := consumeString(b)
			c.SimulationRunID = v
			return n, err
		case fChunkFirstTick:
			v, n, err := consumeVarint(b)
			c.FirstTick = v
			return n, err
		case fChunkLastTick:
			v, n, err := consumeVarint(b)
			c.LastTick = v
			return n, err
		case fChunkTickCount:
			v, n, err := consumeVarint(b)
			c.TickCount = v
			return n, err
		case fChunkSnapshot:
			msg, n, err := consumeMessage(b)
			if err != nil {
				return 0, err
			}
			snap, err := ParseTickData(msg, FilterAll)
			if err != nil {
				return 0, err
			}
			c.Snapshot = snap
			return n, nil
		case fChunkDeltas:
			return skipField(num, typ, b)
		default:
			return skipField(num, typ, b)
		}
	})
	return c, err
}

// ParseBatchInfo fully parses a BatchInfo message.
func ParseBatchInfo(raw []byte) (BatchInfo, error) {
	var bi BatchInfo
	err := forEachField(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fBatchRunID:
			v, n, err := consumeString(b)
			bi.SimulationRunID = v
			return n, err
		case fBatchStorePath:
			v, n, err := consumeString(b)
			bi.StoragePath = v
			return n, err
		case fBatchTickStart:
			v, n, err := consumeVarint(b)
			bi.TickStart = v
			return n, err
		case fBatchTickEnd:
			v, n, err := consumeVarint(b)
			bi.TickEnd = v
			return n, err
		case fBatchWrittenAt:
			v, n, err := consumeVarint(b)
			bi.WrittenAtMs = v
			return n, err
		default:
			return skipField(num, typ, b)
		}
	})
	return bi, err
}
