// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers are part of the wire format; they must never be reassigned
// once a run's archive exists on disk.
const (
	fCellFlatIndices  protowire.Number = 1
	fCellMoleculeData protowire.Number = 2
	fCellOwnerIDs     protowire.Number = 3

	fOrgID          protowire.Number = 1
	fOrgParentID    protowire.Number = 2
	fOrgHasParent   protowire.Number = 3
	fOrgBirthTick   protowire.Number = 4
	fOrgEnergy      protowire.Number = 5
	fOrgEntropyReg  protowire.Number = 6
	fOrgIsDead      protowire.Number = 7
	fOrgGenomeHash  protowire.Number = 8
	fOrgOpcodeID    protowire.Number = 9
	fOrgHasOpcode   protowire.Number = 10

	fPluginID    protowire.Number = 1
	fPluginState protowire.Number = 2

	fSnapRunID        protowire.Number = 1
	fSnapTick         protowire.Number = 2
	fSnapCaptureTime  protowire.Number = 3
	fSnapOrganisms    protowire.Number = 4
	fSnapCellColumns  protowire.Number = 5
	fSnapRngState     protowire.Number = 6
	fSnapPluginStates protowire.Number = 7
	fSnapTotalOrgs    protowire.Number = 8
	fSnapTotalGenomes protowire.Number = 9
	fSnapGenomeHashes protowire.Number = 10

	fDeltaTick         protowire.Number = 1
	fDeltaCaptureTime  protowire.Number = 2
	fDeltaType         protowire.Number = 3
	fDeltaChangedCells protowire.Number = 4
	fDeltaOrganisms    protowire.Number = 5
	fDeltaTotalOrgs    protowire.Number = 6
	fDeltaRngState     protowire.Number = 7
	fDeltaPluginStates protowire.Number = 8
	fDeltaTotalGenomes protowire.Number = 9

	fChunkRunID     protowire.Number = 1
	fChunkFirstTick protowire.Number = 2
	fChunkLastTick  protowire.Number = 3
	fChunkTickCount protowire.Number = 4
	fChunkSnapshot  protowire.Number = 5
	fChunkDeltas    protowire.Number = 6

	fBatchRunID      protowire.Number = 1
	fBatchStorePath  protowire.Number = 2
	fBatchTickStart  protowire.Number = 3
	fBatchTickEnd    protowire.Number = 4
	fBatchWrittenAt  protowire.Number = 5
)
