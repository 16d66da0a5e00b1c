// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package indexer

import "sync/atomic"

// State is the indexer's coarse lifecycle state (§7: "User-visible failure
// modes for the indexer: ERROR state after metadata timeout or after an
// unhandled exception in the processing loop; metrics must continue to be
// readable").
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateError:
		return "ERROR"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

type stateBox struct{ v atomic.Int32 }

func (b *stateBox) Load() State     { return State(b.v.Load()) }
func (b *stateBox) Store(s State)   { b.v.Store(int32(s)) }

// Metrics is the indexer's running counters (§4.H "Metrics"). Reads remain
// available regardless of State, including while in ERROR.
type Metrics struct {
	BatchesProcessed    atomic.Int64
	TicksProcessed      atomic.Int64
	ParquetFilesWritten atomic.Int64
	WriteErrors         atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics' counters.
type MetricsSnapshot struct {
	BatchesProcessed    int64
	TicksProcessed      int64
	ParquetFilesWritten int64
	WriteErrors         int64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BatchesProcessed:    m.BatchesProcessed.Load(),
		TicksProcessed:      m.TicksProcessed.Load(),
		ParquetFilesWritten: m.ParquetFilesWritten.Load(),
		WriteErrors:         m.WriteErrors.Load(),
	}
}
