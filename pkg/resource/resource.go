// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resource implements the capability-typed wrapper layer every
// externally-visible pipeline resource (batch storage, topic, metadata
// store) is exposed through (§4.I). It is grounded on
// pkg/metricstore/healthcheck.go's threshold-classification idiom,
// generalized from a single staleness check to a full sliding-window
// counter, and pkg/lrucache/cache.go's mutex-guarded bookkeeping style.
package resource

import (
	"sync"
	"time"

	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// UsageType enumerates the capability surfaces a wrapped resource may
// support, per §4.I.
type UsageType string

const (
	UsageStorageRead    UsageType = "storage-read"
	UsageStorageWrite   UsageType = "storage-write"
	UsageAnalyticsWrite UsageType = "analytics-write"
	UsageTopicRead      UsageType = "topic-read"
	UsageTopicWrite     UsageType = "topic-write"
	UsageDBMetaRead     UsageType = "db-meta-read"
	UsageDBMetaWrite    UsageType = "db-meta-write"
)

// UsageState tracks whether a wrapped resource is currently serving
// traffic. Batch storage is always ACTIVE per §4.I.
type UsageState int

const (
	Inactive UsageState = iota
	Active
)

func (s UsageState) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// Wrapper is the capability-typed monitored handle every resource is
// exposed through. The zero value is not usable; construct with New.
type Wrapper struct {
	name      string
	supported map[UsageType]bool
	state     UsageState

	mu      sync.Mutex
	metrics map[UsageType]*Counters
}

// New builds a Wrapper declaring the given set of supported usage types.
// Batch storage resources should pass state=Active; other resources start
// Inactive until first use, mirroring healthcheck.go's "no data yet"
// classification.
func New(name string, state UsageState, window time.Duration, supported ...UsageType) *Wrapper {
	set := make(map[UsageType]bool, len(supported))
	metrics := make(map[UsageType]*Counters, len(supported))
	for _, u := range supported {
		set[u] = true
		metrics[u] = NewCounters(window)
	}
	return &Wrapper{name: name, supported: set, state: state, metrics: metrics}
}

// Name returns the wrapped resource's identifying name (used in metric
// labels and log lines).
func (w *Wrapper) Name() string { return w.name }

// State reports whether the wrapped resource is currently ACTIVE.
func (w *Wrapper) State() UsageState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetState updates the wrapper's usage state, e.g. when a topic
// subscription opens or closes.
func (w *Wrapper) SetState(s UsageState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// SupportedTypes lists every usage type this wrapper declares, in a stable
// order, for inclusion in UnauthorizedUsage errors.
func (w *Wrapper) SupportedTypes() []string {
	out := make([]string, 0, len(w.supported))
	for _, u := range allUsageTypes {
		if w.supported[u] {
			out = append(out, string(u))
		}
	}
	return out
}

var allUsageTypes = []UsageType{
	UsageStorageRead, UsageStorageWrite, UsageAnalyticsWrite,
	UsageTopicRead, UsageTopicWrite, UsageDBMetaRead, UsageDBMetaWrite,
}

// Require fails with a structured Unauthorized error listing the supported
// set if usage is not declared supported by this wrapper.
func (w *Wrapper) Require(usage UsageType) error {
	if !w.supported[usage] {
		return pipelineerr.NewUnauthorizedUsage(string(usage), w.SupportedTypes())
	}
	return nil
}

// Record books one completed operation against usage's sliding-window
// counters: an operation count, a byte count, and a latency sample. It
// also tracks the last and max observed byte size, matching §4.D's
// "last and max decompressed batch size in MB" requirement generalized to
// every usage type.
func (w *Wrapper) Record(usage UsageType, bytes int64, latency time.Duration) {
	w.mu.Lock()
	c, ok := w.metrics[usage]
	w.mu.Unlock()
	if !ok {
		return
	}
	c.Record(bytes, latency)
}

// Snapshot returns a point-in-time view of usage's counters, or ok=false
// if usage is not supported by this wrapper.
func (w *Wrapper) Snapshot(usage UsageType) (Snapshot, bool) {
	w.mu.Lock()
	c, ok := w.metrics[usage]
	w.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return c.Snapshot(), true
}
