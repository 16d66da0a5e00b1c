// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package analyticsplugin

import (
	"sync"

	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// Constructor builds a Plugin instance from its configured options. Per
// the design notes' "runtime reflection for plugin loading" redesign
// flag, plugins are looked up by a registry key at program start rather
// than instantiated through reflection over a class name.
type Constructor func(opts Options) (Plugin, error)

// Options is the decoded `plugins[].options` configuration block for one
// plugin instance (§6).
type Options struct {
	MetricID         string         `json:"metric_id"`
	SamplingInterval int64          `json:"sampling_interval"`
	LodFactor        int64          `json:"lod_factor"`
	LodLevels        int            `json:"lod_levels"`
	MaxDataPoints    int            `json:"max_data_points"`
	HasMaxDataPoints bool           `json:"-"`
	Extra            map[string]any `json:"-"`
}

// WithDefaults fills in the §4.G defaults (sampling_interval=1,
// lod_factor=10, lod_levels=1) for any field left at its zero value.
func (o Options) WithDefaults() Options {
	if o.SamplingInterval == 0 {
		o.SamplingInterval = 1
	}
	if o.LodFactor == 0 {
		o.LodFactor = 10
	}
	if o.LodLevels == 0 {
		o.LodLevels = 1
	}
	return o
}

// Registry maps a configuration-carried class_name to a plugin
// Constructor. It is populated once at program start (§9's explicit-
// application-context redesign flag), not discovered via reflection.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds className to a Constructor. Calling Register twice for
// the same className is a configuration error the caller should surface
// at startup.
func (r *Registry) Register(className string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[className]; exists {
		return pipelineerr.New(pipelineerr.InvalidInput, "plugin class already registered: "+className)
	}
	r.ctors[className] = ctor
	return nil
}

// Build instantiates className with opts, applying §4.G's defaults first.
func (r *Registry) Build(className string, opts Options) (Plugin, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[className]
	r.mu.RUnlock()
	if !ok {
		return nil, pipelineerr.New(pipelineerr.InvalidInput, "unknown plugin class: "+className)
	}
	return ctor(opts.WithDefaults())
}

// ClassNames lists every registered class name, for diagnostics.
func (r *Registry) ClassNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		out = append(out, name)
	}
	return out
}
