// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package indexer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/evochora/pipeline/pkg/analyticsplugin"
	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// Plugin is analyticsplugin.Plugin, re-exported so indexer callers don't
// need a second import for the common case.
type Plugin = analyticsplugin.Plugin

// pluginEntry pairs a configured plugin with its derived per-LOD
// effective sampling intervals and output buffers.
type pluginEntry struct {
	plugin           Plugin
	needsEnvironment bool
	effectiveSamples []int64 // index = lod level

	buffers []*rowBuffer // index = lod level
}

// pluginSet partitions the configured plugins into stateless and stateful
// groups (§4.H "Stateful plugins"), though both currently run through the
// same single-consumer loop; the partition is retained because it governs
// how a future multi-consumer deployment would be sharded (one consumer
// group per stateful plugin, one shared competing-consumer group for all
// stateless plugins).
type pluginSet struct {
	entries   []*pluginEntry
	stateless []*pluginEntry
	stateful  []*pluginEntry
}

func newPluginSet(plugins []Plugin) (*pluginSet, error) {
	ps := &pluginSet{}
	for _, p := range plugins {
		levels := p.LodLevels()
		if levels <= 0 {
			levels = 1
		}
		samples := make([]int64, levels)
		for l := 0; l < levels; l++ {
			samples[l] = analyticsplugin.EffectiveSampling(p.SamplingInterval(), p.LodFactor(), l)
		}
		buffers := make([]*rowBuffer, levels)
		for l := range buffers {
			buffers[l] = newRowBuffer(p.Schema())
		}
		entry := &pluginEntry{plugin: p, needsEnvironment: p.NeedsEnvironmentData(), effectiveSamples: samples, buffers: buffers}
		ps.entries = append(ps.entries, entry)
		if isStateful(p) {
			ps.stateful = append(ps.stateful, entry)
		} else {
			ps.stateless = append(ps.stateless, entry)
		}
	}
	return ps, nil
}

// statefulPlugin is an optional interface a plugin may implement to
// declare itself stateful (§4.G: "stateful plugins ... run as a single
// consumer"). Plugins that don't implement it are treated as stateless.
type statefulPlugin interface {
	Stateful() bool
}

func isStateful(p Plugin) bool {
	if sp, ok := p.(statefulPlugin); ok {
		return sp.Stateful()
	}
	return false
}

// needsEnvironmentData reports whether any configured plugin needs
// environment data, used to pick the field filter for ForEachChunk
// (§4.H step 1).
func (ps *pluginSet) needsEnvironmentData() bool {
	for _, e := range ps.entries {
		if e.needsEnvironment {
			return true
		}
	}
	return false
}

// needsOrganismData reports whether any configured plugin consumes
// organism fields. The spec leaves this undecidable from the contract
// alone and defaults to ALL in that case; this conservative
// implementation always returns true, matching that default, since no
// part of the Plugin contract currently declares organism-field
// independence.
func (ps *pluginSet) needsOrganismData() bool {
	return true
}

// ensureLodFolders creates <analytics>/<storage_metric_id>/lod0..lodN-1
// for every configured plugin.
func (ps *pluginSet) ensureLodFolders(cfg Config) error {
	root := cfg.FolderStructure.Root
	for _, e := range ps.entries {
		for _, entry := range e.plugin.ManifestEntries() {
			prefix := entry.StorageMetricID
			if prefix == "" {
				prefix = entry.ID
			}
			for l := 0; l < len(e.buffers); l++ {
				dir := filepath.Join(root, cfg.RunID, "analytics", prefix, fmt.Sprintf("lod%d", l))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return pipelineerr.Wrap(pipelineerr.IoFailed, "ensure lod folder", err)
				}
			}
		}
	}
	return nil
}

// emitManifests writes <analytics>/<storage_metric_id>/metadata.json for
// every plugin, filling in DataSources' lodK globs and rendering any
// QuerySpec to SQL against the client's table reference placeholder.
func (ps *pluginSet) emitManifests(cfg Config, out ManifestWriter) error {
	for _, e := range ps.entries {
		entries := e.plugin.ManifestEntries()
		if len(entries) == 0 {
			continue
		}
		prefix := entries[0].StorageMetricID
		if prefix == "" {
			prefix = entries[0].ID
		}

		filled := make([]analyticsplugin.ManifestEntry, 0, len(entries))
		for _, me := range entries {
			me.DataSources = make(map[string]string, len(e.buffers))
			for l := 0; l < len(e.buffers); l++ {
				me.DataSources[fmt.Sprintf("lod%d", l)] = fmt.Sprintf("%s/lod%d/**/*.parquet", prefix, l)
			}
			if spec, ok := e.plugin.Query(); ok {
				me.GeneratedQuery = analyticsplugin.RenderSQL(spec)
			}
			if err := analyticsplugin.ValidateManifestEntry(me); err != nil {
				return err
			}
			filled = append(filled, me)
		}

		mf := analyticsplugin.ManifestFile{Entries: filled}
		data, err := mf.MarshalJSON()
		if err != nil {
			return pipelineerr.Wrap(pipelineerr.InvalidInput, "encode manifest", err)
		}
		path := filepath.Join(cfg.RunID, "analytics", prefix, "metadata.json")
		if err := out.WriteFile(path, data); err != nil {
			return pipelineerr.Wrap(pipelineerr.IoFailed, "write manifest", err)
		}
	}
	return nil
}
