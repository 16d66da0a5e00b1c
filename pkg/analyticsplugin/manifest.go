// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package analyticsplugin

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/evochora/pipeline/pkg/pipelineerr"
)

//go:embed schemas/manifest.schema.json
var manifestSchemaFS embed.FS

var manifestSchema = compileManifestSchema()

func compileManifestSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	raw, err := manifestSchemaFS.ReadFile("schemas/manifest.schema.json")
	if err != nil {
		panic("analyticsplugin: embedded manifest schema missing: " + err.Error())
	}
	if err := c.AddResource("manifest.schema.json", bytes.NewReader(raw)); err != nil {
		panic("analyticsplugin: add manifest schema resource: " + err.Error())
	}
	s, err := c.Compile("manifest.schema.json")
	if err != nil {
		panic("analyticsplugin: compile manifest schema: " + err.Error())
	}
	return s
}

// ValidateManifestEntry checks entry's JSON encoding against the manifest
// schema (§6 "Manifest JSON"), after the indexer has filled in
// DataSources and rendered any `{table}` placeholders.
func ValidateManifestEntry(entry ManifestEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.InvalidInput, "encode manifest entry", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return pipelineerr.Wrap(pipelineerr.InvalidInput, "decode manifest entry for validation", err)
	}
	if err := manifestSchema.Validate(doc); err != nil {
		return pipelineerr.Wrap(pipelineerr.InvalidInput, fmt.Sprintf("manifest entry %q failed schema validation", entry.ID), err)
	}
	return nil
}

// ManifestFile is the top-level `<analytics>/<storage_metric_id>/metadata.json`
// document: one or more manifest entries sharing the same storage prefix.
type ManifestFile struct {
	Entries []ManifestEntry
}

// MarshalJSON renders a ManifestFile as either a single object (one entry)
// or a JSON array (multiple entries), matching the pattern of plugins that
// "publish multiple manifest entries that share the same storage prefix"
// (§4.G).
func (m ManifestFile) MarshalJSON() ([]byte, error) {
	if len(m.Entries) == 1 {
		return json.MarshalIndent(m.Entries[0], "", "  ")
	}
	return json.MarshalIndent(m.Entries, "", "  ")
}
