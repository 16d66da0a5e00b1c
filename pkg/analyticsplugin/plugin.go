// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package analyticsplugin defines the analytics plugin contract (§4.G):
// schema declaration, row extraction, manifest entries and LOD
// configuration. It is grounded on pkg/archive/parquet's schema-via-
// struct-tags row shape (here generalized to a runtime-declared schema,
// since plugins are configured, not compiled in) and
// pkg/resampler/resampler.go's frequency-ratio math, generalized from a
// single old/new frequency pair to sampling_interval * lod_factor^L.
package analyticsplugin

import (
	"math"

	"github.com/evochora/pipeline/pkg/pipelineerr"
	"github.com/evochora/pipeline/pkg/wire"
)

// ColumnType enumerates the scalar types a plugin's schema may declare.
type ColumnType string

const (
	TypeBigInt  ColumnType = "BIGINT"
	TypeInteger ColumnType = "INTEGER"
	TypeDouble  ColumnType = "DOUBLE"
	TypeVarchar ColumnType = "VARCHAR"
	TypeBoolean ColumnType = "BOOLEAN"
)

// Column is one ordered entry of a plugin's declared schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is a plugin's ordered column list.
type Schema []Column

// Row is one extracted row: values keyed by column name, validated against
// the plugin's declared Schema on append by the indexer rather than here,
// per the design note replacing dynamic Object[] rows with a typed sum
// type / column-oriented builder.
type Row map[string]any

// Value returns v's value for column name, and whether it was set. Missing
// columns are treated as SQL NULL by the Parquet writer.
func (r Row) Value(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// ManifestEntry describes one metric surface a plugin exposes to the
// frontend manifest (§6 "Manifest JSON").
type ManifestEntry struct {
	ID                  string            `json:"id"`
	StorageMetricID      string            `json:"storage_metric_id,omitempty"`
	Name                string            `json:"name"`
	Description         string            `json:"description,omitempty"`
	Visualization       Visualization     `json:"visualization"`
	GeneratedQuery       string            `json:"generated_query,omitempty"`
	OutputColumns        []string          `json:"output_columns,omitempty"`
	MaxDataPoints        int               `json:"max_data_points,omitempty"`
	CustomVisualizerPath string            `json:"custom_visualizer_path,omitempty"`

	// DataSources is populated by the indexer at manifest-emission time
	// (lodK -> glob), not by the plugin itself.
	DataSources map[string]string `json:"data_sources,omitempty"`
}

// Visualization is the manifest's rendering hint for a metric entry.
type Visualization struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// ComputedColumnKind selects how a QuerySpec computed column is derived.
type ComputedColumnKind string

const (
	ComputedDelta      ComputedColumnKind = "DELTA"
	ComputedLag        ComputedColumnKind = "LAG"
	ComputedExpression ComputedColumnKind = "EXPRESSION"
)

// ComputedColumn is one query-time transform column.
type ComputedColumn struct {
	Name       string
	Kind       ComputedColumnKind
	Of         string // source column for DELTA/LAG
	Expression string // raw SQL for EXPRESSION
	PartitionBy []string
	OrderBy     string
}

// QuerySpec declares an optional query-time transform the core renders to
// SQL against a `{table}` placeholder, per §4.G.
type QuerySpec struct {
	BaseColumns     []string
	ComputedColumns []ComputedColumn
	OutputColumns   []string
	OrderBy         []string
}

// Plugin is the contract every analytics plugin implements.
type Plugin interface {
	MetricID() string
	SamplingInterval() int64
	LodFactor() int64
	LodLevels() int
	MaxDataPoints() (int, bool)

	Schema() Schema
	NeedsEnvironmentData() bool

	// ExtractRows produces zero or more rows for one tick. Stateless
	// plugins MUST NOT retain mutable state across calls if they are to
	// run under competing consumers (§4.G). The indexer partitions plugins
	// into stateless and stateful groups but runs both through the same
	// consumer loop; it does not restrict stateful plugins to one consumer.
	ExtractRows(tick TickView) ([]Row, error)

	ManifestEntries() []ManifestEntry

	// Query returns an optional QuerySpec for query-time transforms, or
	// ok=false if this plugin exposes none.
	Query() (QuerySpec, bool)
}

// TickView is the materialized view of one tick handed to ExtractRows: the
// tick number plus whichever of organisms/environment the plugin declared
// it needs. Fields the indexer skipped at the wire level (§4.H step 1) are
// left at their zero value.
type TickView struct {
	SimulationRunID string
	TickNumber      int64
	CaptureTimeMs   int64
	IsSnapshot      bool

	Organisms []wire.OrganismState

	// Environment is non-nil only when the receiving plugin declares
	// NeedsEnvironmentData and the indexer maintained a cellstate.State
	// for this chunk.
	Environment EnvironmentView

	TotalOrganismsCreated int64
	TotalUniqueGenomes    int64
}

// EnvironmentView exposes read access to the per-chunk mutable cell state
// without leaking cellstate.State's mutation methods to plugins.
type EnvironmentView interface {
	Len() int
	MoleculeAt(flatIndex int) int32
	OwnerAt(flatIndex int) int32
}

// EffectiveSampling computes sampling_interval * lod_factor^level, per
// §4.G: "Effective sampling at LOD level L is sampling_interval *
// lod_factor^L".
func EffectiveSampling(samplingInterval, lodFactor int64, level int) int64 {
	if samplingInterval <= 0 {
		samplingInterval = 1
	}
	if lodFactor <= 0 {
		lodFactor = 1
	}
	return samplingInterval * int64(math.Pow(float64(lodFactor), float64(level)))
}

// ValidateRow checks that row carries a value of the declared type for
// every schema column it sets, and no columns outside the schema. It is
// the "validate row shape against schema on append" step the design notes
// call for in place of dynamic Object[] rows.
func ValidateRow(schema Schema, row Row) error {
	allowed := make(map[string]ColumnType, len(schema))
	for _, c := range schema {
		allowed[c.Name] = c.Type
	}
	for name, v := range row {
		typ, ok := allowed[name]
		if !ok {
			return pipelineerr.New(pipelineerr.InvalidInput, "row sets undeclared column: "+name)
		}
		if v == nil {
			continue
		}
		if !valueMatchesType(v, typ) {
			return pipelineerr.New(pipelineerr.InvalidInput, "row column "+name+" does not match declared type "+string(typ))
		}
	}
	return nil
}

func valueMatchesType(v any, typ ColumnType) bool {
	switch typ {
	case TypeBigInt:
		_, ok := v.(int64)
		return ok
	case TypeInteger:
		_, ok := v.(int32)
		return ok
	case TypeDouble:
		_, ok := v.(float64)
		return ok
	case TypeVarchar:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}
