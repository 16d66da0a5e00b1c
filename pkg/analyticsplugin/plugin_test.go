// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package analyticsplugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEffectiveSampling(t *testing.T) {
	require.Equal(t, int64(1), EffectiveSampling(1, 10, 0))
	require.Equal(t, int64(10), EffectiveSampling(1, 10, 1))
	require.Equal(t, int64(100), EffectiveSampling(1, 10, 2))
	require.Equal(t, int64(6), EffectiveSampling(3, 2, 1))
}

func TestValidateRowRejectsUndeclaredColumn(t *testing.T) {
	schema := Schema{{Name: "energy", Type: TypeDouble}}
	err := ValidateRow(schema, Row{"energy": 1.5, "extra": "x"})
	require.Error(t, err)
}

func TestValidateRowRejectsTypeMismatch(t *testing.T) {
	schema := Schema{{Name: "energy", Type: TypeDouble}}
	err := ValidateRow(schema, Row{"energy": "not-a-double"})
	require.Error(t, err)
}

func TestValidateRowAcceptsMatchingTypes(t *testing.T) {
	schema := Schema{
		{Name: "tick", Type: TypeBigInt},
		{Name: "energy", Type: TypeDouble},
		{Name: "label", Type: TypeVarchar},
		{Name: "alive", Type: TypeBoolean},
	}
	err := ValidateRow(schema, Row{
		"tick": int64(5), "energy": 1.5, "label": "x", "alive": true,
	})
	require.NoError(t, err)
}

func TestRegistryBuildUnknownClass(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("does-not-exist", Options{})
	require.Error(t, err)
}

func TestRegistryRegisterTwiceFails(t *testing.T) {
	r := NewRegistry()
	ctor := func(opts Options) (Plugin, error) { return nil, nil }
	require.NoError(t, r.Register("dup", ctor))
	require.Error(t, r.Register("dup", ctor))
}

func TestRenderSQLWithComputedDelta(t *testing.T) {
	spec := QuerySpec{
		BaseColumns: []string{"tick", "energy"},
		ComputedColumns: []ComputedColumn{
			{Name: "d_energy", Kind: ComputedDelta, Of: "energy", OrderBy: "tick"},
		},
		OutputColumns: []string{"tick", "energy", "d_energy"},
		OrderBy:       []string{"tick"},
	}
	sql := RenderSQL(spec)
	require.Contains(t, sql, "FROM {table}")
	require.Contains(t, sql, "ORDER BY tick")
}

func TestValidateManifestEntryRequiresDataSources(t *testing.T) {
	entry := ManifestEntry{
		ID:   "organism_count",
		Name: "Organism Count",
		Visualization: Visualization{Type: "line"},
	}
	err := ValidateManifestEntry(entry)
	require.Error(t, err, "manifest entry without data_sources must fail schema validation")

	entry.DataSources = map[string]string{"lod0": "organism_count/lod0/**/*.parquet"}
	require.NoError(t, ValidateManifestEntry(entry))
}
