// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metastore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaNameSanitizesRunID(t *testing.T) {
	require.Equal(t, "SIM_20260101_00000000_ABCDEF01_0000_0000_0000_000000000000",
		SchemaName("20260101-00000000-abcdef01-0000-0000-0000-000000000000"))
}

func TestSchemaNameIsUppercaseAlnumUnderscoreOnly(t *testing.T) {
	got := SchemaName("run/with weird.chars!")
	require.Regexp(t, `^SIM_[A-Z0-9_]+$`, got)
}
