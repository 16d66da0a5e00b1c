// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package analyticsplugin

import (
	"fmt"
	"strings"
)

// RenderSQL renders a QuerySpec into a single SELECT statement against the
// `{table}` placeholder the caller substitutes with its own table
// reference (§4.G), e.g. a DuckDB `read_parquet(...)` glob expression.
func RenderSQL(spec QuerySpec) string {
	var cols []string
	cols = append(cols, spec.BaseColumns...)

	for _, cc := range spec.ComputedColumns {
		cols = append(cols, renderComputedColumn(cc))
	}

	selectList := "*"
	if len(spec.OutputColumns) > 0 {
		selectList = strings.Join(spec.OutputColumns, ", ")
	} else if len(cols) > 0 {
		selectList = strings.Join(cols, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM {table}", selectList)
	if len(spec.OrderBy) > 0 {
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(spec.OrderBy, ", "))
	}
	return b.String()
}

func renderComputedColumn(cc ComputedColumn) string {
	switch cc.Kind {
	case ComputedDelta:
		return fmt.Sprintf(
			"%s - LAG(%s) OVER (%s) AS %s",
			cc.Of, cc.Of, windowClause(cc), cc.Name,
		)
	case ComputedLag:
		return fmt.Sprintf(
			"LAG(%s) OVER (%s) AS %s",
			cc.Of, windowClause(cc), cc.Name,
		)
	case ComputedExpression:
		return fmt.Sprintf("%s AS %s", cc.Expression, cc.Name)
	default:
		return cc.Name
	}
}

func windowClause(cc ComputedColumn) string {
	var parts []string
	if len(cc.PartitionBy) > 0 {
		parts = append(parts, "PARTITION BY "+strings.Join(cc.PartitionBy, ", "))
	}
	if cc.OrderBy != "" {
		parts = append(parts, "ORDER BY "+cc.OrderBy)
	}
	return strings.Join(parts, " ")
}
