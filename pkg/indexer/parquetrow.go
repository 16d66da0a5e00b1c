// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package indexer

import (
	"bytes"
	"fmt"
	"reflect"

	pq "github.com/parquet-go/parquet-go"

	"github.com/evochora/pipeline/pkg/analyticsplugin"
	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// rowBuffer accumulates analyticsplugin.Row values for one (plugin, LOD)
// pair between flushes, mirroring pkg/archive/parquet/writer.go's
// ParquetWriter.rows/currentSize/Flush shape. Unlike the teacher's writer,
// the row type here is not a fixed Go struct: plugin schemas are declared
// at configuration time, so the backing struct type is built once via
// reflect.StructOf and reused for every row and every flush.
type rowBuffer struct {
	schema   analyticsplugin.Schema
	rowType  reflect.Type
	colIndex map[string]int

	rows        reflect.Value // addressable slice of rowType
	currentSize int64

	minTick, maxTick int64
	hasRows          bool
}

func newRowBuffer(schema analyticsplugin.Schema) *rowBuffer {
	rowType, colIndex := buildRowType(schema)
	return &rowBuffer{
		schema:   schema,
		rowType:  rowType,
		colIndex: colIndex,
		rows:     reflect.MakeSlice(reflect.SliceOf(rowType), 0, 0),
	}
}

// buildRowType constructs a struct type with one optional field per schema
// column, each tagged `parquet:"<name>,optional"` so parquet-go's
// reflection-based schema derivation (parquet.SchemaOf) produces exactly
// the columns the plugin declared, in declared order.
func buildRowType(schema analyticsplugin.Schema) (reflect.Type, map[string]int) {
	fields := make([]reflect.StructField, len(schema))
	colIndex := make(map[string]int, len(schema))
	for i, c := range schema {
		fields[i] = reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: goTypeFor(c.Type),
			Tag:  reflect.StructTag(fmt.Sprintf(`parquet:"%s,optional"`, c.Name)),
		}
		colIndex[c.Name] = i
	}
	return reflect.StructOf(fields), colIndex
}

func goTypeFor(t analyticsplugin.ColumnType) reflect.Type {
	switch t {
	case analyticsplugin.TypeBigInt:
		return reflect.TypeOf(int64(0))
	case analyticsplugin.TypeInteger:
		return reflect.TypeOf(int32(0))
	case analyticsplugin.TypeDouble:
		return reflect.TypeOf(float64(0))
	case analyticsplugin.TypeVarchar:
		return reflect.TypeOf("")
	case analyticsplugin.TypeBoolean:
		return reflect.TypeOf(false)
	default:
		return reflect.TypeOf("")
	}
}

// Add validates row against the buffer's schema and appends it, tracking
// the buffer's tick range for the eventual bucketed output filename.
func (b *rowBuffer) Add(tick int64, row analyticsplugin.Row) error {
	if err := analyticsplugin.ValidateRow(b.schema, row); err != nil {
		return err
	}
	inst := reflect.New(b.rowType).Elem()
	for name, v := range row {
		idx, ok := b.colIndex[name]
		if !ok {
			continue
		}
		if v == nil {
			continue
		}
		inst.Field(idx).Set(reflect.ValueOf(v))
	}
	b.rows = reflect.Append(b.rows, inst)
	b.currentSize += estimateRowSize(b.schema, row)

	if !b.hasRows || tick < b.minTick {
		b.minTick = tick
	}
	if !b.hasRows || tick > b.maxTick {
		b.maxTick = tick
	}
	b.hasRows = true
	return nil
}

func estimateRowSize(schema analyticsplugin.Schema, row analyticsplugin.Row) int64 {
	size := int64(len(schema)) * 8
	for _, v := range row {
		if s, ok := v.(string); ok {
			size += int64(len(s))
		}
	}
	return size
}

// Len reports the number of buffered rows.
func (b *rowBuffer) Len() int { return b.rows.Len() }

// TickRange returns the buffer's observed [min, max] tick range.
func (b *rowBuffer) TickRange() (int64, int64, bool) { return b.minTick, b.maxTick, b.hasRows }

// Flush encodes the buffered rows as Parquet bytes and resets the buffer
// for reuse, following the teacher's writeParquetBytes shape: a
// parquet writer over a bytes.Buffer with zstd compression, sorted by the
// column named "tick" when the schema has one (matching the teacher's
// sort-by-start_time convention) and left unsorted otherwise.
func (b *rowBuffer) Flush() ([]byte, error) {
	if b.rows.Len() == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	sample := reflect.New(b.rowType).Interface()

	opts := []pq.WriterOption{pq.SchemaOf(sample), pq.Compression(&pq.Zstd)}
	if _, ok := b.colIndex["tick"]; ok {
		opts = append(opts, pq.SortingWriterConfig(pq.SortingColumns(pq.Ascending("tick"))))
	}
	writer := pq.NewGenericWriter[any](&buf, opts...)

	n := b.rows.Len()
	rows := make([]any, n)
	for i := 0; i < n; i++ {
		rows[i] = b.rows.Index(i).Interface()
	}
	if _, err := writer.Write(rows); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "write parquet rows", err)
	}
	if err := writer.Close(); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "close parquet writer", err)
	}

	b.rows = reflect.MakeSlice(reflect.SliceOf(b.rowType), 0, 0)
	b.currentSize = 0
	b.hasRows = false
	b.minTick, b.maxTick = 0, 0

	return buf.Bytes(), nil
}
