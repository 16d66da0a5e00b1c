// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// appendPackedVarints writes a repeated scalar field in packed form: one
// Bytes-typed field whose payload is the concatenation of plain varints.
// Packed encoding is always used on write; consumeScalarOccurrence accepts
// both packed and unpacked forms on read, per §4.C.
func appendPackedVarints(b []byte, num protowire.Number, values []int64) []byte {
	if len(values) == 0 {
		return b
	}
	var payload []byte
	for _, v := range values {
		payload = protowire.AppendVarint(payload, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// consumeScalarOccurrence consumes a single wire occurrence of a repeated
// varint-scalar field, whichever form the writer chose: a bare Varint
// occurrence appends one value, a Bytes occurrence is unpacked into zero or
// more values. tail is the slice remaining right after the field's tag.
func consumeScalarOccurrence(typ protowire.Type, tail []byte) (values []int64, n int, err error) {
	switch typ {
	case protowire.VarintType:
		v, m := protowire.ConsumeVarint(tail)
		if m < 0 {
			return nil, 0, protowire.ParseError(m)
		}
		return []int64{int64(v)}, m, nil
	case protowire.BytesType:
		payload, m := protowire.ConsumeBytes(tail)
		if m < 0 {
			return nil, 0, protowire.ParseError(m)
		}
		var out []int64
		rest := payload
		for len(rest) > 0 {
			v, k := protowire.ConsumeVarint(rest)
			if k < 0 {
				return nil, 0, protowire.ParseError(k)
			}
			out = append(out, int64(v))
			rest = rest[k:]
		}
		return out, m, nil
	default:
		return nil, 0, fmt.Errorf("wire: unexpected type %v for scalar repeated field", typ)
	}
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v))
	return b
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	return appendInt64Field(b, num, int64(v))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

func appendDoubleField(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(v))
	return b
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	if len(msg) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, msg)
	return b
}

func int32Slice(in []int64) []int32 {
	if in == nil {
		return nil
	}
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func int64FromInt32Slice(in []int32) []int64 {
	if in == nil {
		return nil
	}
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
