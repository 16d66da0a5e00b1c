// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package codec provides the pluggable stream-compression layer used by
// batch storage and analytics output. It mirrors the compress/decompress-
// by-file-extension idiom already used throughout pkg/archive, generalized
// from a single hardcoded gzip threshold to a named, configurable codec
// table.
package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Name identifies a registered codec.
type Name string

const (
	None Name = "none"
	Zstd Name = "zstd"
)

// zstdMagic is the leading magic byte sequence of a zstd frame, used for
// content-based detection when a path's extension is ambiguous or missing.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Codec wraps readers/writers for one compression scheme and exposes the
// file-extension its outputs should carry.
type Codec interface {
	Name() Name
	Extension() string
	WrapWriter(w io.Writer) (io.WriteCloser, error)
	WrapReader(r io.Reader) (io.ReadCloser, error)
}

// Config is the per-resource compression configuration, decoded from the
// `compression` JSON section described in SPEC_FULL.md PART TWO.
type Config struct {
	Enabled bool   `json:"enabled"`
	Codec   string `json:"codec"`
	Level   int    `json:"level"`
}

// nopWriteCloser and nopReadCloser upgrade a plain io.Writer/io.Reader to the Closer-bearing
// interfaces the Codec contract requires, without an extra allocation on
// the identity path.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

// identity is the `none` codec: the identity transform with an empty
// filename extension, as required by §4.A.
type identity struct{}

func (identity) Name() Name                                    { return None }
func (identity) Extension() string                              { return "" }
func (identity) WrapWriter(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }
func (identity) WrapReader(r io.Reader) (io.ReadCloser, error)  { return nopReadCloser{r}, nil }

// zstdCodec implements Codec over klauspost/compress/zstd, the zstd
// implementation already present in the teacher's dependency graph.
type zstdCodec struct {
	level zstd.EncoderLevel
}

func (z zstdCodec) Name() Name      { return Zstd }
func (z zstdCodec) Extension() string { return ".zst" }

func (z zstdCodec) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (z zstdCodec) WrapReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// levelFromConfig maps the small integer scale in Config.Level (0-22,
// 0 meaning "use the library default") onto zstd's coarse speed/ratio enum.
func levelFromConfig(level int) zstd.EncoderLevel {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Get resolves a named codec from configuration.
func Get(cfg Config) (Codec, error) {
	if !cfg.Enabled {
		return identity{}, nil
	}
	switch Name(cfg.Codec) {
	case "", None:
		return identity{}, nil
	case Zstd:
		return zstdCodec{level: levelFromConfig(cfg.Level)}, nil
	default:
		return nil, &UnknownCodecError{Codec: cfg.Codec}
	}
}

// UnknownCodecError is returned by Get for an unrecognized codec name.
type UnknownCodecError struct{ Codec string }

func (e *UnknownCodecError) Error() string { return "unknown compression codec: " + e.Codec }

// DetectByExtension picks a codec purely from a file path's suffix,
// matching the spec's "auto-detect the codec from the file path's
// extension" requirement for readers.
func DetectByExtension(path string) Codec {
	if len(path) >= len(".zst") && path[len(path)-len(".zst"):] == ".zst" {
		return zstdCodec{level: zstd.SpeedDefault}
	}
	return identity{}
}

// DetectByMagic is the secondary detection path: it inspects the leading
// bytes of a buffer and falls back to the identity codec when no known
// magic sequence matches.
func DetectByMagic(head []byte) Codec {
	if bytes.HasPrefix(head, zstdMagic) {
		return zstdCodec{level: zstd.SpeedDefault}
	}
	return identity{}
}
