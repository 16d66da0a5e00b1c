// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	c, err := Get(Config{Enabled: false})
	require.NoError(t, err)
	require.Equal(t, None, c.Name())
	require.Equal(t, "", c.Extension())

	var buf bytes.Buffer
	w, err := c.WrapWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := c.WrapReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))
}

func TestZstdRoundTrip(t *testing.T) {
	c, err := Get(Config{Enabled: true, Codec: "zstd", Level: 3})
	require.NoError(t, err)
	require.Equal(t, Zstd, c.Name())
	require.Equal(t, ".zst", c.Extension())

	payload := bytes.Repeat([]byte("evochora-tick-payload"), 64)
	var buf bytes.Buffer
	w, err := c.WrapWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.True(t, bytes.HasPrefix(buf.Bytes(), zstdMagic))

	detected := DetectByMagic(buf.Bytes()[:4])
	require.Equal(t, Zstd, detected.Name())

	r, err := c.WrapReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDetectByExtension(t *testing.T) {
	require.Equal(t, Zstd, DetectByExtension("batch_0_9.pb.zst").Name())
	require.Equal(t, None, DetectByExtension("batch_0_9.pb").Name())
}

func TestUnknownCodec(t *testing.T) {
	_, err := Get(Config{Enabled: true, Codec: "lz4"})
	require.Error(t, err)
}
