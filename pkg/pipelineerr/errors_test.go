// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipelineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Corrupt, "framing error", cause)
	require.True(t, Is(err, Corrupt))
	require.False(t, Is(err, NotFound))
	require.ErrorIs(t, err, cause)
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	require.NoError(t, Wrap(IoFailed, "irrelevant", nil))
}

func TestNewHasNoCause(t *testing.T) {
	err := New(PathTraversal, "escapes root")
	require.True(t, Is(err, PathTraversal))
	var pe *Error
	require.True(t, errors.As(err, &pe))
	require.Nil(t, pe.Unwrap())
}

func TestUnauthorizedUsageListsSupportedTypes(t *testing.T) {
	err := NewUnauthorizedUsage("topic-read", []string{"storage-read", "storage-write"})
	require.True(t, Is(err, Unauthorized))
	require.Contains(t, err.Error(), "topic-read")
	require.Contains(t, err.Error(), "storage-read")
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "Unknown", Kind(999).String())
	require.Equal(t, "DuplicateBatch", DuplicateBatch.String())
}
