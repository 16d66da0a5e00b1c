// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evochora/pipeline/pkg/pipelineerr"
)

func TestRequireUnsupportedUsage(t *testing.T) {
	w := New("batchstore", Active, time.Second, UsageStorageRead, UsageStorageWrite)
	require.NoError(t, w.Require(UsageStorageRead))

	err := w.Require(UsageTopicWrite)
	require.Error(t, err)
	require.True(t, pipelineerr.Is(err, pipelineerr.Unauthorized))

	var usage *pipelineerr.UnauthorizedUsage
	perr, ok := err.(*pipelineerr.Error)
	require.True(t, ok)
	usage, ok = perr.Cause.(*pipelineerr.UnauthorizedUsage)
	require.True(t, ok)
	require.Equal(t, "topic-write", usage.Requested)
	require.Contains(t, usage.Supported, "storage-read")
}

func TestBatchStorageAlwaysActive(t *testing.T) {
	w := New("batchstore", Active, time.Second, UsageStorageRead)
	require.Equal(t, Active, w.State())
}

func TestCountersCumulativeIsMonotonic(t *testing.T) {
	c := NewCounters(50 * time.Millisecond)
	c.Record(100, time.Millisecond)
	c.Record(200, 2*time.Millisecond)

	snap := c.Snapshot()
	require.Equal(t, int64(2), snap.CumulativeOps)
	require.Equal(t, int64(300), snap.CumulativeBytes)
	require.Equal(t, int64(200), snap.LastBytes)
	require.Equal(t, int64(200), snap.MaxBytes)
	require.Equal(t, int64(2), snap.WindowOps)
}

func TestCountersWindowDecaysAfterIdle(t *testing.T) {
	c := NewCounters(20 * time.Millisecond)
	c.Record(50, time.Millisecond)
	require.Equal(t, int64(1), c.Snapshot().WindowOps)

	time.Sleep(30 * time.Millisecond)

	snap := c.Snapshot()
	require.Equal(t, int64(0), snap.WindowOps)
	require.Equal(t, int64(1), snap.CumulativeOps, "cumulative counters never reset")
}
