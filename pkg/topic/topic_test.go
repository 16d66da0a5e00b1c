// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package topic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	require.Equal(t, "batch-topic_run-1", subjectFor("batch-topic", "run-1"))
}

func TestStreamNameRunIDMatch(t *testing.T) {
	runID := "20260101-00000001-deadbeef-0000-0000-0000-000000000000"
	name := streamNameFor(subjectFor("batch-topic", runID))
	m := runIDSuffixRe.FindStringSubmatch(name)
	require.NotNil(t, m)
	require.Equal(t, runID, m[1])
}

func TestSanitizeStreamNamePreservesDashes(t *testing.T) {
	require.Equal(t, "a-b_c", sanitizeStreamName("a-b_c"))
	require.Equal(t, "a_b", sanitizeStreamName("a.b"))
}
