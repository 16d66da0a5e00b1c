// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package batchstore implements the hardest component of the pipeline: the
// hierarchical, atomically-written, streaming batch file resource. It is
// modeled directly on pkg/archive/fsBackend.go's getDirectory/getPath
// bucketed-path construction and pkg/metricstore/walCheckpoint.go's
// temp-suffix-then-rename atomic write protocol.
package batchstore

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// DefaultLevels is the default folder_structure.levels configuration.
var DefaultLevels = []int64{100_000_000, 100_000}

const bucketOverflow = 1000

// BucketPath derives the folder path segments for a first_tick under the
// configured levels: bucket_k = (t / l_k) % 1000, zero-padded to 3 digits.
func BucketPath(levels []int64, firstTick int64) []string {
	if len(levels) == 0 {
		levels = DefaultLevels
	}
	segs := make([]string, len(levels))
	for i, l := range levels {
		if l <= 0 {
			l = 1
		}
		bucket := (firstTick / l) % bucketOverflow
		segs[i] = fmt.Sprintf("%03d", bucket)
	}
	return segs
}

// BatchFileName renders the file name grammar batch_<first:20d>_<last:20d>.
// Fixed width guarantees lexicographic order equals ascending tick order.
func BatchFileName(first, last int64) string {
	return fmt.Sprintf("batch_%020d_%020d.pb", first, last)
}

var batchFileRe = regexp.MustCompile(`^batch_(\d{20})_(\d{20})\.pb(\.[a-zA-Z0-9]+)?$`)

// ParseBatchFileName extracts (first, last) from a batch file's base name.
// It returns ok=false for anything not matching the grammar (including
// files still carrying a .tmp suffix, which readers must ignore).
func ParseBatchFileName(base string) (first, last int64, ok bool) {
	m := batchFileRe.FindStringSubmatch(base)
	if m == nil {
		return 0, 0, false
	}
	first, err1 := strconv.ParseInt(m[1], 10, 64)
	last, err2 := strconv.ParseInt(m[2], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return first, last, true
}

// RawDir/AnalyticsDir/SupersededDir are the fixed top-level directories
// inside a run directory (§6 run directory layout).
const (
	RawDir         = "raw"
	AnalyticsDir   = "analytics"
	SupersededDir  = "superseded"
	MetadataBase   = "metadata.pb"
)

// RunRawDir returns "<root>/<runID>/raw".
func RunRawDir(root, runID string) string {
	return filepath.Join(root, runID, RawDir)
}

// BatchDir returns the bucketed directory a batch starting at firstTick
// lives under.
func BatchDir(root, runID string, levels []int64, firstTick int64) string {
	segs := BucketPath(levels, firstTick)
	parts := append([]string{RunRawDir(root, runID)}, segs...)
	return filepath.Join(parts...)
}

// AnalyticsLodDir returns "<root>/<runID>/analytics/<metricID>/lod<L>".
func AnalyticsLodDir(root, runID, metricID string, lod int) string {
	return filepath.Join(root, runID, AnalyticsDir, metricID, fmt.Sprintf("lod%d", lod))
}

var invalidKeyChars = regexp.MustCompile(`[<>"?*|\x00-\x1f]`)
var windowsDriveLetter = regexp.MustCompile(`^[A-Za-z]:`)

// ValidateKey rejects the InvalidKey class of paths from §4.D's error
// taxonomy: empty, containing "..", rooted, a Windows drive letter, a
// control character, or one of <>"?*|.
func ValidateKey(key string) error {
	if key == "" {
		return pipelineerr.New(pipelineerr.InvalidInput, "empty key")
	}
	if strings.Contains(key, "..") {
		return pipelineerr.New(pipelineerr.InvalidInput, "key contains '..': "+key)
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\") {
		return pipelineerr.New(pipelineerr.InvalidInput, "key is rooted: "+key)
	}
	if windowsDriveLetter.MatchString(key) {
		return pipelineerr.New(pipelineerr.InvalidInput, "key has a drive letter: "+key)
	}
	if invalidKeyChars.MatchString(key) {
		return pipelineerr.New(pipelineerr.InvalidInput, "key contains an invalid character: "+key)
	}
	return nil
}

// ValidateContainment canonicalizes target against root and fails with
// PathTraversal if the result escapes root. Both paths are made absolute
// with filepath.Abs (relative paths resolve against the working directory)
// and compared with filepath.Rel; the filesystem itself is not consulted.
func ValidateContainment(root, target string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "resolve root", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "resolve target", err)
	}
	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return pipelineerr.New(pipelineerr.PathTraversal, "path escapes root: "+target)
	}
	return nil
}

// runIDTimestampRe matches the leading 17 chars of a run ID: YYYYMMDD-HHMMSSSS.
var runIDTimestampRe = regexp.MustCompile(`^(\d{8})-(\d{8})`)

// RunIDTimestampPrefix extracts the leading 17-char timestamp prefix of a
// run ID, returning ok=false if it does not parse as YYYYMMDD-HHMMSSSS.
func RunIDTimestampPrefix(runID string) (prefix string, ok bool) {
	if len(runID) < 17 {
		return "", false
	}
	candidate := runID[:17]
	if !runIDTimestampRe.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}
