// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package batchstore

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	clog "github.com/evochora/pipeline/pkg/log"
	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// ErrAmbiguousCodec is returned when both a compressed and an uncompressed
// variant of the same logical file coexist. The source archive format
// tolerated whichever was found first; reimplementations fail loudly
// instead, per the resolved open question.
var ErrAmbiguousCodec = errors.New("batchstore: compressed and uncompressed variants of the same logical file coexist")

// Order selects listing direction. Both are preserved per the spec's open
// question: all known callers sort ascending then optionally reverse, so
// Descending is implemented as a post-hoc reversal rather than a distinct
// traversal.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Page is the result of ListBatchFiles: a page of matching paths plus an
// opaque continuation token for the next page.
type Page struct {
	Paths     []string
	Next      string
	Truncated bool
}

// ListRunIDs enumerates immediate subdirectories of root whose name's
// leading 17 characters parse as YYYYMMDD-HHMMSSSS and whose derived
// instant is strictly after `after`, sorted ascending.
func (s *Store) ListRunIDs(after time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		prefix, ok := RunIDTimestampPrefix(name)
		if !ok {
			continue
		}
		ts, err := time.Parse("20060102-150405", prefix[:15])
		if err != nil {
			continue
		}
		if ts.After(after) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// batchEntry is one matching file discovered during a recursive walk,
// before duplicate resolution and pagination are applied.
type batchEntry struct {
	relPath string
	first   int64
	last    int64
}

// ListBatchFiles recursively lists batch_*.pb* files under
// "<root>/<prefix>" whose parsed first_tick lies in [start, end] (either
// bound may be nil), resolves duplicate first_tick collisions by keeping
// the smallest last_tick, orders the result, and paginates using an opaque
// continuation token.
func (s *Store) ListBatchFiles(prefix string, continuation string, max int, start, end *int64, order Order) (Page, error) {
	root := filepath.Join(s.cfg.Root, prefix)

	entries, err := s.walkBatchFiles(root)
	if err != nil {
		return Page{}, err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if start != nil && e.first < *start {
			continue
		}
		if end != nil && e.first > *end {
			continue
		}
		filtered = append(filtered, e)
	}
	entries = filtered

	entries, err = resolveDuplicates(entries)
	if err != nil {
		return Page{}, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })
	if order == Descending {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	startIdx := 0
	if continuation != "" {
		for i, e := range entries {
			if isStrictlyAfter(e.relPath, continuation, order) {
				startIdx = i
				break
			}
			startIdx = i + 1
		}
	}

	var page Page
	for i := startIdx; i < len(entries); i++ {
		if max > 0 && len(page.Paths) >= max {
			page.Truncated = true
			page.Next = entries[i-1].relPath
			break
		}
		page.Paths = append(page.Paths, filepath.Join(s.cfg.Root, entries[i].relPath))
	}
	return page, nil
}

func isStrictlyAfter(candidate, token string, order Order) bool {
	if order == Descending {
		return candidate < token
	}
	return candidate > token
}

// walkBatchFiles recursively visits root, tolerating entries that vanish
// mid-scan (no retry, per the spec's explicit open-question decision).
func (s *Store) walkBatchFiles(root string) ([]batchEntry, error) {
	var out []batchEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				clog.Warnf("batchstore: entry disappeared mid-scan, skipping: %s", path)
				return nil
			}
			return err
		}
		if info.IsDir() {
			if info.Name() == SupersededDir {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(path)
		if strings.HasSuffix(base, ".tmp") {
			return nil
		}
		first, last, ok := ParseBatchFileName(base)
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(s.cfg.Root, path)
		if err != nil {
			return nil
		}
		out = append(out, batchEntry{relPath: rel, first: first, last: last})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

// resolveDuplicates implements the duplicate batch resolution rule: when
// two files share the same first_tick, keep the one with the smallest
// last_tick (the pre-crash file is known complete, the post-crash rewrite
// may be truncated) and warn about the other. Two files sharing BOTH tick
// bounds can only be codec variants of the same logical batch, which is an
// ErrAmbiguousCodec failure rather than a recoverable duplicate.
func resolveDuplicates(entries []batchEntry) ([]batchEntry, error) {
	byFirst := make(map[int64][]batchEntry)
	var order []int64
	for _, e := range entries {
		if _, seen := byFirst[e.first]; !seen {
			order = append(order, e.first)
		}
		byFirst[e.first] = append(byFirst[e.first], e)
	}

	out := make([]batchEntry, 0, len(order))
	for _, first := range order {
		group := byFirst[first]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		winner := group[0]
		for _, cand := range group[1:] {
			if cand.last < winner.last {
				winner = cand
			}
		}
		for _, e := range group {
			if e.relPath == winner.relPath {
				continue
			}
			if e.last == winner.last {
				return nil, pipelineerr.Wrap(pipelineerr.Corrupt,
					winner.relPath+" vs "+e.relPath, ErrAmbiguousCodec)
			}
			clog.Warnf("batchstore: duplicate batch for first_tick=%d, discarding %s in favor of %s", first, e.relPath, winner.relPath)
		}
		out = append(out, winner)
	}
	return out, nil
}

// FindMetadataPath returns the file matching "<root>/<runID>/raw/metadata.pb*",
// or ok=false when the run has no metadata blob yet. Finding more than one
// variant (e.g. metadata.pb next to metadata.pb.zst) is an ErrAmbiguousCodec
// failure.
func (s *Store) FindMetadataPath(runID string) (string, bool, error) {
	dir := RunRawDir(s.cfg.Root, runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, nil
	}
	var found []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if strings.HasPrefix(e.Name(), MetadataBase) {
			found = append(found, filepath.Join(dir, e.Name()))
		}
	}
	switch len(found) {
	case 0:
		return "", false, nil
	case 1:
		return found[0], true, nil
	default:
		sort.Strings(found)
		return "", false, pipelineerr.Wrap(pipelineerr.Corrupt,
			strings.Join(found, " vs "), ErrAmbiguousCodec)
	}
}

// FindLastBatchFile descends the bucketed folder hierarchy under
// "<root>/<runIDPrefix>", choosing the greatest directory name at each
// level (skipping "superseded"), then returns the file with the greatest
// name in the resulting leaf directory.
func (s *Store) FindLastBatchFile(runIDPrefix string) (string, bool) {
	dir := filepath.Join(s.cfg.Root, runIDPrefix, RawDir)
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", false
		}
		var dirs []string
		var files []string
		for _, e := range entries {
			if e.IsDir() {
				if e.Name() != SupersededDir {
					dirs = append(dirs, e.Name())
				}
				continue
			}
			if !strings.HasSuffix(e.Name(), ".tmp") {
				files = append(files, e.Name())
			}
		}
		if len(files) > 0 {
			sort.Strings(files)
			return filepath.Join(dir, files[len(files)-1]), true
		}
		if len(dirs) == 0 {
			return "", false
		}
		sort.Strings(dirs)
		dir = filepath.Join(dir, dirs[len(dirs)-1])
	}
}
