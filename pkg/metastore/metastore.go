// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metastore implements the per-run, schema-scoped key-value
// metadata store (§4.F). It carries over pkg/archive/sqliteBackend.go's
// metadata(key, value) KV table and ON CONFLICT(...) DO UPDATE SET upsert
// idiom unchanged; only the backing engine changes, from SQLite to
// Postgres, because the spec's CREATE SCHEMA SIM_<run> requirement has no
// SQLite equivalent.
package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/evochora/pipeline/pkg/pipelineerr"
)

// FullMetadataKey is the well-known key every run's metadata is stored
// under: a canonical JSON encoding of SimulationMetadata.
const FullMetadataKey = "full_metadata"

// SimulationMetadata mirrors §3's SimulationMetadata message.
type SimulationMetadata struct {
	SimulationRunID    string `json:"simulation_run_id"`
	ResolvedConfigJSON string `json:"resolved_config_json"`
	StartTimeMs        int64  `json:"start_time_ms"`
	InitialSeed        int64  `json:"initial_seed"`
	SamplingInterval   int64  `json:"sampling_interval"`
}

// Store is one connection to the metadata database; schemas are created
// lazily per run.
type Store struct {
	db *sqlx.DB
}

// Open connects to the Postgres instance backing the metadata store.
func Open(ctx context.Context, dataSourceName string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dataSourceName)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.IoFailed, "connect metadata store", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

var nonSchemaChar = regexp.MustCompile(`[^A-Z0-9_]`)

// SchemaName sanitizes a run ID into the SIM_<sanitized> schema name
// required by §4.F: uppercase alnum/underscore only.
func SchemaName(runID string) string {
	upper := strings.ToUpper(runID)
	sanitized := nonSchemaChar.ReplaceAllString(upper, "_")
	return "SIM_" + sanitized
}

// EnsureRunSchema creates the run's schema and its metadata table if they
// do not already exist. This mirrors sqliteBackend.go's own inline DDL
// constant rather than reaching for a migration framework: the table shape
// never changes across versions, so there is nothing to migrate.
func (s *Store) EnsureRunSchema(ctx context.Context, runID string) error {
	schema := SchemaName(runID)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, schema)); err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "create run schema", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.metadata (
		key   VARCHAR PRIMARY KEY,
		value TEXT NOT NULL
	)`, schema)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "create metadata table", err)
	}
	return nil
}

// Put upserts a single key/value pair in the run's metadata table.
func (s *Store) Put(ctx context.Context, runID, key, value string) error {
	schema := SchemaName(runID)
	q := fmt.Sprintf(`
		INSERT INTO %q.metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, schema)
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return pipelineerr.Wrap(pipelineerr.IoFailed, "upsert metadata key "+key, err)
	}
	return nil
}

// Get reads a single key from the run's metadata table.
func (s *Store) Get(ctx context.Context, runID, key string) (string, error) {
	schema := SchemaName(runID)
	q := fmt.Sprintf(`SELECT value FROM %q.metadata WHERE key = $1`, schema)
	var value string
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.NotFound, "read metadata key "+key, err)
	}
	return value, nil
}

// PutSimulationMetadata writes SimulationMetadata under FullMetadataKey as
// canonical JSON, creating the run's schema first if needed.
func (s *Store) PutSimulationMetadata(ctx context.Context, meta SimulationMetadata) error {
	if err := s.EnsureRunSchema(ctx, meta.SimulationRunID); err != nil {
		return err
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.InvalidInput, "encode simulation metadata", err)
	}
	return s.Put(ctx, meta.SimulationRunID, FullMetadataKey, string(blob))
}

// GetSimulationMetadata reads and decodes the full_metadata blob for runID.
// It returns an UpstreamUnavailable error if the run's schema/metadata has
// not been written yet, matching §7's error taxonomy for "metadata not yet
// present".
func (s *Store) GetSimulationMetadata(ctx context.Context, runID string) (SimulationMetadata, error) {
	raw, err := s.Get(ctx, runID, FullMetadataKey)
	if err != nil {
		if pipelineerr.Is(err, pipelineerr.NotFound) {
			return SimulationMetadata{}, pipelineerr.Wrap(pipelineerr.UpstreamUnavailable, "simulation metadata not yet present for "+runID, err)
		}
		return SimulationMetadata{}, err
	}
	var meta SimulationMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return SimulationMetadata{}, pipelineerr.Wrap(pipelineerr.Corrupt, "decode simulation metadata", err)
	}
	return meta, nil
}
