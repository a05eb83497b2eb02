// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package catalog is the durable store: catalog records, their per-kind
// extension rows and the provenance trail, all in a single DuckDB file.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/logging"
)

// ErrNotFound is returned when a lookup matches no catalog record.
var ErrNotFound = errors.New("catalog: record not found")

// Store wraps the DuckDB handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database and runs schema
// migration. Path ":memory:" opens an ephemeral in-memory database.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	var dsn string
	if cfg.Path == ":memory:" {
		dsn = ""
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, threads)
		if cfg.MaxMemory != "" {
			dsn += "&max_memory=" + cfg.MaxMemory
		}
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// DuckDB is an embedded single-writer engine; one connection avoids
	// write conflicts between pooled handles.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("catalog store opened")
	return s, nil
}

// migrate creates the schema. Statements are idempotent; there is no
// versioned migration history yet because the schema has had one shape.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalog_records (
			id UUID PRIMARY KEY,
			kind VARCHAR NOT NULL,
			title VARCHAR NOT NULL,
			title_normalized VARCHAR NOT NULL,
			subtitle VARCHAR,
			description VARCHAR,
			release_date DATE,
			cover_url VARCHAR,
			canonical_url VARCHAR,
			metadata VARCHAR,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS movie_extensions (
			record_id UUID PRIMARY KEY,
			runtime_minutes INTEGER,
			director VARCHAR,
			rating DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS show_extensions (
			record_id UUID PRIMARY KEY,
			seasons INTEGER,
			episodes INTEGER,
			network VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS book_extensions (
			record_id UUID PRIMARY KEY,
			authors VARCHAR,
			pages INTEGER,
			isbn13 VARCHAR,
			publisher VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS game_extensions (
			record_id UUID PRIMARY KEY,
			platforms VARCHAR,
			developer VARCHAR,
			rating DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS album_extensions (
			record_id UUID PRIMARY KEY,
			artist VARCHAR,
			tracks INTEGER,
			label VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS provenance_records (
			id UUID PRIMARY KEY,
			record_id UUID NOT NULL,
			provider VARCHAR NOT NULL,
			provider_id VARCHAR NOT NULL,
			raw_payload BLOB,
			truncation_reason VARCHAR,
			fetched_at TIMESTAMP NOT NULL,
			redacted BOOLEAN NOT NULL DEFAULT FALSE,
			redacted_at TIMESTAMP,
			UNIQUE (provider, provider_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_kind ON catalog_records(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_title_normalized ON catalog_records(title_normalized)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_record ON provenance_records(record_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
