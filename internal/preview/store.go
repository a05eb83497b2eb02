// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package preview stores ephemeral external-candidate previews in BadgerDB.
// Previews carry an absolute expiry: a read at or after ExpiresAt behaves
// exactly like a missing key regardless of whether Badger has physically
// dropped the entry yet.
package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/metrics"
	"github.com/curioproject/curio/internal/models"
)

// ErrNotFound is returned for previews that never existed or have expired.
// The two cases are indistinguishable to callers.
var ErrNotFound = errors.New("preview not found")

const previewKeyPrefix = "preview:"

// Store persists previews with a fixed TTL.
type Store struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens the Badger database and returns a Store. The caller owns Close.
func Open(cfg config.CacheConfig, ttl time.Duration) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open preview store: %w", err)
	}

	return NewStore(db, ttl), nil
}

// NewStore wraps an already-open Badger database.
func NewStore(db *badger.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a preview built from an external candidate and returns the
// stored record. The record's PreviewID and ExpiresAt are assigned here;
// owner is the subject whose search produced the candidate.
func (s *Store) Put(ctx context.Context, owner string, candidate *models.NormalizedCandidate, metadataValueCap int) (*models.PreviewRecord, error) {
	now := s.now()
	record := &models.PreviewRecord{
		PreviewID:    uuid.NewString(),
		Owner:        owner,
		Provider:     candidate.Provider,
		ProviderID:   candidate.ProviderID,
		Kind:         candidate.Kind,
		Title:        candidate.Title,
		Subtitle:     candidate.Subtitle,
		Description:  capString(candidate.Description, metadataValueCap),
		ReleaseDate:  candidate.ReleaseDate,
		CoverURL:     candidate.CoverURL,
		CanonicalURL: candidate.CanonicalURL,
		Metadata:     capMetadata(candidate.Metadata, metadataValueCap),
		ExpiresAt:    now.Add(s.ttl),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal preview: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(previewKeyPrefix+record.PreviewID), data).
			WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return nil, fmt.Errorf("store preview: %w", err)
	}

	metrics.PreviewsCreated.Inc()
	return record, nil
}

// Get retrieves a preview by ID. Expired previews return ErrNotFound even if
// Badger still holds the entry.
func (s *Store) Get(ctx context.Context, previewID string) (*models.PreviewRecord, error) {
	var record models.PreviewRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(previewKeyPrefix + previewID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get preview: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, err
	}

	if record.Expired(s.now()) {
		metrics.PreviewExpiredReads.Inc()
		return nil, ErrNotFound
	}

	return &record, nil
}

// RunGC periodically triggers Badger value-log garbage collection until the
// context is canceled. Suitable as a suture service body.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("preview store GC failed")
			}
		}
	}
}

// capString truncates a pointer string to max bytes, preserving nil.
func capString(s *string, max int) *string {
	if s == nil || max <= 0 || len(*s) <= max {
		return s
	}
	capped := (*s)[:max]
	return &capped
}

// capMetadata truncates each metadata value to max bytes.
func capMetadata(m map[string]string, max int) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if max > 0 && len(v) > max {
			v = v[:max]
		}
		out[k] = v
	}
	return out
}
