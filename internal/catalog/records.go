// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/curioproject/curio/internal/metrics"
	"github.com/curioproject/curio/internal/models"
	"github.com/curioproject/curio/internal/search"
)

const recordColumns = `id::VARCHAR, kind, title, subtitle, description, release_date,
	cover_url, canonical_url, metadata, created_at, updated_at`

// SearchRecords runs the internal catalog search. Title matches rank ahead
// of metadata-only matches; within a rank, rows order by normalized title
// then release date, so identical queries always return identical pages.
func (s *Store) SearchRecords(ctx context.Context, query string, kinds []models.MediaKind, limit int) ([]models.CatalogRecord, error) {
	start := time.Now()

	normalized := search.NormalizeTitle(query)
	if normalized == "" {
		return nil, nil
	}
	pattern := "%" + normalized + "%"

	placeholders := make([]string, len(kinds))
	args := make([]interface{}, 0, len(kinds)+4)
	args = append(args, pattern)
	for i, k := range kinds {
		placeholders[i] = "?"
		args = append(args, string(k))
	}
	args = append(args, pattern, pattern, limit)

	q := fmt.Sprintf(`
		SELECT %s,
		       CASE WHEN title_normalized LIKE ? THEN 0 ELSE 1 END AS match_rank
		FROM catalog_records
		WHERE kind IN (%s)
		  AND (title_normalized LIKE ? OR lower(coalesce(metadata, '')) LIKE ?)
		ORDER BY match_rank, title_normalized, release_date NULLS LAST, id
		LIMIT ?`, recordColumns, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	metrics.ObserveDBQuery("search", "catalog_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()

	var records []models.CatalogRecord
	for rows.Next() {
		var rec models.CatalogRecord
		var rank int
		if err := scanRecord(rows, &rec, &rank); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}

	for i := range records {
		if err := s.loadExtension(ctx, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// GetRecord fetches one record by ID, extension included.
func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*models.CatalogRecord, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s, 0 FROM catalog_records WHERE id = ?`, recordColumns), id.String())

	var rec models.CatalogRecord
	var rank int
	err := scanRecord(row, &rec, &rank)
	metrics.ObserveDBQuery("get", "catalog_records", start, err)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadExtension(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByProviderKey resolves the (provider, providerID) dedupe key to the
// record it was ingested as, or ErrNotFound.
func (s *Store) FindByProviderKey(ctx context.Context, provider, providerID string) (*models.CatalogRecord, *models.ProvenanceRecord, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx, `
		SELECT id::VARCHAR, record_id::VARCHAR, provider, provider_id, raw_payload,
		       truncation_reason, fetched_at, redacted, redacted_at
		FROM provenance_records
		WHERE provider = ? AND provider_id = ?`, provider, providerID)

	prov, err := scanProvenance(row)
	metrics.ObserveDBQuery("find_by_provider", "provenance_records", start, err)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.GetRecord(ctx, prov.RecordID)
	if err != nil {
		return nil, nil, err
	}
	return rec, prov, nil
}

// UpsertWithProvenance stores a normalized record together with its
// provenance row in one transaction. When the (provider, providerID) key
// already exists the existing record is overwritten in place and keeps its
// ID; refreshed reports which path was taken. rec.ID and prov fields are
// updated to reflect what was stored.
func (s *Store) UpsertWithProvenance(ctx context.Context, rec *models.CatalogRecord, prov *models.ProvenanceRecord) (refreshed bool, err error) {
	if err := rec.ValidateExtension(); err != nil {
		return false, err
	}

	start := time.Now()
	defer func() { metrics.ObserveDBQuery("upsert", "catalog_records", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// DuckDB timestamps carry microseconds; truncate so what we hand back
	// matches what a later read returns.
	now := time.Now().UTC().Truncate(time.Microsecond)

	var existingID string
	switch scanErr := tx.QueryRowContext(ctx, `
		SELECT p.record_id::VARCHAR, r.created_at
		FROM provenance_records p
		JOIN catalog_records r ON r.id = p.record_id
		WHERE p.provider = ? AND p.provider_id = ?`,
		prov.Provider, prov.ProviderID).Scan(&existingID, &rec.CreatedAt); scanErr {
	case nil:
		refreshed = true
		rec.ID, err = uuid.Parse(existingID)
		if err != nil {
			return false, fmt.Errorf("parse existing record id: %w", err)
		}
	case sql.ErrNoRows:
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.CreatedAt = now
	default:
		return false, fmt.Errorf("lookup provenance key: %w", scanErr)
	}
	rec.UpdatedAt = now
	prov.RecordID = rec.ID
	prov.Redacted = false
	prov.RedactedAt = nil

	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return false, err
	}

	if refreshed {
		_, err = tx.ExecContext(ctx, `
			UPDATE catalog_records
			SET kind = ?, title = ?, title_normalized = ?, subtitle = ?,
			    description = ?, release_date = ?, cover_url = ?,
			    canonical_url = ?, metadata = ?, updated_at = ?
			WHERE id = ?`,
			string(rec.Kind), rec.Title, search.NormalizeTitle(rec.Title),
			rec.Subtitle, rec.Description, dateArg(rec.ReleaseDate),
			rec.CoverURL, rec.CanonicalURL, metadata, rec.UpdatedAt,
			rec.ID.String())
		if err != nil {
			return false, fmt.Errorf("update record: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE provenance_records
			SET raw_payload = ?, truncation_reason = ?, fetched_at = ?,
			    redacted = FALSE, redacted_at = NULL
			WHERE provider = ? AND provider_id = ?`,
			prov.RawPayload, prov.TruncationReason, prov.FetchedAt.UTC(),
			prov.Provider, prov.ProviderID)
		if err != nil {
			return false, fmt.Errorf("update provenance: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO catalog_records
				(id, kind, title, title_normalized, subtitle, description,
				 release_date, cover_url, canonical_url, metadata,
				 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID.String(), string(rec.Kind), rec.Title,
			search.NormalizeTitle(rec.Title),
			rec.Subtitle, rec.Description, dateArg(rec.ReleaseDate),
			rec.CoverURL, rec.CanonicalURL, metadata,
			rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return false, fmt.Errorf("insert record: %w", err)
		}

		if prov.ID == uuid.Nil {
			prov.ID = uuid.New()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO provenance_records
				(id, record_id, provider, provider_id, raw_payload,
				 truncation_reason, fetched_at, redacted)
			VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)`,
			prov.ID.String(), prov.RecordID.String(), prov.Provider,
			prov.ProviderID, prov.RawPayload, prov.TruncationReason,
			prov.FetchedAt.UTC())
		if err != nil {
			return false, fmt.Errorf("insert provenance: %w", err)
		}
	}

	if err = s.saveExtension(ctx, tx, rec); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return refreshed, nil
}

// extensionTables lists every per-kind table; the refresh path clears all of
// them for a record because a refresh may change the record's kind.
var extensionTables = []string{
	"movie_extensions", "show_extensions", "book_extensions",
	"game_extensions", "album_extensions",
}

func (s *Store) saveExtension(ctx context.Context, tx *sql.Tx, rec *models.CatalogRecord) error {
	for _, table := range extensionTables {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE record_id = ?`, rec.ID.String()); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	id := rec.ID.String()
	var err error
	switch rec.Kind {
	case models.KindMovie:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO movie_extensions (record_id, runtime_minutes, director, rating)
			VALUES (?, ?, ?, ?)`,
			id, rec.Movie.RuntimeMinutes, rec.Movie.Director, rec.Movie.Rating)
	case models.KindShow:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO show_extensions (record_id, seasons, episodes, network)
			VALUES (?, ?, ?, ?)`,
			id, rec.Show.Seasons, rec.Show.Episodes, rec.Show.Network)
	case models.KindBook:
		var authors []byte
		authors, err = json.Marshal(rec.Book.Authors)
		if err != nil {
			return fmt.Errorf("marshal authors: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO book_extensions (record_id, authors, pages, isbn13, publisher)
			VALUES (?, ?, ?, ?, ?)`,
			id, string(authors), rec.Book.Pages, rec.Book.ISBN13, rec.Book.Publisher)
	case models.KindGame:
		var platforms []byte
		platforms, err = json.Marshal(rec.Game.Platforms)
		if err != nil {
			return fmt.Errorf("marshal platforms: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO game_extensions (record_id, platforms, developer, rating)
			VALUES (?, ?, ?, ?)`,
			id, string(platforms), rec.Game.Developer, rec.Game.Rating)
	case models.KindAlbum:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO album_extensions (record_id, artist, tracks, label)
			VALUES (?, ?, ?, ?)`,
			id, rec.Album.Artist, rec.Album.Tracks, rec.Album.Label)
	}
	if err != nil {
		return fmt.Errorf("insert %s extension: %w", rec.Kind, err)
	}
	return nil
}

func (s *Store) loadExtension(ctx context.Context, rec *models.CatalogRecord) error {
	id := rec.ID.String()
	var err error
	switch rec.Kind {
	case models.KindMovie:
		ext := &models.MovieExtension{}
		err = s.db.QueryRowContext(ctx,
			`SELECT coalesce(runtime_minutes, 0), coalesce(director, ''), coalesce(rating, 0)
			 FROM movie_extensions WHERE record_id = ?`, id).
			Scan(&ext.RuntimeMinutes, &ext.Director, &ext.Rating)
		rec.Movie = ext
	case models.KindShow:
		ext := &models.ShowExtension{}
		err = s.db.QueryRowContext(ctx,
			`SELECT coalesce(seasons, 0), coalesce(episodes, 0), coalesce(network, '')
			 FROM show_extensions WHERE record_id = ?`, id).
			Scan(&ext.Seasons, &ext.Episodes, &ext.Network)
		rec.Show = ext
	case models.KindBook:
		ext := &models.BookExtension{}
		var authors string
		err = s.db.QueryRowContext(ctx,
			`SELECT coalesce(authors, '[]'), coalesce(pages, 0), coalesce(isbn13, ''), coalesce(publisher, '')
			 FROM book_extensions WHERE record_id = ?`, id).
			Scan(&authors, &ext.Pages, &ext.ISBN13, &ext.Publisher)
		if err == nil {
			if uerr := json.Unmarshal([]byte(authors), &ext.Authors); uerr != nil {
				return fmt.Errorf("unmarshal authors: %w", uerr)
			}
		}
		rec.Book = ext
	case models.KindGame:
		ext := &models.GameExtension{}
		var platforms string
		err = s.db.QueryRowContext(ctx,
			`SELECT coalesce(platforms, '[]'), coalesce(developer, ''), coalesce(rating, 0)
			 FROM game_extensions WHERE record_id = ?`, id).
			Scan(&platforms, &ext.Developer, &ext.Rating)
		if err == nil {
			if uerr := json.Unmarshal([]byte(platforms), &ext.Platforms); uerr != nil {
				return fmt.Errorf("unmarshal platforms: %w", uerr)
			}
		}
		rec.Game = ext
	case models.KindAlbum:
		ext := &models.AlbumExtension{}
		err = s.db.QueryRowContext(ctx,
			`SELECT coalesce(artist, ''), coalesce(tracks, 0), coalesce(label, '')
			 FROM album_extensions WHERE record_id = ?`, id).
			Scan(&ext.Artist, &ext.Tracks, &ext.Label)
		rec.Album = ext
	}
	if err == sql.ErrNoRows {
		// A record without its extension row violates the schema contract.
		return fmt.Errorf("catalog record %s: missing %s extension row", rec.ID, rec.Kind)
	}
	if err != nil {
		return fmt.Errorf("load %s extension: %w", rec.Kind, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner, rec *models.CatalogRecord, rank *int) error {
	var (
		idStr        string
		kind         string
		subtitle     sql.NullString
		description  sql.NullString
		releaseDate  sql.NullTime
		coverURL     sql.NullString
		canonicalURL sql.NullString
		metadata     sql.NullString
	)

	if err := row.Scan(&idStr, &kind, &rec.Title, &subtitle, &description,
		&releaseDate, &coverURL, &canonicalURL, &metadata,
		&rec.CreatedAt, &rec.UpdatedAt, rank); err != nil {
		return err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("parse record id: %w", err)
	}
	rec.ID = id
	rec.Kind = models.MediaKind(kind)
	rec.Subtitle = nullStringPtr(subtitle)
	rec.Description = nullStringPtr(description)
	rec.CoverURL = nullStringPtr(coverURL)
	rec.CanonicalURL = nullStringPtr(canonicalURL)

	if releaseDate.Valid {
		d := releaseDate.Time.UTC()
		rec.ReleaseDate = &d
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return nil
}

func marshalMetadata(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func dateArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
