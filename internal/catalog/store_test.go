// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func datePtr(y, m, d int) *time.Time {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return &t
}

func movieRecord(title string, date *time.Time) *models.CatalogRecord {
	return &models.CatalogRecord{
		Kind:        models.KindMovie,
		Title:       title,
		ReleaseDate: date,
		Metadata:    map[string]string{"genres": "science fiction"},
		Movie: &models.MovieExtension{
			RuntimeMinutes: 117,
			Director:       "Ridley Scott",
			Rating:         8.1,
		},
	}
}

func provenanceFor(provider, providerID string) *models.ProvenanceRecord {
	return &models.ProvenanceRecord{
		Provider:   provider,
		ProviderID: providerID,
		RawPayload: []byte(`{"id":78,"title":"Blade Runner"}`),
		FetchedAt:  time.Now().UTC(),
	}
}

func TestUpsertAndGetRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := movieRecord("Blade Runner", datePtr(1982, 6, 25))
	refreshed, err := s.UpsertWithProvenance(ctx, rec, provenanceFor("tmdb", "movie:78"))
	if err != nil {
		t.Fatalf("UpsertWithProvenance: %v", err)
	}
	if refreshed {
		t.Error("first upsert reported refreshed")
	}
	if rec.ID == uuid.Nil {
		t.Fatal("upsert did not assign an ID")
	}

	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Title != "Blade Runner" || got.Kind != models.KindMovie {
		t.Errorf("record = %+v", got)
	}
	if got.ReleaseDate == nil || !got.ReleaseDate.Equal(*rec.ReleaseDate) {
		t.Errorf("release date = %v, want %v", got.ReleaseDate, rec.ReleaseDate)
	}
	if got.Movie == nil || got.Movie.Director != "Ridley Scott" {
		t.Errorf("movie extension = %+v", got.Movie)
	}
	if got.Metadata["genres"] != "science fiction" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetRecord(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestUpsertRefreshKeepsRecordID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := movieRecord("Blade Runner", datePtr(1982, 6, 25))
	if _, err := s.UpsertWithProvenance(ctx, first, provenanceFor("tmdb", "movie:78")); err != nil {
		t.Fatal(err)
	}

	second := movieRecord("Blade Runner: The Final Cut", datePtr(1982, 6, 25))
	refreshed, err := s.UpsertWithProvenance(ctx, second, provenanceFor("tmdb", "movie:78"))
	if err != nil {
		t.Fatalf("refresh upsert: %v", err)
	}
	if !refreshed {
		t.Error("second upsert with same provider key should report refreshed")
	}
	if second.ID != first.ID {
		t.Errorf("record ID changed on refresh: %s != %s", second.ID, first.ID)
	}
	if second.CreatedAt.IsZero() || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed on refresh: %v != %v", second.CreatedAt, first.CreatedAt)
	}

	got, err := s.GetRecord(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Blade Runner: The Final Cut" {
		t.Errorf("title after refresh = %q", got.Title)
	}

	// Still exactly one record.
	records, err := s.SearchRecords(ctx, "blade runner", models.AllMediaKinds, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after refresh, want 1", len(records))
	}
}

func TestUpsertRefreshCanChangeKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertWithProvenance(ctx,
		movieRecord("Blade Runner", nil), provenanceFor("tmdb", "movie:78")); err != nil {
		t.Fatal(err)
	}

	book := &models.CatalogRecord{
		Kind:  models.KindBook,
		Title: "Do Androids Dream of Electric Sheep?",
		Book: &models.BookExtension{
			Authors: []string{"Philip K. Dick"},
			ISBN13:  "9780345404473",
		},
	}
	if _, err := s.UpsertWithProvenance(ctx, book, provenanceFor("tmdb", "movie:78")); err != nil {
		t.Fatalf("kind-changing refresh: %v", err)
	}

	got, err := s.GetRecord(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != models.KindBook || got.Book == nil {
		t.Fatalf("record after kind change = %+v", got)
	}
	if got.Movie != nil {
		t.Error("stale movie extension survived the kind change")
	}
	if len(got.Book.Authors) != 1 || got.Book.Authors[0] != "Philip K. Dick" {
		t.Errorf("authors = %v", got.Book.Authors)
	}
}

func TestUpsertRejectsMismatchedExtension(t *testing.T) {
	s := newTestStore(t)

	rec := &models.CatalogRecord{
		Kind:  models.KindMovie,
		Title: "Broken",
		Book:  &models.BookExtension{}, // wrong extension for the kind
	}
	if _, err := s.UpsertWithProvenance(context.Background(), rec,
		provenanceFor("tmdb", "movie:1")); err == nil {
		t.Error("mismatched extension must be rejected")
	}
}

func TestSearchRecordsTitleMatchesRankFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Title match.
	if _, err := s.UpsertWithProvenance(ctx,
		movieRecord("Blade Runner", datePtr(1982, 6, 25)),
		provenanceFor("tmdb", "movie:78")); err != nil {
		t.Fatal(err)
	}

	// Metadata-only match: the query string only appears in metadata.
	other := movieRecord("Soldier", datePtr(1998, 10, 23))
	other.Metadata = map[string]string{"note": "spiritual successor to blade runner"}
	if _, err := s.UpsertWithProvenance(ctx, other,
		provenanceFor("tmdb", "movie:9509")); err != nil {
		t.Fatal(err)
	}

	records, err := s.SearchRecords(ctx, "Blade Runner", models.AllMediaKinds, 10)
	if err != nil {
		t.Fatalf("SearchRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Title != "Blade Runner" {
		t.Errorf("first result = %q, title matches must rank ahead of metadata matches", records[0].Title)
	}
	if records[1].Title != "Soldier" {
		t.Errorf("second result = %q", records[1].Title)
	}
}

func TestSearchRecordsKindFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertWithProvenance(ctx,
		movieRecord("Blade Runner", nil), provenanceFor("tmdb", "movie:78")); err != nil {
		t.Fatal(err)
	}
	album := &models.CatalogRecord{
		Kind:  models.KindAlbum,
		Title: "Blade Runner",
		Album: &models.AlbumExtension{Artist: "Vangelis", Tracks: 12},
	}
	if _, err := s.UpsertWithProvenance(ctx, album,
		provenanceFor("spotify", "alb1")); err != nil {
		t.Fatal(err)
	}

	records, err := s.SearchRecords(ctx, "blade runner",
		[]models.MediaKind{models.KindAlbum}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Kind != models.KindAlbum {
		t.Errorf("records = %+v, want only the album", records)
	}
	if records[0].Album == nil || records[0].Album.Artist != "Vangelis" {
		t.Errorf("album extension = %+v", records[0].Album)
	}
}

func TestSearchRecordsNormalizesQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := movieRecord("Amélie", datePtr(2001, 4, 25))
	if _, err := s.UpsertWithProvenance(ctx, rec, provenanceFor("tmdb", "movie:194")); err != nil {
		t.Fatal(err)
	}

	records, err := s.SearchRecords(ctx, "AMELIE", models.AllMediaKinds, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records for accent-folded query, want 1", len(records))
	}
}

func TestFindByProviderKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := movieRecord("Blade Runner", nil)
	prov := provenanceFor("tmdb", "movie:78")
	prov.TruncationReason = func() *string { r := "raw_payload"; return &r }()
	if _, err := s.UpsertWithProvenance(ctx, rec, prov); err != nil {
		t.Fatal(err)
	}

	gotRec, gotProv, err := s.FindByProviderKey(ctx, "tmdb", "movie:78")
	if err != nil {
		t.Fatalf("FindByProviderKey: %v", err)
	}
	if gotRec.ID != rec.ID {
		t.Errorf("record ID = %s, want %s", gotRec.ID, rec.ID)
	}
	if gotProv.TruncationReason == nil || *gotProv.TruncationReason != "raw_payload" {
		t.Errorf("truncation reason = %v", gotProv.TruncationReason)
	}
	if string(gotProv.RawPayload) != `{"id":78,"title":"Blade Runner"}` {
		t.Errorf("raw payload = %s", gotProv.RawPayload)
	}

	if _, _, err := s.FindByProviderKey(ctx, "tmdb", "movie:404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown key: got %v, want ErrNotFound", err)
	}
}

func TestRedactOldPayloads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := provenanceFor("tmdb", "movie:78")
	old.FetchedAt = time.Now().Add(-100 * 24 * time.Hour)
	if _, err := s.UpsertWithProvenance(ctx, movieRecord("Blade Runner", nil), old); err != nil {
		t.Fatal(err)
	}

	fresh := provenanceFor("tmdb", "movie:335984")
	if _, err := s.UpsertWithProvenance(ctx, movieRecord("Blade Runner 2049", nil), fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.RedactOldPayloads(ctx, time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("RedactOldPayloads: %v", err)
	}
	if n != 1 {
		t.Errorf("redacted %d rows, want 1", n)
	}

	_, gotOld, err := s.FindByProviderKey(ctx, "tmdb", "movie:78")
	if err != nil {
		t.Fatalf("redacted row must survive the sweep: %v", err)
	}
	if !gotOld.Redacted || gotOld.RedactedAt == nil {
		t.Errorf("redaction flags = %v/%v", gotOld.Redacted, gotOld.RedactedAt)
	}
	if string(gotOld.RawPayload) != models.RedactedPayloadMarker {
		t.Errorf("payload = %s, want the redaction marker", gotOld.RawPayload)
	}

	_, gotFresh, err := s.FindByProviderKey(ctx, "tmdb", "movie:335984")
	if err != nil {
		t.Fatal(err)
	}
	if gotFresh.Redacted {
		t.Error("fresh payload must not be redacted")
	}

	// The sweep is idempotent.
	n, err = s.RedactOldPayloads(ctx, time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second sweep redacted %d rows, want 0", n)
	}
}
