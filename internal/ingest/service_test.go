// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/curioproject/curio/internal/breaker"
	"github.com/curioproject/curio/internal/catalog"
	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/connector"
	"github.com/curioproject/curio/internal/models"
)

type fakeConnector struct {
	name       string
	candidate  *models.NormalizedCandidate
	err        error
	fetchCalls int
}

func (f *fakeConnector) Name() string              { return f.name }
func (f *fakeConnector) Kinds() []models.MediaKind { return []models.MediaKind{models.KindMovie} }

func (f *fakeConnector) Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConnector) Fetch(ctx context.Context, providerID string) (*models.NormalizedCandidate, error) {
	f.fetchCalls++
	if f.err != nil {
		return nil, f.err
	}
	c := *f.candidate
	return &c, nil
}

var _ connector.Connector = (*fakeConnector)(nil)

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		RawPayloadMaxBytes:    64 * 1024,
		MetadataValueMaxBytes: 4096,
		RedactAfter:           90 * 24 * time.Hour,
		RedactSweepInterval:   time.Hour,
	}
}

func newTestService(t *testing.T, conns ...connector.Connector) (*Service, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	names := make([]string, 0, len(conns))
	for _, c := range conns {
		names = append(names, c.Name())
	}
	breakers := breaker.NewRegistry(config.BreakerConfig{
		FailureThreshold: 5,
		CooldownBase:     time.Second,
		CooldownMax:      time.Minute,
		Interval:         time.Minute,
	}, names)

	return NewService(store, conns, breakers, testIngestConfig()), store
}

func movieCandidate() *models.NormalizedCandidate {
	date := time.Date(1982, 6, 25, 0, 0, 0, 0, time.UTC)
	return &models.NormalizedCandidate{
		Provider:    "tmdb",
		ProviderID:  "movie:78",
		Kind:        models.KindMovie,
		Title:       "Blade Runner",
		ReleaseDate: &date,
		Metadata:    map[string]string{"genres": "science fiction"},
		Movie:       &models.MovieExtension{RuntimeMinutes: 117, Director: "Ridley Scott"},
		Raw:         []byte(`{"id":78,"title":"Blade Runner"}`),
	}
}

func TestIngestCreatesRecord(t *testing.T) {
	conn := &fakeConnector{name: "tmdb", candidate: movieCandidate()}
	svc, store := newTestService(t, conn)

	res, err := svc.Ingest(context.Background(), Request{Provider: "tmdb", ProviderID: "movie:78"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("outcome = %q, want created", res.Outcome)
	}
	if res.Record.Title != "Blade Runner" || res.Record.Movie == nil {
		t.Errorf("record = %+v", res.Record)
	}

	_, prov, err := store.FindByProviderKey(context.Background(), "tmdb", "movie:78")
	if err != nil {
		t.Fatalf("record not durable: %v", err)
	}
	if string(prov.RawPayload) != `{"id":78,"title":"Blade Runner"}` {
		t.Errorf("raw payload = %s", prov.RawPayload)
	}
	if prov.TruncationReason != nil {
		t.Errorf("unexpected truncation: %v", *prov.TruncationReason)
	}
}

func TestIngestIsIdempotentWithoutForceRefresh(t *testing.T) {
	conn := &fakeConnector{name: "tmdb", candidate: movieCandidate()}
	svc, _ := newTestService(t, conn)
	ctx := context.Background()
	req := Request{Provider: "tmdb", ProviderID: "movie:78"}

	first, err := svc.Ingest(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Ingest(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if second.Outcome != OutcomeExisting {
		t.Errorf("outcome = %q, want existing", second.Outcome)
	}
	if second.Record.ID != first.Record.ID {
		t.Errorf("record ID changed: %s != %s", second.Record.ID, first.Record.ID)
	}
	if conn.fetchCalls != 1 {
		t.Errorf("fetch called %d times, the existing path must not refetch", conn.fetchCalls)
	}
}

func TestIngestForceRefreshOverwritesInPlace(t *testing.T) {
	conn := &fakeConnector{name: "tmdb", candidate: movieCandidate()}
	svc, store := newTestService(t, conn)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, Request{Provider: "tmdb", ProviderID: "movie:78"})
	if err != nil {
		t.Fatal(err)
	}

	conn.candidate.Title = "Blade Runner: The Final Cut"
	conn.candidate.Raw = []byte(`{"id":78,"title":"Blade Runner: The Final Cut"}`)

	res, err := svc.Ingest(ctx, Request{Provider: "tmdb", ProviderID: "movie:78", ForceRefresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeRefreshed {
		t.Errorf("outcome = %q, want refreshed", res.Outcome)
	}
	if res.Record.ID != first.Record.ID {
		t.Errorf("force_refresh must keep the record ID stable")
	}
	if conn.fetchCalls != 2 {
		t.Errorf("fetch called %d times, want 2", conn.fetchCalls)
	}

	got, err := store.GetRecord(ctx, first.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Blade Runner: The Final Cut" {
		t.Errorf("title after refresh = %q", got.Title)
	}
}

func TestIngestMissingIdentifier(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Ingest(context.Background(), Request{}); !errors.Is(err, ErrMissingIdentifier) {
		t.Errorf("got %v, want ErrMissingIdentifier", err)
	}
}

func TestIngestUnknownProvider(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Ingest(context.Background(), Request{Provider: "netflix", ProviderID: "1"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("got %v, want ErrUnknownProvider", err)
	}
}

func TestIngestBySourceURL(t *testing.T) {
	conn := &fakeConnector{name: "tmdb", candidate: movieCandidate()}
	svc, _ := newTestService(t, conn)

	res, err := svc.Ingest(context.Background(), Request{
		SourceURL: "https://www.themoviedb.org/movie/78-blade-runner",
	})
	if err != nil {
		t.Fatalf("Ingest by URL: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Errorf("outcome = %q", res.Outcome)
	}
	if res.Provenance.ProviderID != "movie:78" {
		t.Errorf("provider ID = %q, want movie:78", res.Provenance.ProviderID)
	}
}

func TestIngestFetchFailureWritesNothing(t *testing.T) {
	conn := &fakeConnector{name: "tmdb", err: errors.New("upstream 500")}
	svc, store := newTestService(t, conn)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, Request{Provider: "tmdb", ProviderID: "movie:78"}); err == nil {
		t.Fatal("failed fetch must fail the ingestion")
	}
	if _, _, err := store.FindByProviderKey(ctx, "tmdb", "movie:78"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("partial write after failed fetch: %v", err)
	}
}

func TestIngestTruncatesOversizedPayloads(t *testing.T) {
	candidate := movieCandidate()
	candidate.Raw = []byte(strings.Repeat("x", 100*1024))
	candidate.Metadata = map[string]string{"synopsis": strings.Repeat("y", 10*1024)}
	conn := &fakeConnector{name: "tmdb", candidate: candidate}
	svc, _ := newTestService(t, conn)

	res, err := svc.Ingest(context.Background(), Request{Provider: "tmdb", ProviderID: "movie:78"})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Provenance.RawPayload) != 64*1024 {
		t.Errorf("raw payload = %d bytes, want capped at 64KiB", len(res.Provenance.RawPayload))
	}
	if len(res.Record.Metadata["synopsis"]) != 4096 {
		t.Errorf("metadata value = %d bytes, want capped at 4096", len(res.Record.Metadata["synopsis"]))
	}
	if res.Provenance.TruncationReason == nil {
		t.Fatal("truncation must be recorded")
	}
	reason := *res.Provenance.TruncationReason
	if !strings.Contains(reason, "raw_payload") || !strings.Contains(reason, "metadata") {
		t.Errorf("truncation reason = %q", reason)
	}
}

func TestResolveSourceURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		provider   string
		providerID string
		wantErr    bool
	}{
		{"tmdb movie with slug", "https://www.themoviedb.org/movie/78-blade-runner", "tmdb", "movie:78", false},
		{"tmdb tv", "https://themoviedb.org/tv/1396", "tmdb", "tv:1396", false},
		{"google books query id", "https://books.google.com/books?id=PXa2bby0oQ0C", "google_books", "PXa2bby0oQ0C", false},
		{"google books edition", "https://books.google.com/books/edition/Dune/PXa2bby0oQ0C", "google_books", "PXa2bby0oQ0C", false},
		{"spotify album", "https://open.spotify.com/album/4sb0eMpDn3upAFfyi4q2rw", "spotify", "4sb0eMpDn3upAFfyi4q2rw", false},
		{"igdb slug has no id", "https://www.igdb.com/games/blade-runner", "", "", true},
		{"unknown host", "https://example.com/movie/78", "", "", true},
		{"garbage", "not a url", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, providerID, err := resolveSourceURL(tt.url)
			if tt.wantErr {
				if !errors.Is(err, ErrUnresolvableURL) {
					t.Errorf("got %v, want ErrUnresolvableURL", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveSourceURL(%q): %v", tt.url, err)
			}
			if provider != tt.provider || providerID != tt.providerID {
				t.Errorf("got %s/%s, want %s/%s", provider, providerID, tt.provider, tt.providerID)
			}
		})
	}
}

func TestRedactionSweepRuns(t *testing.T) {
	conn := &fakeConnector{name: "tmdb", candidate: movieCandidate()}
	svc, store := newTestService(t, conn)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, Request{Provider: "tmdb", ProviderID: "movie:78"}); err != nil {
		t.Fatal(err)
	}

	// Pretend the ingestion happened past the retention age.
	svc.now = func() time.Time { return time.Now().Add(91 * 24 * time.Hour) }
	cutoff := svc.now().Add(-svc.cfg.RedactAfter)
	if _, err := store.RedactOldPayloads(ctx, cutoff); err != nil {
		t.Fatal(err)
	}

	_, prov, err := store.FindByProviderKey(ctx, "tmdb", "movie:78")
	if err != nil {
		t.Fatal(err)
	}
	if !prov.Redacted || string(prov.RawPayload) != models.RedactedPayloadMarker {
		t.Errorf("provenance after sweep = %+v", prov)
	}
}
