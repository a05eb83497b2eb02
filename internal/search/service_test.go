// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/curioproject/curio/internal/breaker"
	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/connector"
	"github.com/curioproject/curio/internal/models"
	"github.com/curioproject/curio/internal/quota"
)

type fakeCatalog struct {
	records []models.CatalogRecord
	err     error
}

func (f *fakeCatalog) SearchRecords(ctx context.Context, query string, kinds []models.MediaKind, limit int) ([]models.CatalogRecord, error) {
	return f.records, f.err
}

type fakePreviews struct {
	stored int
	fail   bool
}

func (f *fakePreviews) Put(ctx context.Context, owner string, c *models.NormalizedCandidate, metadataCap int) (*models.PreviewRecord, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	f.stored++
	return &models.PreviewRecord{
		PreviewID:  uuid.NewString(),
		Owner:      owner,
		Provider:   c.Provider,
		ProviderID: c.ProviderID,
		Kind:       c.Kind,
		Title:      c.Title,
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}, nil
}

type fakeConnector struct {
	name       string
	kinds      []models.MediaKind
	candidates []models.NormalizedCandidate
	err        error
	delay      time.Duration
}

func (f *fakeConnector) Name() string              { return f.name }
func (f *fakeConnector) Kinds() []models.MediaKind { return f.kinds }

func (f *fakeConnector) Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.candidates, f.err
}

func (f *fakeConnector) Fetch(ctx context.Context, providerID string) (*models.NormalizedCandidate, error) {
	return nil, errors.New("not implemented")
}

var _ connector.Connector = (*fakeConnector)(nil)

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		QuotaWindow:          time.Minute,
		QuotaMaxRequests:     10,
		QuotaPolicy:          config.QuotaPolicyRejectExternal,
		ProviderTimeout:      200 * time.Millisecond,
		AggregateTimeout:     400 * time.Millisecond,
		PreviewTTL:           15 * time.Minute,
		DefaultProviderLimit: 10,
		MaxProviderLimit:     25,
		DefaultPageSize:      20,
		MaxPageSize:          100,
	}
}

func newTestService(cat *fakeCatalog, prev *fakePreviews, conns []connector.Connector, cfg config.SearchConfig) *Service {
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
	enforcer := quota.NewEnforcer(cfg.QuotaWindow, cfg.QuotaMaxRequests)

	return NewService(cat, prev, conns, breakers, enforcer, cfg, 4096)
}

func movieCandidate(provider, id, title string) models.NormalizedCandidate {
	return models.NormalizedCandidate{
		Provider:   provider,
		ProviderID: id,
		Kind:       models.KindMovie,
		Title:      title,
	}
}

func TestSearchInternalOnly(t *testing.T) {
	cat := &fakeCatalog{records: []models.CatalogRecord{
		{ID: uuid.New(), Kind: models.KindMovie, Title: "Blade Runner"},
	}}
	svc := newTestService(cat, &fakePreviews{}, nil, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner", Kinds: []models.MediaKind{models.KindMovie},
		Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if resp.Source != models.SourceInternal {
		t.Errorf("source = %q, want internal", resp.Source)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID == nil {
		t.Errorf("results = %+v", resp.Results)
	}
	if resp.Results[0].PreviewID != "" {
		t.Error("internal results must not carry preview IDs")
	}
}

func TestSearchWithExternalFanOut(t *testing.T) {
	cat := &fakeCatalog{}
	prev := &fakePreviews{}
	conns := []connector.Connector{
		&fakeConnector{
			name:  "tmdb",
			kinds: []models.MediaKind{models.KindMovie, models.KindShow},
			candidates: []models.NormalizedCandidate{
				movieCandidate("tmdb", "movie:78", "Blade Runner"),
				movieCandidate("tmdb", "movie:335984", "Blade Runner 2049"),
			},
		},
		&fakeConnector{
			name:  "google_books",
			kinds: []models.MediaKind{models.KindBook},
		},
	}
	svc := newTestService(cat, prev, conns, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner", Kinds: []models.MediaKind{models.KindMovie},
		IncludeExternal: true, Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	if resp.Source != models.SourceInternalExternal {
		t.Errorf("source = %q", resp.Source)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	for _, r := range resp.Results {
		if r.PreviewID == "" {
			t.Error("external result missing preview handle")
		}
		if r.PreviewExpiresAt == nil {
			t.Error("external result missing preview expiry")
		}
	}
	if prev.stored != 2 {
		t.Errorf("stored %d previews, want 2", prev.stored)
	}
	if stats, ok := resp.Sources["tmdb"]; !ok || stats.Count != 2 {
		t.Errorf("tmdb source stats = %+v", resp.Sources)
	}
	// The book provider does not serve movies and must not be consulted.
	if _, ok := resp.Sources["google_books"]; ok {
		t.Error("google_books should not appear for a movie search")
	}
}

func TestSearchProviderFailureIsPartial(t *testing.T) {
	cat := &fakeCatalog{records: []models.CatalogRecord{
		{ID: uuid.New(), Kind: models.KindMovie, Title: "Blade Runner"},
	}}
	conns := []connector.Connector{
		&fakeConnector{
			name:  "tmdb",
			kinds: []models.MediaKind{models.KindMovie},
			err:   errors.New("upstream 500"),
		},
	}
	svc := newTestService(cat, &fakePreviews{}, conns, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner", Kinds: []models.MediaKind{models.KindMovie},
		IncludeExternal: true, Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("one failing provider must not fail the request: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("got %d results, want the internal one", len(resp.Results))
	}
	if resp.ProviderErrors["tmdb"] != "CONNECTOR_ERROR" {
		t.Errorf("provider errors = %v", resp.ProviderErrors)
	}
}

func TestSearchSlowProviderTimesOut(t *testing.T) {
	cfg := testSearchConfig()
	cfg.ProviderTimeout = 50 * time.Millisecond
	cfg.AggregateTimeout = 100 * time.Millisecond

	conns := []connector.Connector{
		&fakeConnector{
			name:  "tmdb",
			kinds: []models.MediaKind{models.KindMovie},
			delay: time.Second,
		},
		&fakeConnector{
			name:       "igdb",
			kinds:      []models.MediaKind{models.KindMovie}, // contrived, but exercises the path
			candidates: []models.NormalizedCandidate{movieCandidate("igdb", "1", "Blade Runner Game")},
		},
	}
	svc := newTestService(&fakeCatalog{}, &fakePreviews{}, conns, cfg)

	start := time.Now()
	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner", Kinds: []models.MediaKind{models.KindMovie},
		IncludeExternal: true, Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("search took %s, aggregate timeout not honored", elapsed)
	}
	if len(resp.Results) != 1 {
		t.Errorf("got %d results, want the fast provider's", len(resp.Results))
	}
	if code := resp.ProviderErrors["tmdb"]; code != "TIMEOUT" {
		t.Errorf("tmdb error code = %q, want TIMEOUT", code)
	}
}

func TestSearchQuotaRejectExternalPolicy(t *testing.T) {
	cfg := testSearchConfig()
	cfg.QuotaMaxRequests = 1
	cfg.QuotaPolicy = config.QuotaPolicyRejectExternal

	cat := &fakeCatalog{records: []models.CatalogRecord{
		{ID: uuid.New(), Kind: models.KindMovie, Title: "Blade Runner"},
	}}
	conns := []connector.Connector{
		&fakeConnector{
			name:       "tmdb",
			kinds:      []models.MediaKind{models.KindMovie},
			candidates: []models.NormalizedCandidate{movieCandidate("tmdb", "movie:78", "Other")},
		},
	}
	svc := newTestService(cat, &fakePreviews{}, conns, cfg)
	req := Request{
		UserID: "alice", Query: "blade runner", Kinds: []models.MediaKind{models.KindMovie},
		IncludeExternal: true, Page: 1, PageSize: 20,
	}

	if _, err := svc.Search(context.Background(), req); err != nil {
		t.Fatalf("first search: %v", err)
	}

	resp, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("second search should degrade, not fail: %v", err)
	}
	if resp.Source != models.SourceInternal {
		t.Errorf("source = %q, want internal-only under quota denial", resp.Source)
	}
	if len(resp.Results) != 1 {
		t.Errorf("got %d results, want the internal one", len(resp.Results))
	}
	if resp.ProviderErrors["external"] != "QUOTA_EXCEEDED" {
		t.Errorf("provider errors = %v", resp.ProviderErrors)
	}
}

func TestSearchQuotaRejectRequestPolicy(t *testing.T) {
	cfg := testSearchConfig()
	cfg.QuotaMaxRequests = 1
	cfg.QuotaPolicy = config.QuotaPolicyRejectRequest

	svc := newTestService(&fakeCatalog{}, &fakePreviews{}, nil, cfg)
	req := Request{
		UserID: "alice", Query: "x", Kinds: []models.MediaKind{models.KindMovie},
		IncludeExternal: true, Page: 1, PageSize: 20,
	}

	if _, err := svc.Search(context.Background(), req); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if _, err := svc.Search(context.Background(), req); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("got %v, want ErrQuotaExceeded", err)
	}
}

func TestSearchInternalOnlyDoesNotConsumeQuota(t *testing.T) {
	cfg := testSearchConfig()
	cfg.QuotaMaxRequests = 1
	cfg.QuotaPolicy = config.QuotaPolicyRejectRequest

	svc := newTestService(&fakeCatalog{}, &fakePreviews{}, nil, cfg)

	for i := 0; i < 5; i++ {
		if _, err := svc.Search(context.Background(), Request{
			UserID: "alice", Query: "x", Kinds: []models.MediaKind{models.KindMovie},
			Page: 1, PageSize: 20,
		}); err != nil {
			t.Fatalf("internal-only search %d consumed quota: %v", i, err)
		}
	}
}

func TestSearchPagination(t *testing.T) {
	var records []models.CatalogRecord
	for i := 0; i < 25; i++ {
		records = append(records, models.CatalogRecord{
			ID: uuid.New(), Kind: models.KindMovie, Title: "Movie",
		})
	}
	svc := newTestService(&fakeCatalog{records: records}, &fakePreviews{}, nil, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "movie", Kinds: []models.MediaKind{models.KindMovie},
		Page: 2, PageSize: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Pagination.Total != 25 {
		t.Errorf("total = %d, want 25", resp.Pagination.Total)
	}
	if len(resp.Results) != 10 {
		t.Errorf("page 2 size = %d, want 10", len(resp.Results))
	}

	resp, err = svc.Search(context.Background(), Request{
		UserID: "alice", Query: "movie", Kinds: []models.MediaKind{models.KindMovie},
		Page: 3, PageSize: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 5 {
		t.Errorf("page 3 size = %d, want 5", len(resp.Results))
	}

	resp, err = svc.Search(context.Background(), Request{
		UserID: "alice", Query: "movie", Kinds: []models.MediaKind{models.KindMovie},
		Page: 4, PageSize: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("page past the end should be empty, got %d", len(resp.Results))
	}
}

func TestSearchProviderFilterRestrictsFanOut(t *testing.T) {
	prev := &fakePreviews{}
	conns := []connector.Connector{
		&fakeConnector{
			name:       "tmdb",
			kinds:      []models.MediaKind{models.KindMovie},
			candidates: []models.NormalizedCandidate{movieCandidate("tmdb", "movie:78", "Blade Runner")},
		},
		&fakeConnector{
			name:  "igdb",
			kinds: []models.MediaKind{models.KindGame},
			candidates: []models.NormalizedCandidate{{
				Provider: "igdb", ProviderID: "1", Kind: models.KindGame, Title: "Blade Runner",
			}},
		},
	}
	svc := newTestService(&fakeCatalog{}, prev, conns, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner",
		Providers:       []string{"igdb"},
		IncludeExternal: true, Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Provider != "igdb" {
		t.Errorf("results = %+v, want only the igdb candidate", resp.Results)
	}
	if _, ok := resp.Sources["tmdb"]; ok {
		t.Error("tmdb was excluded by the provider filter and must not be consulted")
	}
}

func TestSearchProviderOrderFollowsRequest(t *testing.T) {
	conns := []connector.Connector{
		&fakeConnector{
			name:       "tmdb",
			kinds:      []models.MediaKind{models.KindMovie},
			candidates: []models.NormalizedCandidate{movieCandidate("tmdb", "movie:78", "Blade Runner")},
		},
		&fakeConnector{
			name:  "spotify",
			kinds: []models.MediaKind{models.KindAlbum},
			candidates: []models.NormalizedCandidate{{
				Provider: "spotify", ProviderID: "alb1", Kind: models.KindAlbum, Title: "Blade Runner",
			}},
		},
	}
	svc := newTestService(&fakeCatalog{}, &fakePreviews{}, conns, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner",
		Providers:       []string{"spotify", "tmdb"},
		IncludeExternal: true, Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	// Slots follow the requested provider order, not registration order.
	if resp.Results[0].Provider != "spotify" || resp.Results[1].Provider != "tmdb" {
		t.Errorf("result order = %s, %s; want spotify, tmdb",
			resp.Results[0].Provider, resp.Results[1].Provider)
	}
}

func TestSearchFailedProviderContributesNothing(t *testing.T) {
	conns := []connector.Connector{
		&fakeConnector{
			name:       "tmdb",
			kinds:      []models.MediaKind{models.KindMovie},
			candidates: []models.NormalizedCandidate{movieCandidate("tmdb", "movie:78", "Blade Runner")},
			err:        errors.New("upstream 500"),
		},
	}
	svc := newTestService(&fakeCatalog{}, &fakePreviews{}, conns, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner", Kinds: []models.MediaKind{models.KindMovie},
		IncludeExternal: true, Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("got %d results, want 0 (failed provider must contribute nothing)", len(resp.Results))
	}
	if _, ok := resp.Sources["tmdb"]; ok {
		t.Error("failed provider must not appear in source stats")
	}
	if resp.ProviderErrors["tmdb"] != "CONNECTOR_ERROR" {
		t.Errorf("provider errors = %v", resp.ProviderErrors)
	}
}

func TestSearchProviderLimitCapsResults(t *testing.T) {
	var candidates []models.NormalizedCandidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, movieCandidate("tmdb", uuid.NewString(), "Movie"))
	}
	// The fake ignores the limit argument, so assert via what the service
	// passed down instead.
	var gotLimit int
	conns := []connector.Connector{
		&limitRecordingConnector{fakeConnector{
			name:       "tmdb",
			kinds:      []models.MediaKind{models.KindMovie},
			candidates: candidates,
		}, &gotLimit},
	}
	cfg := testSearchConfig()
	cfg.MaxProviderLimit = 5
	svc := newTestService(&fakeCatalog{}, &fakePreviews{}, conns, cfg)

	if _, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "movie", Kinds: []models.MediaKind{models.KindMovie},
		ProviderLimit:   50,
		IncludeExternal: true, Page: 1, PageSize: 20,
	}); err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if gotLimit != 5 {
		t.Errorf("provider limit = %d, want capped to 5", gotLimit)
	}
}

type limitRecordingConnector struct {
	fakeConnector
	limit *int
}

func (c *limitRecordingConnector) Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error) {
	*c.limit = limit
	return c.fakeConnector.Search(ctx, query, kind, limit)
}

func TestSearchPreviewFailureDropsCandidate(t *testing.T) {
	conns := []connector.Connector{
		&fakeConnector{
			name:       "tmdb",
			kinds:      []models.MediaKind{models.KindMovie},
			candidates: []models.NormalizedCandidate{movieCandidate("tmdb", "movie:78", "Blade Runner")},
		},
	}
	svc := newTestService(&fakeCatalog{}, &fakePreviews{fail: true}, conns, testSearchConfig())

	resp, err := svc.Search(context.Background(), Request{
		UserID: "alice", Query: "blade runner", Kinds: []models.MediaKind{models.KindMovie},
		IncludeExternal: true, Page: 1, PageSize: 20,
	})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Error("candidates without a preview handle must be dropped")
	}
}
