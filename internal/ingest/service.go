// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package ingest turns external candidates into durable catalog records:
// resolve, fetch, normalize, truncate, upsert, all or nothing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curioproject/curio/internal/breaker"
	"github.com/curioproject/curio/internal/catalog"
	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/connector"
	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/metrics"
	"github.com/curioproject/curio/internal/models"
)

var (
	// ErrMissingIdentifier means the request carried neither a provider ID
	// pair nor a resolvable source URL.
	ErrMissingIdentifier = errors.New("ingest: missing provider identifier")

	// ErrUnknownProvider means no registered connector serves the provider.
	ErrUnknownProvider = errors.New("ingest: unknown provider")

	// ErrUnresolvableURL means the source URL does not map to a provider ID.
	ErrUnresolvableURL = errors.New("ingest: unresolvable source url")
)

// Outcomes reported per ingestion, also used as metric label values.
const (
	OutcomeCreated   = "created"
	OutcomeExisting  = "existing"
	OutcomeRefreshed = "refreshed"
)

// Truncation reasons recorded on the provenance row.
const (
	truncationRawPayload = "raw_payload"
	truncationMetadata   = "metadata"
)

// Catalog is the durable-store surface ingestion needs.
type Catalog interface {
	FindByProviderKey(ctx context.Context, provider, providerID string) (*models.CatalogRecord, *models.ProvenanceRecord, error)
	UpsertWithProvenance(ctx context.Context, rec *models.CatalogRecord, prov *models.ProvenanceRecord) (bool, error)
	RedactOldPayloads(ctx context.Context, cutoff time.Time) (int64, error)
}

// Request identifies what to ingest: either an explicit provider ID pair or
// a source URL to resolve into one.
type Request struct {
	Provider     string `json:"provider" validate:"omitempty,oneof=tmdb google_books igdb spotify"`
	ProviderID   string `json:"provider_id" validate:"omitempty,max=256"`
	SourceURL    string `json:"source_url" validate:"omitempty,url,max=2048"`
	ForceRefresh bool   `json:"force_refresh"`
}

// Result is the stored record plus which path the ingestion took.
type Result struct {
	Record     *models.CatalogRecord   `json:"record"`
	Provenance *models.ProvenanceRecord `json:"provenance"`
	Outcome    string                  `json:"outcome"`
}

// Service runs ingestions.
type Service struct {
	catalog    Catalog
	connectors map[string]connector.Connector
	breakers   *breaker.Registry
	cfg        config.IngestConfig
	now        func() time.Time
}

// NewService wires an ingestion service over the given connectors.
func NewService(catalog Catalog, connectors []connector.Connector, breakers *breaker.Registry, cfg config.IngestConfig) *Service {
	byName := make(map[string]connector.Connector, len(connectors))
	for _, c := range connectors {
		byName[c.Name()] = c
	}
	return &Service{
		catalog:    catalog,
		connectors: byName,
		breakers:   breakers,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Ingest runs one ingestion end to end. Errors are terminal for the call;
// nothing is written on failure.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	provider, providerID, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	conn, ok := s.connectors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	if !req.ForceRefresh {
		rec, prov, err := s.catalog.FindByProviderKey(ctx, provider, providerID)
		if err == nil {
			metrics.IngestTotal.WithLabelValues(provider, OutcomeExisting).Inc()
			return &Result{Record: rec, Provenance: prov, Outcome: OutcomeExisting}, nil
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("lookup provider key: %w", err)
		}
	}

	start := s.now()
	candidate, err := breaker.ExecuteTyped[*models.NormalizedCandidate](
		s.breakers, provider, func() (interface{}, error) {
			return conn.Fetch(ctx, providerID)
		})
	metrics.ProviderRequestDuration.WithLabelValues(provider, "fetch").Observe(s.now().Sub(start).Seconds())
	if err != nil {
		metrics.IngestTotal.WithLabelValues(provider, "error").Inc()
		metrics.ProviderRequestsTotal.WithLabelValues(provider, "fetch", "failure").Inc()
		return nil, fmt.Errorf("fetch %s/%s: %w", provider, providerID, err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(provider, "fetch", "success").Inc()

	rec, prov := s.normalize(candidate)

	refreshed, err := s.catalog.UpsertWithProvenance(ctx, rec, prov)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(provider, "error").Inc()
		return nil, fmt.Errorf("upsert %s/%s: %w", provider, providerID, err)
	}

	outcome := OutcomeCreated
	if refreshed {
		outcome = OutcomeRefreshed
	}
	metrics.IngestTotal.WithLabelValues(provider, outcome).Inc()
	logging.Info().
		Str("provider", provider).
		Str("provider_id", providerID).
		Str("record_id", rec.ID.String()).
		Str("outcome", outcome).
		Msg("ingested catalog record")

	return &Result{Record: rec, Provenance: prov, Outcome: outcome}, nil
}

// resolve produces the (provider, providerID) pair from whichever identifier
// the request carries. Explicit pairs win over source URLs.
func (s *Service) resolve(req Request) (string, string, error) {
	if req.Provider != "" && req.ProviderID != "" {
		return req.Provider, req.ProviderID, nil
	}
	if req.SourceURL != "" {
		return resolveSourceURL(req.SourceURL)
	}
	return "", "", ErrMissingIdentifier
}

// normalize builds the durable record and its provenance row from a fetched
// candidate, applying the byte caps. Truncation is recorded, never silent.
func (s *Service) normalize(c *models.NormalizedCandidate) (*models.CatalogRecord, *models.ProvenanceRecord) {
	rec := &models.CatalogRecord{
		Kind:         c.Kind,
		Title:        c.Title,
		Subtitle:     c.Subtitle,
		Description:  c.Description,
		ReleaseDate:  c.ReleaseDate,
		CoverURL:     c.CoverURL,
		CanonicalURL: c.CanonicalURL,
		Movie:        c.Movie,
		Show:         c.Show,
		Book:         c.Book,
		Game:         c.Game,
		Album:        c.Album,
	}
	ensureExtension(rec)

	var reasons []string

	rec.Metadata, reasons = capMetadata(c.Metadata, s.cfg.MetadataValueMaxBytes, reasons)

	raw := c.Raw
	if len(raw) > s.cfg.RawPayloadMaxBytes {
		raw = raw[:s.cfg.RawPayloadMaxBytes]
		reasons = append(reasons, truncationRawPayload)
	}

	prov := &models.ProvenanceRecord{
		ID:         uuid.New(),
		Provider:   c.Provider,
		ProviderID: c.ProviderID,
		RawPayload: raw,
		FetchedAt:  s.now().UTC(),
	}
	if len(reasons) > 0 {
		reason := joinReasons(reasons)
		prov.TruncationReason = &reason
	}
	return rec, prov
}

// ensureExtension guarantees the exactly-one-extension invariant even when
// the connector left the kind's extension empty.
func ensureExtension(rec *models.CatalogRecord) {
	switch rec.Kind {
	case models.KindMovie:
		if rec.Movie == nil {
			rec.Movie = &models.MovieExtension{}
		}
	case models.KindShow:
		if rec.Show == nil {
			rec.Show = &models.ShowExtension{}
		}
	case models.KindBook:
		if rec.Book == nil {
			rec.Book = &models.BookExtension{}
		}
	case models.KindGame:
		if rec.Game == nil {
			rec.Game = &models.GameExtension{}
		}
	case models.KindAlbum:
		if rec.Album == nil {
			rec.Album = &models.AlbumExtension{}
		}
	}
}

func capMetadata(in map[string]string, maxBytes int, reasons []string) (map[string]string, []string) {
	if len(in) == 0 {
		return nil, reasons
	}
	out := make(map[string]string, len(in))
	truncated := false
	for k, v := range in {
		if len(v) > maxBytes {
			v = v[:maxBytes]
			truncated = true
		}
		out[k] = v
	}
	if truncated {
		reasons = append(reasons, truncationMetadata)
	}
	return out, reasons
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "," + r
	}
	return out
}

// RunRedactionSweep periodically redacts raw payloads older than the
// configured retention age. Blocks until ctx is done; suitable as a suture
// service body.
func (s *Service) RunRedactionSweep(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RedactSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := s.now().Add(-s.cfg.RedactAfter)
			if _, err := s.catalog.RedactOldPayloads(ctx, cutoff); err != nil {
				logging.Error().Err(err).Msg("redaction sweep failed")
			}
		}
	}
}
