// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package search

import (
	"context"
	"errors"
	"time"

	"github.com/curioproject/curio/internal/breaker"
	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/connector"
	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/metrics"
	"github.com/curioproject/curio/internal/models"
	"github.com/curioproject/curio/internal/quota"
)

// Provider error codes surfaced in response metadata for providers that
// contributed nothing to a fan-out.
const (
	codeCircuitOpen    = "CIRCUIT_OPEN"
	codeTimeout        = "TIMEOUT"
	codeConnectorError = "CONNECTOR_ERROR"
	codeQuotaExceeded  = "QUOTA_EXCEEDED"
)

// ErrQuotaExceeded is returned by Search when the user is over quota and the
// configured policy rejects the whole request.
var ErrQuotaExceeded = quota.ErrExceeded

// CatalogSearcher is the internal catalog lookup the search pipeline needs.
type CatalogSearcher interface {
	SearchRecords(ctx context.Context, query string, kinds []models.MediaKind, limit int) ([]models.CatalogRecord, error)
}

// PreviewWriter persists previews for surviving external candidates, owned
// by the searching user.
type PreviewWriter interface {
	Put(ctx context.Context, owner string, candidate *models.NormalizedCandidate, metadataValueCap int) (*models.PreviewRecord, error)
}

// Request is one aggregated search.
type Request struct {
	UserID string
	Query  string

	// Kinds filters results; empty means all kinds.
	Kinds []models.MediaKind

	// Providers restricts the external fan-out; empty means every
	// registered provider serving a requested kind.
	Providers []string

	// ProviderLimit caps results per provider; 0 uses the configured
	// default, and the configured maximum always applies.
	ProviderLimit int

	IncludeExternal bool
	Page            int
	PageSize        int
}

// Response is the merged, paginated outcome plus the per-source accounting
// the API layer exposes in response metadata.
type Response struct {
	Source         string
	Results        []models.SearchResult
	Pagination     models.Pagination
	Sources        map[string]models.SourceStats
	Dedupe         *models.DedupeCounts
	ProviderErrors map[string]string
}

// Service runs aggregated searches.
type Service struct {
	catalog     CatalogSearcher
	previews    PreviewWriter
	connectors  []connector.Connector
	breakers    *breaker.Registry
	quota       *quota.Enforcer
	cfg         config.SearchConfig
	metadataCap int
}

// NewService wires the search pipeline. The connector slice order is the
// fixed provider slot order used for deterministic merging.
func NewService(
	catalog CatalogSearcher,
	previews PreviewWriter,
	connectors []connector.Connector,
	breakers *breaker.Registry,
	enforcer *quota.Enforcer,
	searchCfg config.SearchConfig,
	metadataValueCap int,
) *Service {
	return &Service{
		catalog:     catalog,
		previews:    previews,
		connectors:  connectors,
		breakers:    breakers,
		quota:       enforcer,
		cfg:         searchCfg,
		metadataCap: metadataValueCap,
	}
}

// providerResult is one provider's fan-out outcome.
type providerResult struct {
	provider   string
	candidates []models.NormalizedCandidate
	duration   time.Duration
	err        error
}

// Search runs the full pipeline: internal lookup, optional quota-gated
// provider fan-out, deterministic merge, preview creation and pagination.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	resp := &Response{
		Source:         models.SourceInternal,
		Sources:        map[string]models.SourceStats{},
		ProviderErrors: map[string]string{},
	}

	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = models.AllMediaKinds
	}

	internalStart := time.Now()
	internal, err := s.catalog.SearchRecords(ctx, req.Query, kinds, s.cfg.MaxPageSize)
	if err != nil {
		return nil, err
	}
	resp.Sources["internal"] = models.SourceStats{
		Count:      len(internal),
		DurationMS: time.Since(internalStart).Milliseconds(),
	}

	external := req.IncludeExternal
	if external {
		if err := s.quota.Allow(req.UserID); err != nil {
			if !errors.Is(err, quota.ErrExceeded) {
				return nil, err
			}
			if s.cfg.QuotaPolicy == config.QuotaPolicyRejectRequest {
				return nil, ErrQuotaExceeded
			}
			// reject_external: serve internal results, flag the denial.
			external = false
			resp.ProviderErrors["external"] = codeQuotaExceeded
		}
	}

	var outcome mergeOutcome
	if external {
		resp.Source = models.SourceInternalExternal
		order, byProvider := s.fanOut(ctx, req, kinds, resp)
		outcome = merge(internal, order, byProvider)
		resp.Dedupe = &outcome.Dedupe
	} else {
		outcome = mergeOutcome{Internal: internal}
	}

	metrics.SearchRequestsTotal.WithLabelValues(resp.Source).Inc()

	results := s.buildResults(ctx, req.UserID, outcome)
	resp.Pagination, resp.Results = paginate(results, req.Page, req.PageSize)
	return resp, nil
}

// providerLimit resolves the effective per-provider result cap.
func (s *Service) providerLimit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = s.cfg.DefaultProviderLimit
	}
	if limit > s.cfg.MaxProviderLimit {
		limit = s.cfg.MaxProviderLimit
	}
	return limit
}

// fanOut queries every selected provider concurrently, one goroutine per
// provider, each call under the provider's circuit breaker and timeout.
// Slot order follows the caller's requested provider order when one is
// given, registration order otherwise. A provider serving several requested
// kinds queries them sequentially in the fixed kind order so its slot
// content is deterministic. Providers still running at the aggregate
// deadline are counted as timed out.
func (s *Service) fanOut(ctx context.Context, req Request, kinds []models.MediaKind, resp *Response) ([]string, map[string][]models.NormalizedCandidate) {
	aggCtx, cancel := context.WithTimeout(ctx, s.cfg.AggregateTimeout)
	defer cancel()

	limit := s.providerLimit(req.ProviderLimit)
	selected := s.selectConnectors(req.Providers)

	var order []string
	ch := make(chan providerResult, len(selected))

	for _, conn := range selected {
		servedKinds := intersectKinds(conn.Kinds(), kinds)
		if len(servedKinds) == 0 {
			continue
		}
		order = append(order, conn.Name())

		go func(conn connector.Connector, servedKinds []models.MediaKind) {
			start := time.Now()
			provCtx, provCancel := context.WithTimeout(aggCtx, s.cfg.ProviderTimeout)
			defer provCancel()

			var collected []models.NormalizedCandidate
			var failure error
			for _, kind := range servedKinds {
				remaining := limit - len(collected)
				if remaining <= 0 {
					break
				}
				kind := kind
				candidates, err := breaker.ExecuteTyped[[]models.NormalizedCandidate](
					s.breakers, conn.Name(), func() (interface{}, error) {
						return conn.Search(provCtx, req.Query, kind, remaining)
					})
				if err != nil {
					failure = err
					break
				}
				collected = append(collected, candidates...)
			}

			ch <- providerResult{
				provider:   conn.Name(),
				candidates: collected,
				duration:   time.Since(start),
				err:        failure,
			}
		}(conn, servedKinds)
	}

	byProvider := make(map[string][]models.NormalizedCandidate, len(order))
	pending := len(order)
	for pending > 0 {
		select {
		case res := <-ch:
			pending--
			s.recordProviderResult(res, resp, byProvider)
		case <-aggCtx.Done():
			// Whatever has not reported by now is treated as failed.
			for _, name := range order {
				if _, done := byProvider[name]; done {
					continue
				}
				if _, errored := resp.ProviderErrors[name]; errored {
					continue
				}
				resp.ProviderErrors[name] = codeTimeout
				metrics.ProviderRequestsTotal.WithLabelValues(name, "search", "timeout").Inc()
			}
			return order, byProvider
		}
	}

	return order, byProvider
}

func (s *Service) recordProviderResult(res providerResult, resp *Response, byProvider map[string][]models.NormalizedCandidate) {
	metrics.ProviderRequestDuration.WithLabelValues(res.provider, "search").Observe(res.duration.Seconds())

	if res.err != nil {
		// A failed provider is a zero-result contribution: anything it
		// returned before failing is discarded.
		resp.ProviderErrors[res.provider] = classifyProviderError(res.err)
		metrics.ProviderRequestsTotal.WithLabelValues(res.provider, "search", "failure").Inc()
		logging.Warn().
			Str("provider", res.provider).
			Str("code", resp.ProviderErrors[res.provider]).
			Err(res.err).
			Msg("provider search failed")
		return
	}

	byProvider[res.provider] = res.candidates
	resp.Sources[res.provider] = models.SourceStats{
		Count:      len(res.candidates),
		DurationMS: res.duration.Milliseconds(),
	}
	metrics.ProviderRequestsTotal.WithLabelValues(res.provider, "search", "success").Inc()
	metrics.ProviderResultsReturned.WithLabelValues(res.provider).Add(float64(len(res.candidates)))
}

// classifyProviderError maps a fan-out failure to its stable metadata code.
func classifyProviderError(err error) string {
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return codeCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codeTimeout
	}
	return codeConnectorError
}

// buildResults converts the merge outcome into API search results, creating
// a preview for each surviving external candidate. A candidate whose preview
// cannot be stored is dropped rather than returned without a handle.
func (s *Service) buildResults(ctx context.Context, owner string, outcome mergeOutcome) []models.SearchResult {
	results := make([]models.SearchResult, 0, len(outcome.Internal)+len(outcome.External))

	for i := range outcome.Internal {
		rec := &outcome.Internal[i]
		id := rec.ID
		results = append(results, models.SearchResult{
			ID:           &id,
			Kind:         rec.Kind,
			Title:        rec.Title,
			Subtitle:     rec.Subtitle,
			Description:  rec.Description,
			ReleaseDate:  rec.ReleaseDate,
			CoverURL:     rec.CoverURL,
			CanonicalURL: rec.CanonicalURL,
			Metadata:     rec.Metadata,
		})
	}

	for i := range outcome.External {
		candidate := &outcome.External[i]
		stored, err := s.previews.Put(ctx, owner, candidate, s.metadataCap)
		if err != nil {
			logging.Error().
				Str("provider", candidate.Provider).
				Err(err).
				Msg("preview store failed, dropping candidate")
			continue
		}

		expiresAt := stored.ExpiresAt
		results = append(results, models.SearchResult{
			Kind:             stored.Kind,
			Title:            stored.Title,
			Subtitle:         stored.Subtitle,
			Description:      stored.Description,
			ReleaseDate:      stored.ReleaseDate,
			CoverURL:         stored.CoverURL,
			CanonicalURL:     stored.CanonicalURL,
			Metadata:         stored.Metadata,
			Provider:         stored.Provider,
			ProviderID:       stored.ProviderID,
			PreviewID:        stored.PreviewID,
			PreviewExpiresAt: &expiresAt,
		})
	}

	return results
}

// paginate applies the page window to the merged list.
func paginate(results []models.SearchResult, page, pageSize int) (models.Pagination, []models.SearchResult) {
	total := len(results)
	p := models.Pagination{Page: page, PageSize: pageSize, Total: total}

	start := (page - 1) * pageSize
	if start >= total || start < 0 {
		return p, []models.SearchResult{}
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return p, results[start:end]
}

// intersectKinds returns the kinds in served that are also requested,
// preserving the served order.
func intersectKinds(served, requested []models.MediaKind) []models.MediaKind {
	var out []models.MediaKind
	for _, k := range served {
		for _, r := range requested {
			if k == r {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// selectConnectors returns the fan-out set in slot order. An explicit
// provider list is honored in the order the caller gave it; unknown names
// are skipped.
func (s *Service) selectConnectors(requested []string) []connector.Connector {
	if len(requested) == 0 {
		return s.connectors
	}
	out := make([]connector.Connector, 0, len(requested))
	for _, name := range requested {
		for _, conn := range s.connectors {
			if conn.Name() == name {
				out = append(out, conn)
				break
			}
		}
	}
	return out
}
