// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/curioproject/curio/internal/auth"
	"github.com/curioproject/curio/internal/breaker"
	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/connector"
	"github.com/curioproject/curio/internal/ingest"
	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/models"
	"github.com/curioproject/curio/internal/preview"
	"github.com/curioproject/curio/internal/search"
	"github.com/curioproject/curio/internal/validation"
)

// Handler holds every dependency the HTTP endpoints need.
type Handler struct {
	search   *search.Service
	ingest   *ingest.Service
	previews *preview.Store
	breakers *breaker.Registry
	auth     *auth.Authenticator
	cfg      *config.Config
}

// NewHandler wires the endpoint handlers.
func NewHandler(
	searchSvc *search.Service,
	ingestSvc *ingest.Service,
	previews *preview.Store,
	breakers *breaker.Registry,
	authenticator *auth.Authenticator,
	cfg *config.Config,
) *Handler {
	return &Handler{
		search:   searchSvc,
		ingest:   ingestSvc,
		previews: previews,
		breakers: breakers,
		auth:     authenticator,
		cfg:      cfg,
	}
}

// Search handles GET /api/v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		respondError(w, r, http.StatusBadRequest, codeValidationError, "query parameter q is required")
		return
	}

	kinds, err := parseKinds(q.Get("kinds"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, codeValidationError, err.Error())
		return
	}

	includeExternal := false
	if raw := q.Get("include_external"); raw != "" {
		includeExternal, err = strconv.ParseBool(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, codeValidationError, "include_external must be a boolean")
			return
		}
	}

	subject, hasIdentity := auth.SubjectFromContext(r.Context())
	if includeExternal && !hasIdentity {
		respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "external search requires authentication")
		return
	}

	page := intParam(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize := intParam(q.Get("page_size"), h.cfg.Search.DefaultPageSize)
	if pageSize < 1 {
		pageSize = h.cfg.Search.DefaultPageSize
	}
	if pageSize > h.cfg.Search.MaxPageSize {
		pageSize = h.cfg.Search.MaxPageSize
	}

	req := search.Request{
		UserID:          subject,
		Query:           query,
		Kinds:           kinds,
		Providers:       splitList(q.Get("providers")),
		ProviderLimit:   intParam(q.Get("provider_limit"), 0),
		IncludeExternal: includeExternal,
		Page:            page,
		PageSize:        pageSize,
	}

	resp, err := h.search.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, search.ErrQuotaExceeded) {
			respondError(w, r, http.StatusTooManyRequests, codeQuotaExceeded, "external search quota exceeded")
			return
		}
		logging.Error().Err(err).Str("query", query).Msg("search failed")
		respondError(w, r, http.StatusInternalServerError, codeInternalError, "search failed")
		return
	}

	pagination := resp.Pagination
	respondJSON(w, r, http.StatusOK, models.SearchData{
		Source:  resp.Source,
		Results: resp.Results,
	}, models.Metadata{
		QueryTimeMS:    time.Since(start).Milliseconds(),
		Pagination:     &pagination,
		Sources:        resp.Sources,
		Dedupe:         resp.Dedupe,
		ProviderErrors: resp.ProviderErrors,
	})
}

// Ingest handles POST /api/v1/ingest.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.SubjectFromContext(r.Context()); !ok {
		respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "ingestion requires authentication")
		return
	}

	var req ingest.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeValidationError, "malformed request body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, r, http.StatusBadRequest, codeValidationError, verr.Error())
		return
	}

	result, err := h.ingest.Ingest(r.Context(), req)
	if err != nil {
		h.respondIngestError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == ingest.OutcomeCreated {
		status = http.StatusCreated
	}
	respondJSON(w, r, status, result, models.Metadata{})
}

func (h *Handler) respondIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var connErr *connector.Error
	switch {
	case errors.Is(err, ingest.ErrMissingIdentifier):
		respondError(w, r, http.StatusBadRequest, codeValidationError, "provider identifier or source_url is required")
	case errors.Is(err, ingest.ErrUnresolvableURL):
		respondError(w, r, http.StatusBadRequest, codeValidationError, "source_url could not be resolved to a provider")
	case errors.Is(err, ingest.ErrUnknownProvider):
		respondError(w, r, http.StatusBadRequest, codeValidationError, "unknown provider")
	case errors.Is(err, breaker.ErrCircuitOpen):
		respondError(w, r, http.StatusServiceUnavailable, codeCircuitOpen, "provider temporarily unavailable")
	case errors.As(err, &connErr):
		respondError(w, r, http.StatusBadGateway, codeConnectorError, "provider request failed")
	default:
		logging.Error().Err(err).Msg("ingest failed")
		respondError(w, r, http.StatusInternalServerError, codeInternalError, "ingestion failed")
	}
}

// PreviewDetail handles GET /api/v1/previews/{id}. Previews are readable
// only by the subject whose search created them; anyone else gets the same
// 404 as a missing preview.
func (h *Handler) PreviewDetail(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "preview detail requires authentication")
		return
	}

	id := chi.URLParam(r, "id")
	record, err := h.previews.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, preview.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, codeNotFound, "preview not found or expired")
			return
		}
		logging.Error().Err(err).Msg("preview read failed")
		respondError(w, r, http.StatusInternalServerError, codeInternalError, "preview read failed")
		return
	}
	if record.Owner != subject {
		respondError(w, r, http.StatusNotFound, codeNotFound, "preview not found or expired")
		return
	}

	respondJSON(w, r, http.StatusOK, record, models.Metadata{})
}

// healthData is the health payload; Providers is populated only for
// allowlisted callers.
type healthData struct {
	Status    string                  `json:"status"`
	Providers []models.ProviderHealth `json:"providers,omitempty"`
}

// Health handles GET /api/v1/health. Anonymous callers get liveness only;
// the full breaker read model is reserved for allowlisted subjects.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	data := healthData{Status: "ok"}

	if subject, ok := auth.SubjectFromContext(r.Context()); ok && h.auth.Allowlisted(subject) {
		statuses := h.breakers.StatusAll()
		sort.Slice(statuses, func(i, j int) bool { return statuses[i].Provider < statuses[j].Provider })
		data.Providers = make([]models.ProviderHealth, 0, len(statuses))
		for _, s := range statuses {
			data.Providers = append(data.Providers, models.ProviderHealth{
				Provider:          s.Provider,
				State:             s.State,
				FailureTotal:      s.FailureTotal,
				LastError:         s.LastError,
				RemainingCooldown: s.RemainingCooldown.Milliseconds(),
			})
		}
	}

	respondJSON(w, r, http.StatusOK, data, models.Metadata{})
}

func parseKinds(raw string) ([]models.MediaKind, error) {
	var kinds []models.MediaKind
	for _, part := range splitList(raw) {
		kind, err := models.ParseMediaKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
