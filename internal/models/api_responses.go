// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package models

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the uniform envelope for every JSON endpoint.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// APIError carries a stable machine-readable code plus a human message.
// Raw upstream payloads and stack traces are never placed here.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Metadata contains response metadata for observability.
//
// Search responses additionally populate Pagination, per-source stats,
// dedupe counts and per-provider errors so a caller can tell exactly what
// each upstream contributed and what was suppressed.
type Metadata struct {
	Timestamp   time.Time              `json:"timestamp"`
	QueryTimeMS int64                  `json:"query_time_ms,omitempty"`
	Pagination  *Pagination            `json:"pagination,omitempty"`
	Sources     map[string]SourceStats `json:"sources,omitempty"`
	Dedupe      *DedupeCounts          `json:"dedupe,omitempty"`

	// ProviderErrors maps a provider name to a stable error code
	// (CIRCUIT_OPEN, CONNECTOR_ERROR, TIMEOUT, QUOTA_EXCEEDED) for
	// providers that contributed zero results during fan-out.
	ProviderErrors map[string]string `json:"provider_errors,omitempty"`
}

// Pagination describes the page window applied to the merged result list.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// SourceStats records what a single source (internal catalog or one
// provider) contributed to a search response.
type SourceStats struct {
	Count      int   `json:"count"`
	DurationMS int64 `json:"duration_ms"`
}

// DedupeCounts tallies merged-out external candidates by drop reason.
type DedupeCounts struct {
	CanonicalURL int `json:"canonical_url"`
	TitleDate    int `json:"title_date"`
}

// Search response sources.
const (
	SourceInternal         = "internal"
	SourceInternalExternal = "internal+external"
)

// SearchData is the payload of a search response.
type SearchData struct {
	Source  string         `json:"source"`
	Results []SearchResult `json:"results"`
}

// SearchResult is one merged result row. Internal hits carry ID; external
// hits carry provider identity plus the preview handle the caller can use
// to inspect or ingest the candidate before it expires.
type SearchResult struct {
	ID           *uuid.UUID        `json:"id,omitempty"`
	Kind         MediaKind         `json:"kind"`
	Title        string            `json:"title"`
	Subtitle     *string           `json:"subtitle,omitempty"`
	Description  *string           `json:"description,omitempty"`
	ReleaseDate  *time.Time        `json:"release_date,omitempty"`
	CoverURL     *string           `json:"cover_url,omitempty"`
	CanonicalURL *string           `json:"canonical_url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	Provider         string     `json:"provider,omitempty"`
	ProviderID       string     `json:"provider_id,omitempty"`
	PreviewID        string     `json:"preview_id,omitempty"`
	PreviewExpiresAt *time.Time `json:"preview_expires_at,omitempty"`
}

// ProviderHealth is the circuit breaker read model for one provider,
// exposed in full only to authenticated allowlisted callers.
type ProviderHealth struct {
	Provider          string `json:"provider"`
	State             string `json:"state"`
	FailureTotal      uint64 `json:"failure_total"`
	LastError         string `json:"last_error,omitempty"`
	RemainingCooldown int64  `json:"remaining_cooldown_ms"`
}
