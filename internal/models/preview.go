// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package models

import "time"

// PreviewRecord is the ephemeral projection of an external candidate that has
// not been durably ingested. Previews are size-capped, TTL-bound, and safe to
// hand to the requesting user; a read after ExpiresAt behaves as not-found.
type PreviewRecord struct {
	PreviewID string `json:"preview_id"`

	// Owner is the subject whose search created the preview; only the
	// owner may read it back.
	Owner string `json:"owner,omitempty"`

	Provider     string            `json:"provider"`
	ProviderID   string            `json:"provider_id"`
	Kind         MediaKind         `json:"kind"`
	Title        string            `json:"title"`
	Subtitle     *string           `json:"subtitle,omitempty"`
	Description  *string           `json:"description,omitempty"`
	ReleaseDate  *time.Time        `json:"release_date,omitempty"`
	CoverURL     *string           `json:"cover_url,omitempty"`
	CanonicalURL *string           `json:"canonical_url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Expired reports whether the preview is past its expiry at the given time.
func (p *PreviewRecord) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
