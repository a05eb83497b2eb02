// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package models

import "time"

// NormalizedCandidate is the provider-agnostic shape every connector adapter
// resolves upstream responses into. It carries both the normalized fields and
// the verbatim raw payload so that ingestion can persist provenance without a
// second upstream round trip ("always keep the raw payload, promote fields
// later").
type NormalizedCandidate struct {
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

	Movie *MovieExtension `json:"movie,omitempty"`
	Show  *ShowExtension  `json:"show,omitempty"`
	Book  *BookExtension  `json:"book,omitempty"`
	Game  *GameExtension  `json:"game,omitempty"`
	Album *AlbumExtension `json:"album,omitempty"`

	// Raw is the verbatim upstream response for this candidate. It is
	// size-capped at ingestion time, never logged, and never returned to
	// API callers.
	Raw []byte `json:"-"`
}
