// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MediaKind identifies which catalog family a record belongs to.
// The set is fixed; every CatalogRecord carries exactly one kind and
// exactly one matching extension payload.
type MediaKind string

// Supported media kinds.
const (
	KindMovie MediaKind = "movie"
	KindShow  MediaKind = "show"
	KindBook  MediaKind = "book"
	KindGame  MediaKind = "game"
	KindAlbum MediaKind = "album"
)

// AllMediaKinds lists every supported kind in stable order.
var AllMediaKinds = []MediaKind{KindMovie, KindShow, KindBook, KindGame, KindAlbum}

// Valid reports whether k is one of the supported media kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case KindMovie, KindShow, KindBook, KindGame, KindAlbum:
		return true
	default:
		return false
	}
}

// ParseMediaKind converts a string to a MediaKind, rejecting unknown values.
func ParseMediaKind(s string) (MediaKind, error) {
	k := MediaKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown media kind %q", s)
	}
	return k, nil
}

// MovieExtension holds movie-specific fields.
type MovieExtension struct {
	RuntimeMinutes int     `json:"runtime_minutes,omitempty"`
	Director       string  `json:"director,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
}

// ShowExtension holds TV-show-specific fields.
type ShowExtension struct {
	Seasons  int    `json:"seasons,omitempty"`
	Episodes int    `json:"episodes,omitempty"`
	Network  string `json:"network,omitempty"`
}

// BookExtension holds book-specific fields.
type BookExtension struct {
	Authors   []string `json:"authors,omitempty"`
	Pages     int      `json:"pages,omitempty"`
	ISBN13    string   `json:"isbn13,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
}

// GameExtension holds video-game-specific fields.
type GameExtension struct {
	Platforms []string `json:"platforms,omitempty"`
	Developer string   `json:"developer,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
}

// AlbumExtension holds music-album-specific fields.
type AlbumExtension struct {
	Artist string `json:"artist,omitempty"`
	Tracks int    `json:"tracks,omitempty"`
	Label  string `json:"label,omitempty"`
}

// CatalogRecord is the canonical durable catalog entity.
//
// Exactly one extension pointer is non-nil and it must match Kind; this is
// enforced by ValidateExtension and upheld by the normalization pipeline,
// which is the only writer. UI-level edits never mutate these rows directly.
type CatalogRecord struct {
	ID           uuid.UUID         `json:"id"`
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

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateExtension verifies the exactly-one-extension invariant: the
// extension matching Kind is present and all others are nil.
func (r *CatalogRecord) ValidateExtension() error {
	count := 0
	var present MediaKind
	if r.Movie != nil {
		count++
		present = KindMovie
	}
	if r.Show != nil {
		count++
		present = KindShow
	}
	if r.Book != nil {
		count++
		present = KindBook
	}
	if r.Game != nil {
		count++
		present = KindGame
	}
	if r.Album != nil {
		count++
		present = KindAlbum
	}

	if count != 1 {
		return fmt.Errorf("catalog record %s: expected exactly one extension, found %d", r.ID, count)
	}
	if present != r.Kind {
		return fmt.Errorf("catalog record %s: extension %s does not match kind %s", r.ID, present, r.Kind)
	}
	return nil
}
