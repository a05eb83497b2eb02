// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package connector defines the provider adapter contract and the adapters
// for the supported external catalogs (TMDB, Google Books, IGDB, Spotify).
//
// Adapters translate upstream responses into NormalizedCandidate values and
// keep the verbatim payload alongside, so ingestion never needs a second
// round trip. Credentials are attached to outgoing requests only and are
// never logged or embedded in errors.
package connector

import (
	"context"
	"fmt"

	"github.com/curioproject/curio/internal/models"
)

// Connector is the uniform adapter contract. One adapter per provider; each
// serves a fixed set of media kinds.
type Connector interface {
	// Name returns the stable provider name used in config, metrics,
	// provenance rows and circuit breaker keys.
	Name() string

	// Kinds returns the media kinds this provider can answer for.
	Kinds() []models.MediaKind

	// Search runs a text query for one kind, returning at most limit
	// candidates in the provider's own relevance order.
	Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error)

	// Fetch retrieves a single item by the provider's native identifier.
	Fetch(ctx context.Context, providerID string) (*models.NormalizedCandidate, error)
}

// Error is the uniform connector failure. Retryable distinguishes transient
// upstream trouble (timeouts, 5xx, 429) from permanent errors (bad request,
// auth misconfiguration), which the circuit breaker and callers treat
// differently.
type Error struct {
	Provider  string
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// retryableErr wraps err as a transient provider failure.
func retryableErr(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Retryable: true, Err: err}
}

// permanentErr wraps err as a non-transient provider failure.
func permanentErr(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Retryable: false, Err: err}
}

// serves reports whether the connector handles the given kind.
func serves(kinds []models.MediaKind, kind models.MediaKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
