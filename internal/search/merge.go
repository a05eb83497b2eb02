// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package search

import (
	"time"

	"github.com/curioproject/curio/internal/metrics"
	"github.com/curioproject/curio/internal/models"
)

// Dedupe drop reasons, also used as metric label values.
const (
	dropReasonCanonicalURL = "canonical_url"
	dropReasonTitleDate    = "title_date"
)

// mergeOutcome is the result of merging internal records with external
// candidates.
type mergeOutcome struct {
	// Internal records always survive; they are the durable truth.
	Internal []models.CatalogRecord

	// External lists the surviving candidates, ordered by provider slot
	// then by the provider's own ranking. This order is deterministic for
	// identical inputs.
	External []models.NormalizedCandidate

	Dedupe models.DedupeCounts
}

// merge dedupes external candidates against internal records and against
// each other. Providers are processed in the fixed providerOrder, never in
// arrival order, so the merged list is reproducible regardless of which
// goroutine finished first.
//
// Two dedupe rules, checked in this order:
//  1. identical canonical URL
//  2. identical normalized title plus identical release date
//
// Candidates without a release date never match rule 2; a missing date is
// not evidence of sameness.
func merge(internal []models.CatalogRecord, providerOrder []string, byProvider map[string][]models.NormalizedCandidate) mergeOutcome {
	out := mergeOutcome{Internal: internal}

	seenURL := make(map[string]struct{})
	seenTitleDate := make(map[string]struct{})

	for i := range internal {
		rec := &internal[i]
		if rec.CanonicalURL != nil {
			seenURL[normalizeURL(*rec.CanonicalURL)] = struct{}{}
		}
		if key, ok := titleDateKey(rec.Kind, rec.Title, rec.ReleaseDate); ok {
			seenTitleDate[key] = struct{}{}
		}
	}

	for _, provider := range providerOrder {
		for _, candidate := range byProvider[provider] {
			var urlKey string
			if candidate.CanonicalURL != nil {
				urlKey = normalizeURL(*candidate.CanonicalURL)
				if _, dup := seenURL[urlKey]; dup {
					out.Dedupe.CanonicalURL++
					metrics.DedupeDrops.WithLabelValues(dropReasonCanonicalURL).Inc()
					continue
				}
			}

			titleKey, hasTitleKey := titleDateKey(candidate.Kind, candidate.Title, candidate.ReleaseDate)
			if hasTitleKey {
				if _, dup := seenTitleDate[titleKey]; dup {
					out.Dedupe.TitleDate++
					metrics.DedupeDrops.WithLabelValues(dropReasonTitleDate).Inc()
					continue
				}
			}

			// Keys are registered only for accepted candidates, so a
			// dropped candidate never shadows a later one.
			if urlKey != "" {
				seenURL[urlKey] = struct{}{}
			}
			if hasTitleKey {
				seenTitleDate[titleKey] = struct{}{}
			}
			out.External = append(out.External, candidate)
		}
	}

	return out
}

// titleDateKey builds the rule-2 dedupe key. The second return is false when
// the record has no release date.
func titleDateKey(kind models.MediaKind, title string, date *time.Time) (string, bool) {
	if date == nil {
		return "", false
	}
	return string(kind) + "|" + NormalizeTitle(title) + "|" + date.UTC().Format("2006-01-02"), true
}
