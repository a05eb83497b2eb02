// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package search implements the aggregated search pipeline: internal catalog
// lookup, concurrent provider fan-out, deterministic merge/dedupe and preview
// creation for surviving external candidates.
package search

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// titleChainPool pools fresh transformer chains; transform.Chain values are
// stateful and not safe for concurrent use.
var titleChainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFD,                           // decompose so marks are separable
			cases.Fold(),                       // unicode case folding
			runes.Remove(runes.In(unicode.Mn)), // strip combining marks (diacritics)
			runes.Remove(runes.In(unicode.Cf)), // strip format chars
			width.Fold,                         // fullwidth forms to ASCII
			norm.NFC,
		)
	},
}

// NormalizeTitle produces the canonical form used for dedupe keys and title
// matching: case-folded, diacritics stripped, punctuation dropped, whitespace
// collapsed. The same input always yields the same output, which is what
// makes merge results reproducible.
func NormalizeTitle(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToValidUTF8(s, "")

	tr := titleChainPool.Get().(transform.Transformer)
	ns, _, err := transform.String(tr, s)
	tr.Reset()
	titleChainPool.Put(tr)
	if err != nil {
		ns = s
	}

	var b strings.Builder
	b.Grow(len(ns))
	space := false
	for _, r := range ns {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// punctuation and whitespace both act as separators
			space = true
		}
	}
	return b.String()
}

// normalizeURL canonicalizes a URL for dedupe comparison: lowercased scheme
// and host stay as-is from providers, so only trailing-slash noise is
// stripped.
func normalizeURL(u string) string {
	return strings.TrimSuffix(strings.TrimSpace(u), "/")
}
