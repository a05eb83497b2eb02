// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package connector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/curioproject/curio/internal/models"
)

// fieldMap declares how one provider document maps onto a
// NormalizedCandidate: dot paths into the decoded JSON for each core field,
// plus hooks for the parts a path cannot express (URL rewriting, typed
// extensions). Each adapter supplies its map; normalizeDocument is the one
// normalizer consuming them.
type fieldMap struct {
	kind models.MediaKind

	// id is the path to the provider's native identifier; idPrefix
	// qualifies it when the provider's namespaces overlap ("movie:78").
	id       string
	idPrefix string

	title       string
	subtitle    string
	description string

	// date is the path to the release date. parseDate overrides the
	// default YYYY-MM-DD parsing; dateUnix reads the value as unix seconds
	// instead.
	date      string
	parseDate func(string) *time.Time
	dateUnix  bool

	// cover is the path to the cover image; coverURL post-processes the
	// value (IGDB thumbnails, TMDB poster paths).
	cover    string
	coverURL func(string) *string

	canonical string

	// metadata maps metadata keys to scalar paths; empty values are
	// dropped.
	metadata map[string]string

	// extras fills whatever the paths above cannot: constructed canonical
	// URLs and the per-kind extension struct.
	extras func(doc document, c *models.NormalizedCandidate)
}

// normalizeDocument turns one raw provider document into a candidate using
// the provider's field map. A document without a title is rejected; the
// verbatim payload is retained on the candidate.
func normalizeDocument(provider string, fm fieldMap, raw []byte) (*models.NormalizedCandidate, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	title := doc.str(fm.title)
	if title == "" {
		return nil, fmt.Errorf("document without title")
	}

	c := &models.NormalizedCandidate{
		Provider:   provider,
		ProviderID: fm.idPrefix + doc.str(fm.id),
		Kind:       fm.kind,
		Title:      title,
		Metadata:   map[string]string{},
		Raw:        raw,
	}

	if fm.subtitle != "" {
		c.Subtitle = optString(doc.str(fm.subtitle))
	}
	if fm.description != "" {
		c.Description = optString(doc.str(fm.description))
	}

	if fm.date != "" {
		switch {
		case fm.dateUnix:
			if secs := doc.integer(fm.date); secs > 0 {
				t := time.Unix(secs, 0).UTC()
				c.ReleaseDate = &t
			}
		case fm.parseDate != nil:
			c.ReleaseDate = fm.parseDate(doc.str(fm.date))
		default:
			c.ReleaseDate = parseDate(doc.str(fm.date))
		}
	}

	if fm.cover != "" {
		if fm.coverURL != nil {
			c.CoverURL = fm.coverURL(doc.str(fm.cover))
		} else {
			c.CoverURL = optString(doc.str(fm.cover))
		}
	}
	if fm.canonical != "" {
		c.CanonicalURL = optString(doc.str(fm.canonical))
	}

	for key, path := range fm.metadata {
		if v := doc.str(path); v != "" {
			c.Metadata[key] = v
		}
	}

	if fm.extras != nil {
		fm.extras(doc, c)
	}
	return c, nil
}

// document is a decoded provider JSON object navigated by dot paths. Numeric
// segments index into arrays ("images.0.url").
type document map[string]any

func (d document) lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// str returns the value at path as a string. JSON numbers are formatted
// without an exponent so identifiers like 78 come back as "78".
func (d document) str(path string) string {
	v, ok := d.lookup(path)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if i := int64(val); float64(i) == val {
			return strconv.FormatInt(i, 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

func (d document) num(path string) float64 {
	v, ok := d.lookup(path)
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func (d document) integer(path string) int64 {
	return int64(d.num(path))
}

func (d document) list(path string) []any {
	v, ok := d.lookup(path)
	if !ok {
		return nil
	}
	l, _ := v.([]any)
	return l
}

// strs returns the string elements of a list. When field is non-empty, each
// element is an object and field names the string to take from it.
func (d document) strs(path, field string) []string {
	var out []string
	for _, el := range d.list(path) {
		switch node := el.(type) {
		case string:
			if field == "" && node != "" {
				out = append(out, node)
			}
		case map[string]any:
			if field == "" {
				continue
			}
			if s, _ := node[field].(string); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// joined flattens a list into the comma-separated form metadata values use.
func (d document) joined(path, field string) string {
	return strings.Join(d.strs(path, field), ", ")
}

// optString returns nil for empty strings so omitted upstream fields stay
// omitted in our JSON.
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseDate parses the YYYY-MM-DD dates the providers use, returning nil for
// absent or malformed values.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// parseFlexibleDate handles the partial dates Google Books and Spotify
// return: "2006", "2006-01" or "2006-01-02".
func parseFlexibleDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
