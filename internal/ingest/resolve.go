// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package ingest

import (
	"fmt"
	"net/url"
	"strings"
)

// resolveSourceURL maps a pasted catalog URL to the (provider, providerID)
// pair the connectors understand. Only URL shapes that embed a stable
// upstream ID are supported; slug-only URLs cannot be resolved without an
// extra upstream lookup and are rejected.
func resolveSourceURL(raw string) (provider, providerID string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnresolvableURL, raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	segments := splitPath(u.Path)

	switch host {
	case "themoviedb.org":
		// /movie/78-blade-runner or /tv/1396
		if len(segments) >= 2 && (segments[0] == "movie" || segments[0] == "tv") {
			id, _, _ := strings.Cut(segments[1], "-")
			if id != "" {
				return "tmdb", segments[0] + ":" + id, nil
			}
		}
	case "books.google.com":
		// /books?id=X or /books/edition/<title>/<id>
		if id := u.Query().Get("id"); id != "" {
			return "google_books", id, nil
		}
		if len(segments) >= 4 && segments[0] == "books" && segments[1] == "edition" {
			return "google_books", segments[3], nil
		}
	case "open.spotify.com":
		// /album/<id>
		if len(segments) >= 2 && segments[0] == "album" {
			return "spotify", segments[1], nil
		}
	case "igdb.com":
		// IGDB URLs carry slugs, not IDs; nothing to resolve against.
	}

	return "", "", fmt.Errorf("%w: %q", ErrUnresolvableURL, raw)
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
