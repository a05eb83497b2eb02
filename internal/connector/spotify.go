// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/models"
)

// Spotify serves music albums via the Spotify Web API (client-credentials
// flow, no user scope needed for catalog search).
//
// API reference: https://developer.spotify.com/documentation/web-api
type Spotify struct {
	baseURL    string
	tokens     *tokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Connector = (*Spotify)(nil)

// NewSpotify creates the Spotify adapter.
func NewSpotify(cfg config.SpotifyConfig, timeout time.Duration) *Spotify {
	httpClient := &http.Client{Timeout: timeout}
	return &Spotify{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:     newTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, tokenStyleBasicAuth, httpClient),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}
}

// Name implements Connector.
func (c *Spotify) Name() string { return "spotify" }

// Kinds implements Connector.
func (c *Spotify) Kinds() []models.MediaKind {
	return []models.MediaKind{models.KindAlbum}
}

type spotifySearchResponse struct {
	Albums struct {
		Items []json.RawMessage `json:"items"`
	} `json:"albums"`
}

// Spotify release dates vary in precision by album ("1997", "1997-05",
// "1997-05-21").
var spotifyAlbumMap = fieldMap{
	kind:      models.KindAlbum,
	id:        "id",
	title:     "name",
	date:      "release_date",
	parseDate: parseFlexibleDate,
	cover:     "images.0.url",
	canonical: "external_urls.spotify",
	metadata:  map[string]string{"album_type": "album_type"},
	extras: func(doc document, c *models.NormalizedCandidate) {
		c.Album = &models.AlbumExtension{
			Artist: doc.str("artists.0.name"),
			Tracks: int(doc.integer("total_tracks")),
			Label:  doc.str("label"),
		}
	},
}

// Search implements Connector.
func (c *Spotify) Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error) {
	if kind != models.KindAlbum {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("unsupported kind %s", kind))
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "album")
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doGet(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var sr spotifySearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("decode response: %w", err))
	}

	candidates := make([]models.NormalizedCandidate, 0, limit)
	for _, raw := range sr.Albums.Items {
		if len(candidates) >= limit {
			break
		}
		candidate, err := normalizeDocument(c.Name(), spotifyAlbumMap, raw)
		if err != nil {
			continue
		}
		candidates = append(candidates, *candidate)
	}
	return candidates, nil
}

// Fetch implements Connector.
func (c *Spotify) Fetch(ctx context.Context, providerID string) (*models.NormalizedCandidate, error) {
	if providerID == "" {
		return nil, permanentErr(c.Name(), "fetch", fmt.Errorf("empty provider id"))
	}

	body, err := c.doGet(ctx, "/albums/"+url.PathEscape(providerID), nil)
	if err != nil {
		return nil, err
	}
	return normalizeDocument(c.Name(), spotifyAlbumMap, body)
}

func (c *Spotify) doGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retryableErr(c.Name(), "rate-limit", err)
	}

	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	// A 401 means the cached token was revoked upstream: refresh it and
	// retry the call once before reporting failure.
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, retryableErr(c.Name(), "token", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, permanentErr(c.Name(), "request", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retryableErr(c.Name(), "request", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if err != nil {
			return nil, retryableErr(c.Name(), "read-body", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized:
			c.tokens.Invalidate()
			if attempt == 0 {
				continue
			}
			return nil, retryableErr(c.Name(), "request", fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode == http.StatusNotFound:
			return nil, permanentErr(c.Name(), "request", fmt.Errorf("not found"))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, retryableErr(c.Name(), "request", fmt.Errorf("status %d", resp.StatusCode))
		default:
			return nil, permanentErr(c.Name(), "request", fmt.Errorf("status %d", resp.StatusCode))
		}
	}
}
