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
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/models"
)

// TMDB serves movies and TV shows via the TMDB v3 API.
//
// API reference: https://developer.themoviedb.org/reference
type TMDB struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Connector = (*TMDB)(nil)

// NewTMDB creates the TMDB adapter.
func NewTMDB(cfg config.TMDBConfig, timeout time.Duration) *TMDB {
	return &TMDB{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}
}

// Name implements Connector.
func (c *TMDB) Name() string { return "tmdb" }

// Kinds implements Connector.
func (c *TMDB) Kinds() []models.MediaKind {
	return []models.MediaKind{models.KindMovie, models.KindShow}
}

type tmdbSearchResponse struct {
	Results []json.RawMessage `json:"results"`
}

// TMDB IDs are qualified with the media type since the movie and tv
// namespaces overlap upstream; canonical URLs are constructed from the ID
// because search rows do not carry one.
var tmdbMovieMap = fieldMap{
	kind:        models.KindMovie,
	id:          "id",
	idPrefix:    "movie:",
	title:       "title",
	description: "overview",
	date:        "release_date",
	cover:       "poster_path",
	coverURL:    tmdbImageURL,
	metadata:    map[string]string{"original_language": "original_language"},
	extras: func(doc document, c *models.NormalizedCandidate) {
		c.CanonicalURL = optString("https://www.themoviedb.org/movie/" + doc.str("id"))
		c.Movie = &models.MovieExtension{
			RuntimeMinutes: int(doc.integer("runtime")),
			Rating:         doc.num("vote_average"),
		}
		if genres := doc.joined("genres", "name"); genres != "" {
			c.Metadata["genres"] = genres
		}
	},
}

var tmdbShowMap = fieldMap{
	kind:        models.KindShow,
	id:          "id",
	idPrefix:    "tv:",
	title:       "name",
	description: "overview",
	date:        "first_air_date",
	cover:       "poster_path",
	coverURL:    tmdbImageURL,
	extras: func(doc document, c *models.NormalizedCandidate) {
		c.CanonicalURL = optString("https://www.themoviedb.org/tv/" + doc.str("id"))
		c.Show = &models.ShowExtension{
			Seasons:  int(doc.integer("number_of_seasons")),
			Episodes: int(doc.integer("number_of_episodes")),
			Network:  doc.str("networks.0.name"),
		}
	},
}

// Search implements Connector.
func (c *TMDB) Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error) {
	if !serves(c.Kinds(), kind) {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("unsupported kind %s", kind))
	}

	endpoint := "/search/movie"
	if kind == models.KindShow {
		endpoint = "/search/tv"
	}

	params := url.Values{}
	params.Set("query", query)

	body, err := c.doGet(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var sr tmdbSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("decode response: %w", err))
	}

	candidates := make([]models.NormalizedCandidate, 0, limit)
	for _, raw := range sr.Results {
		if len(candidates) >= limit {
			break
		}
		candidate, err := normalizeDocument(c.Name(), c.fieldMap(kind), raw)
		if err != nil {
			continue // malformed row, skip rather than fail the batch
		}
		candidates = append(candidates, *candidate)
	}
	return candidates, nil
}

// Fetch implements Connector. TMDB IDs are qualified as "movie:78" or
// "tv:1396" since the two namespaces overlap upstream.
func (c *TMDB) Fetch(ctx context.Context, providerID string) (*models.NormalizedCandidate, error) {
	mediaType, id, ok := strings.Cut(providerID, ":")
	if !ok || (mediaType != "movie" && mediaType != "tv") || id == "" {
		return nil, permanentErr(c.Name(), "fetch", fmt.Errorf("malformed provider id %q", providerID))
	}

	kind := models.KindMovie
	if mediaType == "tv" {
		kind = models.KindShow
	}

	body, err := c.doGet(ctx, "/"+mediaType+"/"+id, nil)
	if err != nil {
		return nil, err
	}

	return normalizeDocument(c.Name(), c.fieldMap(kind), body)
}

func (c *TMDB) fieldMap(kind models.MediaKind) fieldMap {
	if kind == models.KindShow {
		return tmdbShowMap
	}
	return tmdbMovieMap
}

func (c *TMDB) doGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retryableErr(c.Name(), "rate-limit", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, permanentErr(c.Name(), "request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retryableErr(c.Name(), "request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, retryableErr(c.Name(), "read-body", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, permanentErr(c.Name(), "request", fmt.Errorf("not found"))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retryableErr(c.Name(), "request", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, permanentErr(c.Name(), "request", fmt.Errorf("status %d", resp.StatusCode))
	}
}

func tmdbImageURL(posterPath string) *string {
	if posterPath == "" {
		return nil
	}
	return optString("https://image.tmdb.org/t/p/w500" + posterPath)
}
