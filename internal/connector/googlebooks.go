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

// GoogleBooks serves books via the Google Books volumes API.
//
// API reference: https://developers.google.com/books/docs/v1/using
type GoogleBooks struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Connector = (*GoogleBooks)(nil)

// NewGoogleBooks creates the Google Books adapter. The API key is optional
// upstream; when empty, requests run unauthenticated at a lower quota.
func NewGoogleBooks(cfg config.GoogleBooksConfig, timeout time.Duration) *GoogleBooks {
	return &GoogleBooks{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}
}

// Name implements Connector.
func (c *GoogleBooks) Name() string { return "google_books" }

// Kinds implements Connector.
func (c *GoogleBooks) Kinds() []models.MediaKind {
	return []models.MediaKind{models.KindBook}
}

type googleBooksSearchResponse struct {
	Items []json.RawMessage `json:"items"`
}

// Google Books nests everything interesting under volumeInfo and returns
// partial publication dates.
var googleBooksVolumeMap = fieldMap{
	kind:        models.KindBook,
	id:          "id",
	title:       "volumeInfo.title",
	subtitle:    "volumeInfo.subtitle",
	description: "volumeInfo.description",
	date:        "volumeInfo.publishedDate",
	parseDate:   parseFlexibleDate,
	cover:       "volumeInfo.imageLinks.thumbnail",
	canonical:   "volumeInfo.canonicalVolumeLink",
	metadata:    map[string]string{"language": "volumeInfo.language"},
	extras: func(doc document, c *models.NormalizedCandidate) {
		ext := &models.BookExtension{
			Authors:   doc.strs("volumeInfo.authors", ""),
			Pages:     int(doc.integer("volumeInfo.pageCount")),
			Publisher: doc.str("volumeInfo.publisher"),
		}
		for _, ident := range doc.list("volumeInfo.industryIdentifiers") {
			entry, ok := ident.(map[string]any)
			if !ok {
				continue
			}
			if entry["type"] == "ISBN_13" {
				ext.ISBN13, _ = entry["identifier"].(string)
				break
			}
		}
		c.Book = ext
		if cats := doc.joined("volumeInfo.categories", ""); cats != "" {
			c.Metadata["categories"] = cats
		}
	},
}

// Search implements Connector.
func (c *GoogleBooks) Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error) {
	if kind != models.KindBook {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("unsupported kind %s", kind))
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(limit))
	params.Set("printType", "books")

	body, err := c.doGet(ctx, "/volumes", params)
	if err != nil {
		return nil, err
	}

	var sr googleBooksSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("decode response: %w", err))
	}

	candidates := make([]models.NormalizedCandidate, 0, limit)
	for _, raw := range sr.Items {
		if len(candidates) >= limit {
			break
		}
		candidate, err := normalizeDocument(c.Name(), googleBooksVolumeMap, raw)
		if err != nil {
			continue
		}
		candidates = append(candidates, *candidate)
	}
	return candidates, nil
}

// Fetch implements Connector.
func (c *GoogleBooks) Fetch(ctx context.Context, providerID string) (*models.NormalizedCandidate, error) {
	if providerID == "" {
		return nil, permanentErr(c.Name(), "fetch", fmt.Errorf("empty provider id"))
	}

	body, err := c.doGet(ctx, "/volumes/"+url.PathEscape(providerID), nil)
	if err != nil {
		return nil, err
	}
	return normalizeDocument(c.Name(), googleBooksVolumeMap, body)
}

func (c *GoogleBooks) doGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retryableErr(c.Name(), "rate-limit", err)
	}

	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
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
