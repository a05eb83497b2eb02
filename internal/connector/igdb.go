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
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/models"
)

// IGDB serves video games via the IGDB v4 API. Authentication is a Twitch
// client-credentials token, cached and refreshed by tokenSource.
//
// API reference: https://api-docs.igdb.com/
type IGDB struct {
	baseURL    string
	clientID   string
	tokens     *tokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Connector = (*IGDB)(nil)

// igdbFields is the Apicalypse field list requested for every game query.
const igdbFields = "fields name, summary, first_release_date, url, rating, " +
	"cover.url, platforms.name, involved_companies.company.name, involved_companies.developer, genres.name;"

// NewIGDB creates the IGDB adapter.
func NewIGDB(cfg config.IGDBConfig, timeout time.Duration) *IGDB {
	httpClient := &http.Client{Timeout: timeout}
	return &IGDB{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		tokens:     newTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, tokenStyleForm, httpClient),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
	}
}

// Name implements Connector.
func (c *IGDB) Name() string { return "igdb" }

// Kinds implements Connector.
func (c *IGDB) Kinds() []models.MediaKind {
	return []models.MediaKind{models.KindGame}
}

// IGDB dates are unix seconds and cover URLs come back as protocol-relative
// thumbnails, upgraded by igdbCoverURL.
var igdbGameMap = fieldMap{
	kind:        models.KindGame,
	id:          "id",
	title:       "name",
	description: "summary",
	date:        "first_release_date",
	dateUnix:    true,
	cover:       "cover.url",
	coverURL:    igdbCoverURL,
	canonical:   "url",
	extras: func(doc document, c *models.NormalizedCandidate) {
		ext := &models.GameExtension{
			Rating:    doc.num("rating"),
			Platforms: doc.strs("platforms", "name"),
		}
		for _, ic := range doc.list("involved_companies") {
			entry, ok := ic.(map[string]any)
			if !ok {
				continue
			}
			if dev, _ := entry["developer"].(bool); dev {
				if company, ok := entry["company"].(map[string]any); ok {
					ext.Developer, _ = company["name"].(string)
				}
				break
			}
		}
		c.Game = ext
		if genres := doc.joined("genres", "name"); genres != "" {
			c.Metadata["genres"] = genres
		}
	},
}

// Search implements Connector. IGDB uses the Apicalypse query language over
// POST bodies rather than query parameters.
func (c *IGDB) Search(ctx context.Context, query string, kind models.MediaKind, limit int) ([]models.NormalizedCandidate, error) {
	if kind != models.KindGame {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("unsupported kind %s", kind))
	}

	apicalypse := fmt.Sprintf("search %q; %s limit %d;", query, igdbFields, limit)
	body, err := c.doPost(ctx, "/games", apicalypse)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, permanentErr(c.Name(), "search", fmt.Errorf("decode response: %w", err))
	}

	candidates := make([]models.NormalizedCandidate, 0, len(raws))
	for _, raw := range raws {
		if len(candidates) >= limit {
			break
		}
		candidate, err := normalizeDocument(c.Name(), igdbGameMap, raw)
		if err != nil {
			continue
		}
		candidates = append(candidates, *candidate)
	}
	return candidates, nil
}

// Fetch implements Connector.
func (c *IGDB) Fetch(ctx context.Context, providerID string) (*models.NormalizedCandidate, error) {
	id, err := strconv.ParseInt(providerID, 10, 64)
	if err != nil {
		return nil, permanentErr(c.Name(), "fetch", fmt.Errorf("malformed provider id %q", providerID))
	}

	apicalypse := fmt.Sprintf("%s where id = %d;", igdbFields, id)
	body, err := c.doPost(ctx, "/games", apicalypse)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, permanentErr(c.Name(), "fetch", fmt.Errorf("decode response: %w", err))
	}
	if len(raws) == 0 {
		return nil, permanentErr(c.Name(), "fetch", fmt.Errorf("not found"))
	}

	return normalizeDocument(c.Name(), igdbGameMap, raws[0])
}

func (c *IGDB) doPost(ctx context.Context, endpoint, apicalypse string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retryableErr(c.Name(), "rate-limit", err)
	}

	// A 401 means the cached token was revoked upstream: refresh it and
	// retry the call once before reporting failure.
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, retryableErr(c.Name(), "token", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(apicalypse))
		if err != nil {
			return nil, permanentErr(c.Name(), "request", err)
		}
		req.Header.Set("Client-ID", c.clientID)
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
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, retryableErr(c.Name(), "request", fmt.Errorf("status %d", resp.StatusCode))
		default:
			return nil, permanentErr(c.Name(), "request", fmt.Errorf("status %d", resp.StatusCode))
		}
	}
}

// igdbCoverURL upgrades IGDB's protocol-relative thumbnail URLs to https
// full-size cover URLs.
func igdbCoverURL(u string) *string {
	if u == "" {
		return nil
	}
	u = strings.Replace(u, "t_thumb", "t_cover_big", 1)
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return &u
}
