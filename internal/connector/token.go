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
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// refreshSkew refreshes tokens this long before their actual expiry so an
// in-flight request never carries a token that dies mid-call.
const refreshSkew = time.Minute

// tokenSource caches an OAuth client-credentials access token and refreshes
// it proactively. IGDB (Twitch) and Spotify both use this flow.
type tokenSource struct {
	mu           sync.Mutex
	token        string
	expiresAt    time.Time
	tokenURL     string
	clientID     string
	clientSecret string
	style        tokenRequestStyle
	httpClient   *http.Client
	now          func() time.Time
}

// tokenRequestStyle covers the two encodings the supported providers use for
// the client-credentials grant.
type tokenRequestStyle int

const (
	// tokenStyleForm sends credentials as form values in the body
	// (Twitch accepts either; body keeps them out of URLs and proxies).
	tokenStyleForm tokenRequestStyle = iota
	// tokenStyleBasicAuth sends credentials via HTTP basic auth (Spotify).
	tokenStyleBasicAuth
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func newTokenSource(tokenURL, clientID, clientSecret string, style tokenRequestStyle, httpClient *http.Client) *tokenSource {
	return &tokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		style:        style,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing if the cached one is absent
// or within the refresh skew of expiring.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Add(refreshSkew).Before(ts.expiresAt) {
		return ts.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if ts.style == tokenStyleForm {
		form.Set("client_id", ts.clientID)
		form.Set("client_secret", ts.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if ts.style == tokenStyleBasicAuth {
		req.SetBasicAuth(ts.clientID, ts.clientSecret)
	}

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Body intentionally not included: some providers echo credentials
		// back in error payloads.
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	ts.token = tr.AccessToken
	ts.expiresAt = ts.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return ts.token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Called after an upstream 401.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}
