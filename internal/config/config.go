// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package config defines the Curio configuration model and its koanf-based
// loader. Precedence is ENV > YAML file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Curio server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Search    SearchConfig    `koanf:"search"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Providers ProvidersConfig `koanf:"providers"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings for the durable catalog store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// CacheConfig holds BadgerDB settings for the preview cache store.
type CacheConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"` // tests and ephemeral deployments
	GCInterval time.Duration `koanf:"gc_interval"`
}

// QuotaPolicy values control what a quota denial does to the request.
const (
	// QuotaPolicyRejectExternal returns internal results and surfaces the
	// quota error in response metadata.
	QuotaPolicyRejectExternal = "reject_external"
	// QuotaPolicyRejectRequest rejects the whole request with 429.
	QuotaPolicyRejectRequest = "reject_request"
)

// SearchConfig holds fan-out, quota, paging and preview settings.
type SearchConfig struct {
	// QuotaWindow and QuotaMaxRequests bound external searches per user:
	// at most QuotaMaxRequests within the trailing QuotaWindow.
	QuotaWindow      time.Duration `koanf:"quota_window"`
	QuotaMaxRequests int           `koanf:"quota_max_requests"`

	// QuotaPolicy decides whether a quota denial suppresses only the
	// external portion or the entire request. One consistent choice,
	// never mixed per request.
	QuotaPolicy string `koanf:"quota_policy"`

	// ProviderTimeout bounds a single provider call; AggregateTimeout
	// bounds the whole fan-out. Providers still in flight at the
	// aggregate deadline are treated as failed.
	ProviderTimeout  time.Duration `koanf:"provider_timeout"`
	AggregateTimeout time.Duration `koanf:"aggregate_timeout"`

	PreviewTTL time.Duration `koanf:"preview_ttl"`

	DefaultProviderLimit int `koanf:"default_provider_limit"`
	MaxProviderLimit     int `koanf:"max_provider_limit"`
	DefaultPageSize      int `koanf:"default_page_size"`
	MaxPageSize          int `koanf:"max_page_size"`
}

// IngestConfig holds normalization caps and retention settings.
type IngestConfig struct {
	// RawPayloadMaxBytes caps the verbatim upstream payload stored in a
	// provenance row; MetadataValueMaxBytes caps each metadata value.
	// Truncation is flagged, never silent.
	RawPayloadMaxBytes    int `koanf:"raw_payload_max_bytes"`
	MetadataValueMaxBytes int `koanf:"metadata_value_max_bytes"`

	// RedactAfter is the raw-payload retention age; the sweep replaces
	// older payloads with a structured marker.
	RedactAfter         time.Duration `koanf:"redact_after"`
	RedactSweepInterval time.Duration `koanf:"redact_sweep_interval"`
}

// BreakerConfig holds circuit breaker thresholds shared by all providers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold uint32 `koanf:"failure_threshold"`

	// CooldownBase is the first open-state cooldown; each failed probe
	// doubles it up to CooldownMax.
	CooldownBase time.Duration `koanf:"cooldown_base"`
	CooldownMax  time.Duration `koanf:"cooldown_max"`

	// Interval resets rolling counts while closed.
	Interval time.Duration `koanf:"interval"`
}

// ProvidersConfig groups the external catalog provider settings.
type ProvidersConfig struct {
	TMDB        TMDBConfig        `koanf:"tmdb"`
	GoogleBooks GoogleBooksConfig `koanf:"google_books"`
	IGDB        IGDBConfig        `koanf:"igdb"`
	Spotify     SpotifyConfig     `koanf:"spotify"`
}

// TMDBConfig configures the TMDB film/TV connector.
type TMDBConfig struct {
	Enabled        bool    `koanf:"enabled"`
	APIKey         string  `koanf:"api_key"`
	BaseURL        string  `koanf:"base_url"`
	RequestsPerSec float64 `koanf:"requests_per_sec"`
}

// GoogleBooksConfig configures the Google Books connector.
type GoogleBooksConfig struct {
	Enabled        bool    `koanf:"enabled"`
	APIKey         string  `koanf:"api_key"`
	BaseURL        string  `koanf:"base_url"`
	RequestsPerSec float64 `koanf:"requests_per_sec"`
}

// IGDBConfig configures the IGDB game connector. IGDB authenticates with a
// Twitch OAuth client-credentials token that expires; the adapter caches it
// with its expiry and refreshes proactively.
type IGDBConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ClientID       string  `koanf:"client_id"`
	ClientSecret   string  `koanf:"client_secret"`
	BaseURL        string  `koanf:"base_url"`
	TokenURL       string  `koanf:"token_url"`
	RequestsPerSec float64 `koanf:"requests_per_sec"`
}

// SpotifyConfig configures the Spotify album connector (client-credentials
// flow, same token-cache discipline as IGDB).
type SpotifyConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ClientID       string  `koanf:"client_id"`
	ClientSecret   string  `koanf:"client_secret"`
	BaseURL        string  `koanf:"base_url"`
	TokenURL       string  `koanf:"token_url"`
	RequestsPerSec float64 `koanf:"requests_per_sec"`
}

// SecurityConfig holds auth and HTTP protection settings. Session issuance
// lives in the external auth service; Curio only validates bearer tokens.
type SecurityConfig struct {
	JWTSecret string `koanf:"jwt_secret"`

	// HealthAllowlist lists user subjects allowed to read the full
	// circuit breaker state from the health endpoint.
	HealthAllowlist []string `koanf:"health_allowlist"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// EnabledProviders returns the names of all enabled providers in stable order.
func (p *ProvidersConfig) EnabledProviders() []string {
	var names []string
	if p.TMDB.Enabled {
		names = append(names, "tmdb")
	}
	if p.GoogleBooks.Enabled {
		names = append(names, "google_books")
	}
	if p.IGDB.Enabled {
		names = append(names, "igdb")
	}
	if p.Spotify.Enabled {
		names = append(names, "spotify")
	}
	return names
}

// Validate performs sanity checks after all layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if !c.Cache.InMemory && c.Cache.Path == "" {
		return fmt.Errorf("cache.path must not be empty unless cache.in_memory is set")
	}

	switch c.Search.QuotaPolicy {
	case QuotaPolicyRejectExternal, QuotaPolicyRejectRequest:
	default:
		return fmt.Errorf("search.quota_policy must be %q or %q, got %q",
			QuotaPolicyRejectExternal, QuotaPolicyRejectRequest, c.Search.QuotaPolicy)
	}

	if c.Search.QuotaWindow <= 0 {
		return fmt.Errorf("search.quota_window must be positive")
	}
	if c.Search.QuotaMaxRequests <= 0 {
		return fmt.Errorf("search.quota_max_requests must be positive")
	}
	if c.Search.PreviewTTL <= 0 {
		return fmt.Errorf("search.preview_ttl must be positive")
	}
	if c.Search.ProviderTimeout <= 0 || c.Search.AggregateTimeout <= 0 {
		return fmt.Errorf("search timeouts must be positive")
	}
	if c.Search.ProviderTimeout > c.Search.AggregateTimeout {
		return fmt.Errorf("search.provider_timeout must not exceed search.aggregate_timeout")
	}
	if c.Search.MaxProviderLimit < c.Search.DefaultProviderLimit {
		return fmt.Errorf("search.max_provider_limit must be >= search.default_provider_limit")
	}
	if c.Search.MaxPageSize < c.Search.DefaultPageSize {
		return fmt.Errorf("search.max_page_size must be >= search.default_page_size")
	}

	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.CooldownBase <= 0 || c.Breaker.CooldownMax < c.Breaker.CooldownBase {
		return fmt.Errorf("breaker cooldowns invalid: base=%s max=%s",
			c.Breaker.CooldownBase, c.Breaker.CooldownMax)
	}

	if c.Ingest.RawPayloadMaxBytes <= 0 || c.Ingest.MetadataValueMaxBytes <= 0 {
		return fmt.Errorf("ingest byte caps must be positive")
	}
	if c.Ingest.RedactAfter <= 0 {
		return fmt.Errorf("ingest.redact_after must be positive")
	}

	if c.Providers.IGDB.Enabled && (c.Providers.IGDB.ClientID == "" || c.Providers.IGDB.ClientSecret == "") {
		return fmt.Errorf("providers.igdb requires client_id and client_secret when enabled")
	}
	if c.Providers.Spotify.Enabled && (c.Providers.Spotify.ClientID == "" || c.Providers.Spotify.ClientSecret == "") {
		return fmt.Errorf("providers.spotify requires client_id and client_secret when enabled")
	}
	if c.Providers.TMDB.Enabled && c.Providers.TMDB.APIKey == "" {
		return fmt.Errorf("providers.tmdb requires api_key when enabled")
	}

	if c.Security.JWTSecret == "" && c.Server.Environment == "production" {
		return fmt.Errorf("security.jwt_secret is required in production")
	}

	return nil
}
