// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/curio/config.yaml",
	"/etc/curio/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default returns a Config with built-in defaults. These are applied first,
// then overridden by the config file and env vars.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8460,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/curio.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Cache: CacheConfig{
			Path:       "/data/previews",
			InMemory:   false,
			GCInterval: 5 * time.Minute,
		},
		Search: SearchConfig{
			QuotaWindow:          time.Minute,
			QuotaMaxRequests:     10,
			QuotaPolicy:          QuotaPolicyRejectExternal,
			ProviderTimeout:      5 * time.Second,
			AggregateTimeout:     8 * time.Second,
			PreviewTTL:           15 * time.Minute,
			DefaultProviderLimit: 10,
			MaxProviderLimit:     25,
			DefaultPageSize:      20,
			MaxPageSize:          100,
		},
		Ingest: IngestConfig{
			RawPayloadMaxBytes:    64 << 10, // 64KiB
			MetadataValueMaxBytes: 4 << 10,  // 4KiB
			RedactAfter:           90 * 24 * time.Hour,
			RedactSweepInterval:   time.Hour,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CooldownBase:     30 * time.Second,
			CooldownMax:      10 * time.Minute,
			Interval:         time.Minute,
		},
		Providers: ProvidersConfig{
			TMDB: TMDBConfig{
				Enabled:        false,
				BaseURL:        "https://api.themoviedb.org/3",
				RequestsPerSec: 4,
			},
			GoogleBooks: GoogleBooksConfig{
				Enabled:        false,
				BaseURL:        "https://www.googleapis.com/books/v1",
				RequestsPerSec: 2,
			},
			IGDB: IGDBConfig{
				Enabled:        false,
				BaseURL:        "https://api.igdb.com/v4",
				TokenURL:       "https://id.twitch.tv/oauth2/token",
				RequestsPerSec: 4,
			},
			Spotify: SpotifyConfig{
				Enabled:        false,
				BaseURL:        "https://api.spotify.com/v1",
				TokenURL:       "https://accounts.spotify.com/api/token",
				RequestsPerSec: 5,
			},
		},
		Security: SecurityConfig{
			JWTSecret:         "",
			HealthAllowlist:   []string{},
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied via env vars.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.health_allowlist",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - SEARCH_QUOTA_MAX_REQUESTS -> search.quota_max_requests
//   - TMDB_API_KEY -> providers.tmdb.api_key
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Preview cache mappings
		"cache_path":        "cache.path",
		"cache_in_memory":   "cache.in_memory",
		"cache_gc_interval": "cache.gc_interval",

		// Search mappings
		"search_quota_window":       "search.quota_window",
		"search_quota_max_requests": "search.quota_max_requests",
		"search_quota_policy":       "search.quota_policy",
		"search_provider_timeout":   "search.provider_timeout",
		"search_aggregate_timeout":  "search.aggregate_timeout",
		"search_preview_ttl":        "search.preview_ttl",
		"search_provider_limit":     "search.default_provider_limit",
		"search_max_provider_limit": "search.max_provider_limit",
		"search_default_page_size":  "search.default_page_size",
		"search_max_page_size":      "search.max_page_size",

		// Ingest mappings
		"ingest_raw_payload_max_bytes":    "ingest.raw_payload_max_bytes",
		"ingest_metadata_value_max_bytes": "ingest.metadata_value_max_bytes",
		"ingest_redact_after":             "ingest.redact_after",
		"ingest_redact_sweep_interval":    "ingest.redact_sweep_interval",

		// Circuit breaker mappings
		"breaker_failure_threshold": "breaker.failure_threshold",
		"breaker_cooldown_base":     "breaker.cooldown_base",
		"breaker_cooldown_max":      "breaker.cooldown_max",
		"breaker_interval":          "breaker.interval",

		// Provider mappings
		"tmdb_enabled":          "providers.tmdb.enabled",
		"tmdb_api_key":          "providers.tmdb.api_key",
		"tmdb_base_url":         "providers.tmdb.base_url",
		"tmdb_requests_per_sec": "providers.tmdb.requests_per_sec",

		"google_books_enabled":          "providers.google_books.enabled",
		"google_books_api_key":          "providers.google_books.api_key",
		"google_books_base_url":         "providers.google_books.base_url",
		"google_books_requests_per_sec": "providers.google_books.requests_per_sec",

		"igdb_enabled":          "providers.igdb.enabled",
		"igdb_client_id":        "providers.igdb.client_id",
		"igdb_client_secret":    "providers.igdb.client_secret",
		"igdb_base_url":         "providers.igdb.base_url",
		"igdb_token_url":        "providers.igdb.token_url",
		"igdb_requests_per_sec": "providers.igdb.requests_per_sec",

		"spotify_enabled":          "providers.spotify.enabled",
		"spotify_client_id":        "providers.spotify.client_id",
		"spotify_client_secret":    "providers.spotify.client_secret",
		"spotify_base_url":         "providers.spotify.base_url",
		"spotify_token_url":        "providers.spotify.token_url",
		"spotify_requests_per_sec": "providers.spotify.requests_per_sec",

		// Security mappings
		"jwt_secret":          "security.jwt_secret",
		"health_allowlist":    "security.health_allowlist",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables do not
	// pollute the config.
	return ""
}
