// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Command server runs the Curio HTTP service: aggregated media search over
// the local catalog and external providers, ephemeral previews, and
// explicit ingestion into the durable catalog.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curioproject/curio/internal/api"
	"github.com/curioproject/curio/internal/auth"
	"github.com/curioproject/curio/internal/breaker"
	"github.com/curioproject/curio/internal/catalog"
	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/connector"
	"github.com/curioproject/curio/internal/ingest"
	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/preview"
	"github.com/curioproject/curio/internal/quota"
	"github.com/curioproject/curio/internal/search"
	"github.com/curioproject/curio/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Strs("providers", cfg.Providers.EnabledProviders()).
		Msg("starting curio")

	store, err := catalog.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	previews, err := preview.Open(cfg.Cache, cfg.Search.PreviewTTL)
	if err != nil {
		return fmt.Errorf("open preview store: %w", err)
	}
	defer previews.Close()

	connectors := buildConnectors(cfg)
	breakers := breaker.NewRegistry(cfg.Breaker, cfg.Providers.EnabledProviders())
	enforcer := quota.NewEnforcer(cfg.Search.QuotaWindow, cfg.Search.QuotaMaxRequests)

	searchSvc := search.NewService(store, previews, connectors, breakers, enforcer,
		cfg.Search, cfg.Ingest.MetadataValueMaxBytes)
	ingestSvc := ingest.NewService(store, connectors, breakers, cfg.Ingest)
	authenticator := auth.NewAuthenticator(cfg.Security)

	handler := api.NewHandler(searchSvc, ingestSvc, previews, breakers, authenticator, cfg)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	tree.AddMaintenanceService(supervisor.NewFuncService("preview-gc",
		func(ctx context.Context) error {
			return previews.RunGC(ctx, cfg.Cache.GCInterval)
		}))
	tree.AddMaintenanceService(supervisor.NewTickerService("quota-cleanup",
		cfg.Search.QuotaWindow, func(ctx context.Context) error {
			enforcer.CleanupInactive()
			return nil
		}))
	tree.AddMaintenanceService(supervisor.NewFuncService("provenance-redaction",
		ingestSvc.RunRedactionSweep))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("listening")
	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

// buildConnectors instantiates an adapter for each enabled provider, in the
// stable order the search merge relies on.
func buildConnectors(cfg *config.Config) []connector.Connector {
	timeout := cfg.Search.ProviderTimeout
	var connectors []connector.Connector
	if cfg.Providers.TMDB.Enabled {
		connectors = append(connectors, connector.NewTMDB(cfg.Providers.TMDB, timeout))
	}
	if cfg.Providers.GoogleBooks.Enabled {
		connectors = append(connectors, connector.NewGoogleBooks(cfg.Providers.GoogleBooks, timeout))
	}
	if cfg.Providers.IGDB.Enabled {
		connectors = append(connectors, connector.NewIGDB(cfg.Providers.IGDB, timeout))
	}
	if cfg.Providers.Spotify.Enabled {
		connectors = append(connectors, connector.NewSpotify(cfg.Providers.Spotify, timeout))
	}
	return connectors
}
