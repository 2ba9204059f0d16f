// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

// Package main is the entry point for the Herdmap server.
//
// Herdmap ingests GPS reports from collar trackers in the field, keeps a
// full position history plus a current-position table in DuckDB, and fans
// every accepted report out to live consumers over SSE and WebSocket.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and optional config file (Koanf v2)
//  2. Database: DuckDB with history and current-location tables
//  3. Broadcaster: in-process Watermill pub/sub for accepted reports
//  4. WebSocket Hub: live feed for the farm dashboard
//  5. HTTP Server: ingestion, snapshot, history, SSE stream and health endpoints
//
// All long-running components run under a suture supervisor tree so a crash
// in one layer restarts that layer without taking the process down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, DUCKDB_PATH, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Closes the broadcaster and database connections
//
// # Example Usage
//
// Development with an in-memory database:
//
//	export DUCKDB_PATH=
//	export LOG_LEVEL=debug
//	./herdmap
//
// Production:
//
//	export DUCKDB_PATH=/data/herdmap.duckdb
//	export CORS_ORIGINS=https://dashboard.example.farm
//	./herdmap
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/herdmap/internal/api"
	"github.com/tomtom215/herdmap/internal/broadcast"
	"github.com/tomtom215/herdmap/internal/config"
	"github.com/tomtom215/herdmap/internal/database"
	"github.com/tomtom215/herdmap/internal/logging"
	"github.com/tomtom215/herdmap/internal/supervisor"
	"github.com/tomtom215/herdmap/internal/supervisor/services"
	ws "github.com/tomtom215/herdmap/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("db_path", cfg.Database.Path).
		Dur("heartbeat", cfg.Stream.HeartbeatInterval).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	broadcaster := broadcast.NewBroadcaster(cfg.Stream.BufferSize)
	defer func() {
		if err := broadcaster.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing broadcaster")
		}
	}()

	wsHub := ws.NewHub()

	// Context for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility.
	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	handler := api.NewHandler(db, cfg, broadcaster, wsHub)
	router := api.NewRouter(handler, api.NewChiMiddleware(&cfg.Security))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Messaging layer: hub event loop plus the broadcaster-to-hub bridge.
	tree.AddMessagingService(services.NewWebSocketHubService(wsHub))
	tree.AddMessagingService(services.NewBroadcastBridgeService(broadcaster, wsHub))
	logging.Info().Msg("WebSocket hub and broadcast bridge added to supervisor tree")

	// API layer.
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel so shutdown errors are not lost.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Server stopped gracefully")
}
