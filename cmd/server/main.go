// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tandem/internal/api"
	"github.com/tomtom215/tandem/internal/auth"
	"github.com/tomtom215/tandem/internal/capture"
	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/database"
	"github.com/tomtom215/tandem/internal/logging"
	"github.com/tomtom215/tandem/internal/supervisor"
	"github.com/tomtom215/tandem/internal/supervisor/services"
	ws "github.com/tomtom215/tandem/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
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
		Str("version", version).
		Str("driver", cfg.Database.Driver).
		Str("feed", cfg.Realtime.Feed).
		Bool("nats_build", capture.NATSEnabled).
		Msg("Starting Tandem")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, database.WithNotifyChannel(cfg.Realtime.NotifyChannel))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}

	feed, err := openFeed(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize change feed")
	}

	hub := ws.NewHub(jwtManager)
	wsConfig := ws.ClientConfig{
		AuthTimeout:  cfg.Realtime.AuthTimeout,
		PingInterval: cfg.Realtime.PingInterval,
		SendBuffer:   cfg.Realtime.SendBuffer,
	}

	handler := api.NewHandler(db, hub, wsConfig, cfg.API, version)
	if feed.publisher != nil {
		handler.SetChangePublisher(feed.publisher)
	}
	router := api.NewRouter(handler, jwtManager, api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(&cfg.Security)))

	bridge := capture.NewBridge(bridgeConfig(cfg.Realtime), db, db, hub)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Messaging layer
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewCaptureService(bridge, feed.feed))
	if feed.closer != nil {
		tree.AddMessagingService(services.NewCloserService(cfg.Realtime.Feed+"-transport", feed.closer))
	}
	logging.Info().Str("feed", feed.feed.Name()).Msg("WebSocket hub and capture bridge added to supervisor tree")

	// API layer
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
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

	logging.Info().Msg("Application stopped gracefully")
}
