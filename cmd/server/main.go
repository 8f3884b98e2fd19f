package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandantas/vcollab/internal/config"
	"github.com/dandantas/vcollab/internal/database"
	"github.com/dandantas/vcollab/internal/graph"
	"github.com/dandantas/vcollab/internal/handler"
	"github.com/dandantas/vcollab/internal/kvcache"
	"github.com/dandantas/vcollab/internal/lock"
	"github.com/dandantas/vcollab/internal/notify"
	"github.com/dandantas/vcollab/internal/scheduler"
	"github.com/dandantas/vcollab/internal/topology"
	"github.com/dandantas/vcollab/pkg/middleware"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	slog.Info("Starting vcollab service", "version", version)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to MongoDB
	db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	// Create indexes
	if err := database.CreateIndexes(ctx, db, cfg.InlineCollections...); err != nil {
		slog.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	// Lock stores, manager and reaper
	lockStore := lock.NewRoutedStore(
		database.NewInlineLockStore(db, cfg.InlineCollections...),
		database.NewStandaloneLockStore(db),
	)
	lockManager := lock.NewManager(lockStore,
		lock.WithDefaultTTL(cfg.LockDefaultTTL),
		lock.WithMaxTTL(cfg.LockMaxTTL),
	)
	reaper := lock.NewReaper(lockStore.Stores()...)

	// Optional Redis mirror for the topology snapshot
	var cacheOpts []topology.CacheOption
	var kvPinger handler.Pinger
	var mirror *kvcache.RedisMirror
	if cfg.RedisAddr != "" {
		mirror, err = kvcache.Connect(ctx, kvcache.Config{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Deployment: cfg.DeploymentName,
			TTL:        cfg.RedisTTL,
		})
		if err != nil {
			slog.Warn("Redis unavailable, running without snapshot mirror", "addr", cfg.RedisAddr, "error", err)
		} else {
			cacheOpts = append(cacheOpts, topology.WithMirror(mirror))
			kvPinger = mirror
			defer func() {
				if err := mirror.Close(); err != nil {
					slog.Error("Failed to close Redis client", "error", err)
				}
			}()
		}
	}

	// Topology cache, warmed from the mirror when one is configured
	cache := topology.NewCache(cacheOpts...)
	if warmed, err := cache.Warm(ctx); err != nil {
		slog.Warn("Failed to warm topology cache", "error", err)
	} else if warmed {
		slog.Info("Serving mirrored topology snapshot until the first fetch")
	}

	// Topology fetcher
	var fetcher *topology.Fetcher
	var refresher handler.Refresher
	if cfg.FetchEnabled {
		source, err := topology.NewSource(topology.SourceConfig{
			UseMock:        cfg.TopologyUseMock,
			Host:           cfg.VSphereHost,
			Username:       cfg.VSphereUsername,
			Password:       cfg.VSpherePassword,
			Insecure:       cfg.VSphereInsecure,
			Root:           cfg.TopologyRoot,
			MockHosts:      cfg.MockHosts,
			MockVMsPerHost: cfg.MockVMsPerHost,
		})
		if err != nil {
			slog.Error("Failed to configure topology source", "error", err)
			os.Exit(1)
		}

		var fetcherOpts []topology.FetcherOption
		notifier := notify.New(notify.Config{
			URL:        cfg.AlertWebhookURL,
			Threshold:  cfg.AlertFailureThreshold,
			Deployment: cfg.DeploymentName,
			Timeout:    cfg.AlertWebhookTimeout,
		})
		if notifier.Enabled() {
			fetcherOpts = append(fetcherOpts, topology.WithReporter(notifier))
		}

		fetcher = topology.NewFetcher(source, cache, topology.FetcherConfig{
			Timeout:      cfg.FetchTimeout,
			AllowPartial: cfg.FetchAllowPartial,
		}, fetcherOpts...)
		refresher = fetcher
	} else {
		slog.Info("Topology fetching disabled")
	}

	// Graph projection
	groupKey, err := graph.JSONPathKey(cfg.TopologyGroupBy)
	if err != nil {
		slog.Error("Invalid TOPOLOGY_GROUP_BY", "error", err)
		os.Exit(1)
	}
	graphs := graph.NewService(cache, graph.NewBuilder(groupKey))

	// Initialize scheduler
	sched := scheduler.New(cfg, reaper, fetcher)
	if err := sched.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	lockHandler := handler.NewLockHandler(lockManager)
	topologyHandler := handler.NewTopologyHandler(cache, graphs, refresher)
	healthHandler := handler.NewHealthHandler(db, kvPinger, cache, version)

	// Create CORS config
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	// Create router
	router := handler.NewRouter(lockHandler, topologyHandler, healthHandler, corsConfig)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop scheduler first (waits for an in-flight fetch or sweep)
	slog.Info("Stopping scheduler...")
	sched.Stop(shutdownCtx)

	// Shutdown HTTP server
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("vcollab service stopped")
}
