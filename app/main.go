package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/timeline-sync/app/api"
	"github.com/lysyi3m/timeline-sync/app/avatar"
	"github.com/lysyi3m/timeline-sync/app/cache"
	"github.com/lysyi3m/timeline-sync/app/cfg"
	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/importer"
	"github.com/lysyi3m/timeline-sync/app/metrics"
	"github.com/lysyi3m/timeline-sync/app/remote"
	"github.com/lysyi3m/timeline-sync/app/service"
	"github.com/lysyi3m/timeline-sync/app/tasks"
)

func main() {
	config, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if config == nil {
		return
	}

	if config.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	slog.Info("Starting Timeline Sync", "version", config.Version)

	db, err := database.Open(config.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", config.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", db.Path(), "schema_version", version, "dirty", dirty)

	registry := service.NewRegistry(config.ServicesDir)
	if err := registry.Run(); err != nil {
		slog.Error("Failed to load service definitions", "dir", config.ServicesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded service definitions", "count", registry.GetCount(), "enabled", len(registry.GetEnabled()))

	m := metrics.New()

	uriCache := newURICache(config)
	defer uriCache.Close()

	client := remote.NewClient(remote.Options{
		UserAgent:        config.UserAgent,
		RequestRate:      config.RequestRate,
		BreakerThreshold: config.BreakerThreshold,
		BreakerDelay:     time.Duration(config.BreakerDelay) * time.Second,
	})

	avatars := avatar.NewSyncer(avatar.Options{
		Dir:     config.AvatarDir,
		BaseURL: config.AvatarURL,
		Fetcher: avatar.NewHTTPFetcher(nil, config.UserAgent),
		Metrics: m,
	})

	scheduler := tasks.NewScheduler(
		tasks.Options{
			MaxWorkers:    config.MaxWorkers,
			PollInterval:  time.Duration(config.PollInterval) * time.Second,
			WorkerTimeout: time.Duration(config.WorkerTimeout) * time.Second,
		},
		tasks.Dependencies{
			DB:       db,
			Opener:   database.NewOpener(config.DBPath),
			Services: registry,
			Client:   client,
			Import: importer.Options{
				SourceTag: config.SourceTag,
				Avatars:   avatars,
				Cache:     uriCache,
				Metrics:   m,
			},
			Metrics: m,
		},
	)

	slog.Info("Starting sync supervisor", "max_workers", config.MaxWorkers, "poll_interval", config.PollInterval)
	scheduler.Start()

	handler := api.NewHandler(db, registry, client, scheduler, uriCache, m, config.Version)
	router := api.NewServer(handler, api.ServerOptions{
		APIAccessKey: config.APIAccessKey,
		AvatarURL:    config.AvatarURL,
		AvatarDir:    config.AvatarDir,
	})

	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", config.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Waits for in-flight account workers.
	scheduler.Stop()

	stats := scheduler.Stats()
	slog.Info("Shutdown complete", "cycles", stats.Cycles, "succeeded", stats.Succeeded,
		"failed", stats.Failed, "crashed", stats.Crashed)
}

func newURICache(config *cfg.Cfg) cache.URICache {
	if config.RedisAddr == "" {
		return cache.Noop{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisCache, err := cache.NewRedis(ctx, config.RedisAddr, time.Duration(config.URICacheTTL)*time.Second)
	if err != nil {
		slog.Warn("Seen-URI cache unavailable, continuing without it", "addr", config.RedisAddr, "error", err)
		return cache.Noop{}
	}

	slog.Info("Seen-URI cache connected", "addr", config.RedisAddr)
	return redisCache
}
