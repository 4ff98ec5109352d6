package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/karthikraju391/go-nats-chat-stream/cache"
	"github.com/karthikraju391/go-nats-chat-stream/config"
	"github.com/karthikraju391/go-nats-chat-stream/fetcher"
	"github.com/karthikraju391/go-nats-chat-stream/handlers"
	applog "github.com/karthikraju391/go-nats-chat-stream/logger"
	"github.com/karthikraju391/go-nats-chat-stream/nats_service"
	"github.com/karthikraju391/go-nats-chat-stream/store"
	"github.com/karthikraju391/go-nats-chat-stream/stream"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (default ./config.yaml)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := applog.NewLogger(cfg.Log.Level, cfg.Log.JSON)

	// --- Cache, optionally persisted ---
	var persister cache.Persister
	if cfg.Cache.Path != "" {
		db, err := store.Open(cfg.Cache.Path, log.With("component", "store"))
		if err != nil {
			log.Error("Failed to open stream cache database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.Cache.MaxAge > 0 {
			pruneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := db.Prune(pruneCtx, time.Now().Add(-cfg.Cache.MaxAge))
			cancel()
			if err != nil {
				log.Warn("Failed to prune stream cache", "error", err)
			} else {
				log.Info("Pruned stream cache", "removed", n)
			}
		}
		persister = db
	}
	streamCache := cache.New[stream.State](log, persister)

	// --- Upstream history API ---
	client := fetcher.NewClient(fetcher.ClientConfig{
		BaseURL:   cfg.Upstream.BaseURL,
		APIKey:    cfg.Upstream.APIKey,
		APISecret: cfg.Upstream.APISecret,
		Timeout:   cfg.Upstream.Timeout,
	}, log)

	// --- Initialize NATS Service ---
	natsSvc, err := nats_service.NewNatsService(cfg.Nats, log)
	if err != nil {
		log.Error("Failed to initialize NATS Service", "error", err)
		os.Exit(1)
	}
	defer natsSvc.Close()
	log.Info("NATS Service Initialized", "url", cfg.Nats.URL)

	// --- Initialize Fiber App ---
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(logger.New()) // Basic request logging
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	h := handlers.New(client, streamCache, natsSvc, natsSvc, handlers.Options{
		Server:            cfg.Server,
		HighlightDuration: cfg.Stream.HighlightDuration,
		NewerPageSize:     cfg.Upstream.NewerPageSize,
		Logger:            log,
	})
	h.Register(app)

	// --- Start Server ---
	go func() {
		log.Info("Starting server", "addr", cfg.Server.Addr)
		if err := app.Listen(cfg.Server.Addr); err != nil {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit // Block until signal received

	log.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("Error shutting down Fiber", "error", err)
	}

	// NATS connection and cache database are closed by defers in main

	log.Info("Server gracefully stopped")
}
