package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kestrelsec/kestrel/internal/api"
	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/detect"
	"github.com/kestrelsec/kestrel/internal/engine"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/natsio"
	"github.com/kestrelsec/kestrel/internal/notify"
	"github.com/kestrelsec/kestrel/internal/store"
	"github.com/kestrelsec/kestrel/internal/store/postgres"
	"github.com/kestrelsec/kestrel/internal/validate"
)

// retentionSweepInterval is how often expired state is pruned.
const retentionSweepInterval = time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting Kestrel behavioral detection engine")

	httpAddr := getEnv("KESTREL_HTTP_ADDR", ":8080")
	natsURL := getEnv("KESTREL_NATS_URL", "nats://localhost:4222")
	databaseURL := getEnv("KESTREL_DATABASE_URL", "")
	tunablesPath := getEnv("KESTREL_TUNABLES_PATH", "")
	queue := getEnv("KESTREL_QUEUE", natsio.DefaultQueue)

	snapshot := config.FromEnv()
	logger.Info("Configuration loaded",
		"http_addr", httpAddr,
		"nats_url", natsURL,
		"durable_store", databaseURL != "",
		"retention_days", snapshot.RetentionDays,
		"session_idle_seconds", snapshot.SessionIdleSec,
		"alert_threshold", snapshot.AlertThreshold,
		"pattern_confidence_threshold", snapshot.PatternConfidence,
		"mining_window_seconds", snapshot.MiningWindowSec,
		"mining_interval_seconds", snapshot.MiningIntervalSec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second))
	if err != nil {
		logger.Error("Failed to connect to NATS", "url", natsURL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	logger.Info("Connected to NATS")

	configManager := config.NewManager(snapshot, logger)
	if err := configManager.Listen(nc); err != nil {
		logger.Warn("Dynamic configuration updates unavailable", "error", err)
	}

	tunables, err := detect.LoadTunables(tunablesPath, logger)
	if err != nil {
		logger.Error("Failed to load detection tunables", "path", tunablesPath, "error", err)
		os.Exit(1)
	}

	validator, err := validate.New(logger)
	if err != nil {
		logger.Error("Failed to compile event schema", "error", err)
		os.Exit(1)
	}

	prometheusMetrics := metrics.New()

	memory := store.NewMemory()
	var st store.Store = memory
	if databaseURL != "" {
		pg, err := postgres.New(databaseURL)
		if err != nil {
			logger.Error("Failed to open durable store", "error", err)
			os.Exit(1)
		}
		wt := store.NewWriteThrough(memory, pg)
		since := time.Now().UTC().Add(-configManager.Current().RetentionWindow())
		if err := wt.Load(ctx, since); err != nil {
			logger.Error("Failed to hydrate memory store", "error", err)
			os.Exit(1)
		}
		st = wt
		logger.Info("Durable store attached, memory hydrated")
	}
	defer st.Close()

	notifier := notify.NewNATSPublisher(nc, configManager.Current().NotifyQueueSize, logger, prometheusMetrics)
	defer notifier.Close()

	eng := engine.New(engine.Options{
		Config:    configManager,
		Validator: validator,
		Tunables:  tunables,
		Store:     st,
		Notifier:  notifier,
		Metrics:   prometheusMetrics,
		Logger:    logger,
	})
	defer eng.Close()

	subscriber := natsio.NewSubscriber(nc, eng, queue, prometheusMetrics, logger)
	go func() {
		if err := subscriber.Subscribe(ctx); err != nil {
			logger.Error("NATS subscriber error", "error", err)
		}
	}()

	go eng.RunMiningLoop(ctx)
	go eng.RunRetentionLoop(ctx, retentionSweepInterval)

	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: api.New(eng, nc, logger),
	}
	go func() {
		logger.Info("Starting HTTP server", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Kestrel started")
	<-sigChan

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := nc.Drain(); err != nil {
		logger.Error("NATS drain error", "error", err)
	}

	logger.Info("Kestrel stopped")
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
