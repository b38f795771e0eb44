// LLM gateway server: provider routing with circuit breakers and failover,
// budget and rate enforcement over Redis, usage reconciliation into
// Postgres.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/database"
	"github.com/agentrun/agentrun/pkg/gateway"
	"github.com/agentrun/agentrun/pkg/metrics"
	"github.com/agentrun/agentrun/pkg/providers"
	"github.com/agentrun/agentrun/pkg/services"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	slog.Info("Starting LLM gateway", "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded", "providers", stats.Providers, "priced_models", stats.PricedModels)

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	redisClient, err := database.NewRedisClient(ctx, database.RedisURLFromEnv())
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("Connected to Redis")

	provs, err := providers.Build(cfg.Providers)
	if err != nil {
		slog.Error("Failed to build providers", "error", err)
		os.Exit(1)
	}
	router := providers.NewRouter(provs, cfg.Gateway.ProviderPriority,
		cfg.CircuitBreaker.FailMax, cfg.CircuitBreaker.Timeout,
		func(provider, _, to string) {
			metrics.BreakerTransitions.WithLabelValues(provider, to).Inc()
		})

	tenantService := services.NewTenantService(dbClient.Pool())
	eventService := services.NewEventService(dbClient.Pool())

	budget := gateway.NewBudgetCache(redisClient, tenantService, cfg.Budget)
	limiter := gateway.NewRateLimiter(redisClient, cfg.RateLimit)
	cost := providers.NewCostCalculator(cfg.Pricing)
	service := gateway.NewService(cfg, router, cost, budget, limiter, eventService)

	reconcilerCtx, stopReconciler := context.WithCancel(ctx)
	reconciler := gateway.NewReconciler(budget, tenantService, cfg.Budget)
	go reconciler.Start(reconcilerCtx)

	server := gateway.NewServer(cfg.Gateway, service)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	stopReconciler()
	slog.Info("LLM gateway stopped")
}
