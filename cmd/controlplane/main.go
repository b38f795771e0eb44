// Control-plane server: run creation and queries, status transitions,
// cancellation, tenant metrics, and the run timeout monitor.
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

	"github.com/agentrun/agentrun/pkg/api"
	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/database"
	"github.com/agentrun/agentrun/pkg/queue"
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

	slog.Info("Starting control plane", "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

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

	backend := queue.NewPostgresBackend(dbClient.Pool())
	stepQueue := queue.NewStepQueue(backend, cfg.Queue.Name, cfg.Queue.DLQName)

	tenantService := services.NewTenantService(dbClient.Pool())
	taskService := services.NewTaskService(dbClient.Pool())
	stepService := services.NewStepService(dbClient.Pool())
	runService := services.NewRunService(dbClient.Pool(), taskService, tenantService, stepQueue)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitor := services.NewRunTimeoutMonitor(runService, cfg.ControlPlane.RunTimeoutCheckInterval)
	go monitor.Start(monitorCtx)

	server := api.NewServer(cfg.ControlPlane, dbClient.Pool(),
		runService, stepService, taskService, tenantService)

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

	stopMonitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	slog.Info("Control plane stopped")
}
