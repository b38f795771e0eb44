// Orchestrator worker: polls the step queue, executes steps (llm through
// the gateway, tool/decision/parallel inline), drives retries through
// visibility-timeout redelivery, and finalizes runs.
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

	"github.com/agentrun/agentrun/pkg/agent"
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

// resolvePodID determines the pod identifier for multi-replica deployments.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
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

	podID := resolvePodID()
	slog.Info("Starting worker", "pod_id", podID, "config_dir", *configDir)

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
	eventService := services.NewEventService(dbClient.Pool())
	runService := services.NewRunService(dbClient.Pool(), taskService, tenantService, stepQueue)

	gatewayClient := agent.NewGatewayClient(cfg.Worker)
	dispatcher := agent.NewToolDispatcher(eventService, agent.BuiltinTools()...)
	executor := agent.NewExecutor(gatewayClient, dispatcher, stepService, cfg.Worker.LLMCallLimit)
	processor := agent.NewProcessor(runService, stepService, executor, stepQueue, cfg.Step)

	pool := queue.NewWorkerPool(podID, stepQueue, cfg.Queue, cfg.Worker, processor)
	poolCtx, stopPool := context.WithCancel(ctx)
	if err := pool.Start(poolCtx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	healthServer := queue.NewHealthServer(cfg.Worker.HealthListenAddr, pool)
	errCh := make(chan error, 1)
	go func() { errCh <- healthServer.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("Health server failed", "error", err)
		}
	}

	stopPool()
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	slog.Info("Worker stopped")
}
