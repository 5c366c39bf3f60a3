// recongraph server: provides the HTTP API, manages queue workers, and
// orchestrates mission processing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skyhound/recongraph/pkg/api"
	"github.com/skyhound/recongraph/pkg/cleanup"
	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/database"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/notify"
	"github.com/skyhound/recongraph/pkg/orchestrator"
	"github.com/skyhound/recongraph/pkg/queue"
	"github.com/skyhound/recongraph/pkg/reason"
	"github.com/skyhound/recongraph/pkg/recon"
	"github.com/skyhound/recongraph/pkg/redact"
	"github.com/skyhound/recongraph/pkg/reflection"
	"github.com/skyhound/recongraph/pkg/services"
	"github.com/skyhound/recongraph/pkg/store"
	"github.com/skyhound/recongraph/pkg/tools"
	"github.com/skyhound/recongraph/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting recongraph",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs pending migrations)
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
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Event bus with the durable log sink
	logStore := store.NewLogStore(dbClient.DB())
	bus := events.NewBus(events.WithSink(logStore))

	// 4. Stores and domain services
	missionStore := store.NewMissionStore(dbClient.DB())
	graphStore := store.NewGraphStore(dbClient.DB(), bus, redact.NewRedactor())
	layoutStore := store.NewLayoutStore(dbClient.DB())
	missionService := services.NewMissionService(missionStore, graphStore, bus, cfg)
	slog.Info("Services initialized")

	// 5. Tool registry: builtin collectors plus MCP-provided tools.
	// MCP servers that fail to connect are skipped with a warning; the
	// builtin set always remains available.
	registry := tools.NewRegistry(bus, cfg)
	tools.RegisterBuiltins(registry, tools.NewBuiltins())

	mcpProvider := tools.NewProvider(cfg.MCPServers)
	if err := mcpProvider.Initialize(ctx, registry); err != nil {
		slog.Error("Failed to initialize MCP provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mcpProvider.Close(); err != nil {
			slog.Error("Error closing MCP provider", "error", err)
		}
	}()
	if failed := mcpProvider.FailedServers(); len(failed) > 0 {
		slog.Warn("MCP servers failed to initialize", "failed_servers", failed)
	}
	slog.Info("Tool registry initialized", "tools", registry.Names())

	// 6. Reasoner, reflection, recon pipeline
	reasoner := reason.New(cfg.Reasoner)
	reflector := reflection.NewReflector(bus, graphStore, reasoner, cfg.Recon)
	pipeline := recon.NewPipeline(graphStore, missionStore, registry, reflector, reasoner, bus, cfg)

	// 7. Slack notifications (optional)
	var notifier *notify.Service
	if cfg.Slack != nil && cfg.Slack.Enabled {
		notifier = notify.NewService(notify.ServiceConfig{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.DashboardURL,
		})
		if notifier == nil {
			slog.Warn("Slack notifications enabled but token or channel is missing",
				"token_env", cfg.Slack.TokenEnv)
		} else {
			slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
		}
	}

	// 8. Orchestrator and worker pool (before the HTTP server, so health
	// reporting sees a running pool)
	orch := orchestrator.New(missionStore, graphStore, pipeline, bus, cfg, notifier)
	workerPool := queue.NewPool(missionStore, orch, cfg.Queue)
	workerPool.Start(ctx)

	// 9. WebSocket connection manager and retention cleanup
	connManager := events.NewConnectionManager(bus, logStore, 10*time.Second)
	cleanupService := cleanup.NewService(cfg.Retention, missionStore, logStore)
	cleanupService.Start(ctx)

	// 10. Create HTTP server
	httpServer := api.NewServer(cfg, dbClient, missionService, graphStore, layoutStore, bus)
	httpServer.SetWorkerPool(workerPool)
	httpServer.SetConnectionManager(connManager)
	if err := httpServer.ValidateWiring(); err != nil {
		slog.Error("Invalid server wiring", "error", err)
		os.Exit(1)
	}

	// 11. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("recongraph started successfully",
		"worker_id", workerPool.WorkerID(),
		"workers", cfg.Queue.WorkerCount)

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: stop claiming new missions and wait for active
	// ones, then drain the HTTP and streaming layers.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, incomplete missions will be orphan-recovered")
	}

	cleanupService.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	connManager.CloseAll()
	bus.Shutdown()

	slog.Info("Shutdown complete")
}
