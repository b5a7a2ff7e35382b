// Foresight pipeline server — provides HTTP API, manages queue workers,
// and drives article ingestion through prediction generation.
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

	"github.com/foresight-labs/foresight/pkg/analyst"
	"github.com/foresight-labs/foresight/pkg/api"
	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/crawler"
	"github.com/foresight-labs/foresight/pkg/ensemble"
	"github.com/foresight-labs/foresight/pkg/events"
	"github.com/foresight-labs/foresight/pkg/ingest"
	"github.com/foresight-labs/foresight/pkg/llm"
	"github.com/foresight-labs/foresight/pkg/outcome"
	"github.com/foresight-labs/foresight/pkg/pool"
	"github.com/foresight-labs/foresight/pkg/predict"
	"github.com/foresight-labs/foresight/pkg/queue"
	"github.com/foresight-labs/foresight/pkg/resilience"
	"github.com/foresight-labs/foresight/pkg/snapshot"
	"github.com/foresight-labs/foresight/pkg/store"
	"github.com/foresight-labs/foresight/pkg/store/memory"
	"github.com/foresight-labs/foresight/pkg/store/postgres"
	"github.com/foresight-labs/foresight/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
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

	podID := resolvePodID()

	slog.Info("Starting Foresight",
		"version", version.Full(),
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize the store: PostgreSQL when DATABASE_URL is set, otherwise
	// the in-memory store for local development.
	var db *store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		client, err := postgres.Connect(ctx, dsn)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		db = client.Store()
		slog.Info("Connected to PostgreSQL database")
	} else {
		db = memory.NewStore()
		slog.Warn("DATABASE_URL not set, using in-memory store; state will not survive restarts")
	}

	// 3. Resilience layer shared by all outbound services
	health := resilience.NewHealthTracker()
	executor := resilience.NewExecutor(cfg.Retry, health)

	// 4. LLM provider registry and gateway
	providers := make(map[string]llm.Provider, len(cfg.Providers))
	for name, providerCfg := range cfg.Providers {
		providers[name] = llm.NewHTTPProvider(name, providerCfg)
	}
	gateway := llm.NewGateway(
		providers,
		llm.NewTierResolver(cfg.TierModels, nil),
		llm.NewUsageLimiter(cfg.Usage, db.Usage),
		db.Usage,
		executor,
	)
	slog.Info("LLM gateway initialized", "providers", len(providers))

	// 5. Analyst bench and ensemble engine
	registry := analyst.NewRegistry(db.Analysts, db.ContextVersions, cfg.Ensemble.AnalystWeights)
	if err := registry.SeedBuiltinAnalysts(ctx, cfg.Analysts); err != nil {
		slog.Error("Failed to seed analyst bench", "error", err)
		os.Exit(1)
	}
	engine := ensemble.NewEngine(registry, gateway, db.Learnings, *cfg.Ensemble)

	// 6. Pipeline core
	publisher := events.NewPublisher(events.LogSink{})
	predictorPool := pool.NewPool(db.Predictors, publisher, cfg.Threshold)
	ingestor := ingest.NewIngestor(db, engine, cfg.Ingest, cfg.Threshold.PredictorTTLHours)
	generator := predict.NewGenerator(predict.Deps{
		Store:     db,
		Engine:    engine,
		Pool:      predictorPool,
		Registry:  registry,
		Snapshots: snapshot.NewWriter(db.Snapshots),
		Publisher: publisher,
	}, *cfg.Ensemble, getEnv("USER_CONTEXT", predict.SystemUser))
	resolver := outcome.NewResolver(db)
	slog.Info("Pipeline services initialized")

	// 7. Start worker pool (before HTTP server)
	workerPool := queue.NewWorkerPool(podID, db, cfg.Queue, ingestor, generator, resolver)
	workerPool.Start(ctx)

	// 8. Create HTTP server
	httpServer := api.NewServer(db, ingestor, generator, predictorPool, resolver, health, workerPool)
	if cfg.Crawler.BaseURL != "" {
		httpServer.SetCrawler(crawler.NewClient(cfg.Crawler, executor))
		slog.Info("Crawler bridge enabled", "base_url", cfg.Crawler.BaseURL)
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpServer.Router(),
	}

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Foresight started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: drain workers first so in-flight runs finish,
	// then close the HTTP listener.
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
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
		slog.Warn("Shutdown timeout exceeded, abandoning in-flight runs")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
