// Dossier research server: provides the HTTP API, runs the session
// queue workers, and executes the research pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dossier-hq/dossier/pkg/agent"
	"github.com/dossier-hq/dossier/pkg/api"
	"github.com/dossier-hq/dossier/pkg/cache"
	"github.com/dossier-hq/dossier/pkg/config"
	"github.com/dossier-hq/dossier/pkg/database"
	"github.com/dossier-hq/dossier/pkg/events"
	"github.com/dossier-hq/dossier/pkg/llm"
	"github.com/dossier-hq/dossier/pkg/orchestrator"
	"github.com/dossier-hq/dossier/pkg/queue"
	"github.com/dossier-hq/dossier/pkg/search"
	"github.com/dossier-hq/dossier/pkg/store"
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
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting dossier", "http_port", cfg.HTTPPort)

	// 2. Database (falls back to in-memory when not configured)
	var st store.Store
	if os.Getenv("DB_HOST") != "" {
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
		st = store.NewPostgresStore(dbClient.DB())
		slog.Info("Connected to PostgreSQL database")
	} else {
		st = store.NewMemoryStore()
		slog.Warn("DB_HOST not set, using in-memory store; sessions are lost on restart")
	}

	// 3. Redis: provider cache and cross-process progress events
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	var resultCache *cache.Cache
	if redisClient != nil {
		resultCache = cache.NewWithClient(redisClient, cfg.Redis.CacheTTL)
	} else {
		resultCache = cache.New(ctx, "", "", 0, cfg.Redis.CacheTTL)
	}

	bus := events.NewBus(redisClient)
	busCtx, stopBus := context.WithCancel(ctx)
	defer stopBus()
	go func() {
		if err := bus.Run(busCtx); err != nil {
			slog.Error("Progress bus stopped", "error", err)
		}
	}()

	// 4. LLM client
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.LLM.Model)

	// 5. Search providers
	providers := buildProviders(cfg.Search)
	fanout := search.NewFanout(providers, resultCache, cfg.Search.ProviderTimeout)
	slog.Info("Search providers configured", "providers", fanout.Providers())

	// 6. Pipeline orchestrator
	orch := orchestrator.New(st, bus,
		agent.NewResearcher(llmClient, fanout),
		agent.NewClarifier(llmClient),
		agent.NewAnalyst(llmClient),
		agent.NewFactChecker(llmClient),
		agent.NewReporter(llmClient),
		orchestrator.Config{
			StageTimeout: cfg.Pipeline.StageTimeout,
			ApprovalWait: cfg.Pipeline.ApprovalWait,
		})

	// 7. Worker pool (before the HTTP server)
	q := queue.New(st, orch, queue.Config{
		Workers:         cfg.Queue.WorkerCount,
		PollInterval:    cfg.Queue.PollInterval,
		MaxConcurrent:   cfg.Queue.MaxConcurrent,
		ShutdownTimeout: cfg.Queue.GracefulShutdownTimeout,
	})
	q.Start(ctx)
	defer q.Stop()

	// 8. HTTP server
	server := api.NewServer(st, q, bus, orch.Approvals(), cfg.Pipeline.DefaultMaxSources)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Dossier started", "workers", cfg.Queue.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Dossier stopped")
}

// buildProviders assembles the provider set. Key-less providers are
// always on; SerpAPI and NewsAPI join when their keys are present.
func buildProviders(cfg config.SearchConfig) []search.Provider {
	var providers []search.Provider
	if cfg.SerpAPIKey != "" {
		providers = append(providers, search.NewSerpAPIProvider(cfg.SerpAPIKey, nil))
	} else {
		slog.Warn("SERPAPI_API_KEY not set, web search disabled")
	}
	if cfg.NewsAPIKey != "" {
		providers = append(providers, search.NewNewsAPIProvider(cfg.NewsAPIKey, nil))
	} else {
		slog.Warn("NEWS_API_KEY not set, news search disabled")
	}
	providers = append(providers,
		search.NewArxivProvider(nil),
		search.NewPubMedProvider(nil),
		search.NewWikipediaProvider(nil),
	)
	return providers
}
