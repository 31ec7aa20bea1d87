package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/arturoeanton/tds-virtual-ta/internal/adapter/store"
	"github.com/arturoeanton/tds-virtual-ta/internal/handler"
	"github.com/arturoeanton/tds-virtual-ta/internal/logging"
	"github.com/arturoeanton/tds-virtual-ta/internal/mcp"
	"github.com/arturoeanton/tds-virtual-ta/internal/metrics"
	"github.com/arturoeanton/tds-virtual-ta/internal/middleware"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
	"github.com/arturoeanton/tds-virtual-ta/internal/service"
	"github.com/arturoeanton/tds-virtual-ta/pkg/config"
)

// repository is satisfied by both the SQL and the in-memory store.
type repository interface {
	port.ContentRepository
	port.EmbeddingRepository
	port.QuestionRepository
	port.ConfigRepository
}

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	logging.Init(cfg.Environment)

	slog.Info("🚀 Starting TDS Virtual TA",
		"port", cfg.Port,
		"database", cfg.DatabaseDriver,
		"embedding_provider", cfg.EmbeddingProvider,
		"completion_provider", cfg.CompletionProvider,
		"mcp_enabled", cfg.MCPEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// ── Database ─────────────────────────────────────────────────────────
	var (
		repo   repository
		pinger handler.Pinger
	)
	switch cfg.DatabaseDriver {
	case "memory":
		repo = store.NewMemoryStore()
	default:
		sqlStore, err := store.NewSQLStore(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer sqlStore.Close()
		repo, pinger = sqlStore, sqlStore
	}

	// ── Adapters ─────────────────────────────────────────────────────────
	prov := buildProviders(cfg)

	vectorStore := store.NewVectorStore(repo, prov.dimension)
	if err := vectorStore.Load(ctx); err != nil {
		slog.Error("failed to load embeddings", "error", err)
		os.Exit(1)
	}

	rules, err := service.LoadFallbackRules(cfg.FallbackRulesPath)
	if err != nil {
		slog.Error("failed to load fallback rules", "error", err)
		os.Exit(1)
	}

	// ── Services ─────────────────────────────────────────────────────────
	configService := service.NewConfigService(repo, port.CompletionOptions{
		Model:       cfg.ChatModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, prov.embedder.ModelName())
	if err := configService.Seed(ctx); err != nil {
		slog.Error("failed to seed configuration", "error", err)
		os.Exit(1)
	}

	jobTracker := service.NewJobTracker()
	retrievalService := service.NewRetrievalService(prov.embedder, vectorStore, repo, cfg.EmbedCacheTTL, m).
		WithEmbeddingModel(configService)
	answerService := service.NewAnswerService(prov.completion, configService, rules, cfg.OfflineMode)
	imageService := service.NewImageService(prov.describer, cfg.MaxImageSizeMB, m)
	outcomeService := service.NewOutcomeService(repo, m)
	ragService := service.NewRAGService(retrievalService, answerService, imageService, outcomeService, m, cfg.ProviderTimeout)
	indexService := service.NewIndexService(repo, vectorStore, prov.embedder, jobTracker, m, cfg.ReindexConcurrency).
		WithEmbeddingModel(configService)

	var scheduler *service.Scheduler
	if cfg.ReindexSchedule != "" {
		scheduler, err = service.NewScheduler(cfg.ReindexSchedule, indexService)
		if err != nil {
			slog.Error("failed to create reindex scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProviderTimeout*2 + 10*time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	app.Use(middleware.AccessLog(m))

	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	api := app.Group("/api")

	handler.NewHealthHandler(cfg.AppName, pinger).Register(api)

	// Question answering is the expensive path; throttle it per client.
	askLimiter := limiter.New(limiter.Config{
		Max:        cfg.AskRateLimit,
		Expiration: time.Minute,
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"message": "Too many requests"})
		},
	})
	handler.NewRAGHandler(ragService, cfg.MaxImageSizeMB).WithLimiter(askLimiter).Register(api)

	handler.NewReportsHandler(outcomeService, indexService).Register(api)
	handler.NewDataSourcesHandler(indexService, jobTracker, scheduler).Register(api)
	handler.NewJobsHandler(jobTracker).Register(api)
	handler.NewConfigHandler(configService).Register(api)
	handler.NewStreamHandler(outcomeService).Register(api)
	handler.NewEvidenceHandler(retrievalService).Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = mcp.NewServer(ragService, retrievalService, indexService, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if mcpServer != nil {
			if err := mcpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("MCP shutdown failed", "error", err)
			}
		}
		if scheduler != nil {
			if err := scheduler.Shutdown(); err != nil {
				slog.Error("scheduler shutdown failed", "error", err)
			}
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":"+cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
