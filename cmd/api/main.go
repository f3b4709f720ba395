package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/analysis"
	"github.com/resumemate/backend/internal/api/handlers"
	"github.com/resumemate/backend/internal/cache"
	"github.com/resumemate/backend/internal/cache/redis"
	"github.com/resumemate/backend/internal/contact"
	"github.com/resumemate/backend/internal/evaluation"
	"github.com/resumemate/backend/internal/ingestion"
	"github.com/resumemate/backend/internal/llm"
	"github.com/resumemate/backend/internal/metrics"
	"github.com/resumemate/backend/internal/middleware/ratelimit"
	"github.com/resumemate/backend/internal/middleware/security"
	"github.com/resumemate/backend/internal/middleware/validation"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/internal/query"
	"github.com/resumemate/backend/internal/retrieval"
	"github.com/resumemate/backend/internal/storage/sqlite"
	"github.com/resumemate/backend/internal/vector"
	"github.com/resumemate/backend/internal/vector/zilliz"
	"github.com/resumemate/backend/pkg/config"
	appLogger "github.com/resumemate/backend/pkg/logger"
)

type vectorBackend interface {
	vector.Store
	vector.Indexer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ResumeMate API Server", zap.String("version", handlers.Version))

	metrics.Init()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	system := handlers.NewSystemHandler(sqliteClient, handlers.SystemInfo{
		Model:      cfg.LLM.Model,
		Collection: cfg.Zilliz.CollectionName,
		Owner:      cfg.Owner.Name,
	})
	system.AddProbe("sqlite", sqliteClient.Ping)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		system.AddProbe("redis", redisClient.Ping)
	}

	var store vectorBackend
	if cfg.Zilliz.Enabled {
		zillizClient, err := zilliz.NewClient(ctx,
			cfg.Zilliz.Endpoint,
			cfg.Zilliz.APIKey,
			cfg.Zilliz.CollectionName,
			cfg.Zilliz.VectorDim,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Zilliz client", zap.Error(err))
		}
		defer zillizClient.Close()

		if err := zillizClient.CreateCollection(ctx); err != nil {
			appLogger.Fatal("Failed to create collection", zap.Error(err))
		}
		system.AddProbe("vector", zillizClient.Ready)
		store = zillizClient
	} else {
		appLogger.Warn("Zilliz disabled, using in-memory vector store")
		store = vector.NewMemoryStore()
	}

	llmClient := llm.NewClient(cfg.LLM)

	embeddings := cache.New[[]float32](cache.Options{
		Name:       "embeddings",
		TTL:        cfg.Cache.EmbeddingTTL,
		Capacity:   cfg.Cache.EmbeddingCapacity,
		SweepEvery: cfg.Cache.SweepEvery,
	})
	results := cache.New[[]models.SearchResult](cache.Options{
		Name:       "results",
		TTL:        cfg.Cache.ResultTTL,
		Capacity:   cfg.Cache.ResultCapacity,
		SweepEvery: cfg.Cache.SweepEvery,
	})
	responses := cache.New[models.SystemResponse](cache.Options{
		Name:       "responses",
		TTL:        cfg.Cache.ResponseTTL,
		Capacity:   cfg.Cache.ResponseCapacity,
		SweepEvery: cfg.Cache.SweepEvery,
	})
	pending := cache.New[string](cache.Options{
		Name:     "pending_contacts",
		TTL:      cfg.Cache.PendingTTL,
		Capacity: cfg.Cache.PendingCapacity,
	})

	embeddings.StartJanitor(ctx, cfg.Cache.SweepInterval)
	results.StartJanitor(ctx, cfg.Cache.SweepInterval)
	responses.StartJanitor(ctx, cfg.Cache.SweepInterval)
	pending.StartJanitor(ctx, cfg.Cache.SweepInterval)

	for _, stats := range []func() cache.Stats{embeddings.Stats, results.Stats, responses.Stats, pending.Stats} {
		system.AddCache(stats)
	}

	var embeddingOpts []cache.LoaderOption[[]float32]
	var resultOpts []cache.LoaderOption[[]models.SearchResult]
	if redisClient != nil {
		embeddingOpts = append(embeddingOpts, cache.WithRemote[[]float32](redisClient.Tier("embeddings")))
		resultOpts = append(resultOpts, cache.WithRemote[[]models.SearchResult](redisClient.Tier("results")))
	}

	retriever := retrieval.New(
		llmClient,
		store,
		cache.NewLoader(embeddings, embeddingOpts...),
		cache.NewLoader(results, resultOpts...),
		retrieval.Options{
			MaxTopK:             cfg.Retrieval.MaxTopK,
			SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
			Rerank:              cfg.Retrieval.RerankEnabled,
		},
	)

	processor := ingestion.NewProcessor(llmClient, store, sqliteClient,
		ingestion.WithChunking(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap),
		ingestion.OnIngest(func(ctx context.Context) {
			results.Clear()
			responses.Clear()
			if redisClient != nil {
				if err := redisClient.Invalidate(ctx, "results"); err != nil {
					appLogger.Warn("Failed to invalidate remote results", zap.Error(err))
				}
			}
		}),
	)
	if cfg.Knowledge.SeedPath != "" {
		n, err := processor.LoadFile(ctx, cfg.Knowledge.SeedPath)
		if err != nil {
			appLogger.Fatal("Failed to ingest resume", zap.String("path", cfg.Knowledge.SeedPath), zap.Error(err))
		}
		appLogger.Info("Resume indexed", zap.Int("chunks", n))
	}

	analyzer := analysis.NewAnalyzer(retriever, llmClient, analysis.Options{
		TopK:                 cfg.Retrieval.TopK,
		SufficiencyThreshold: cfg.Retrieval.SufficiencyThreshold,
		MaxSources:           cfg.Pipeline.MaxSources,
		Owner:                cfg.Owner,
	})

	var reviewer evaluation.Reviewer
	if cfg.LLM.ReviewEnabled {
		reviewer = llmClient
	}
	evaluator := evaluation.NewEvaluator(reviewer, evaluation.Options{
		MaxDraftRunes: cfg.Pipeline.MaxDraftRunes,
		OwnerName:     cfg.Owner.Name,
	})

	engine := query.NewEngine(query.Deps{
		Analyzer:  analyzer,
		Evaluator: evaluator,
		Contacts:  contact.NewManager(sqliteClient),
		Audit:     sqliteClient,
		Responses: responses,
		Pending:   pending,
	}, query.Options{
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		QueueTimeout:  cfg.Pipeline.QueueTimeout,
		TurnTimeout:   cfg.Pipeline.TurnTimeout,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	origins := strings.Split(cfg.Server.AllowOrigins, ",")

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Session-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: origins,
		IsDevelopment:  cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.Named("ratelimit"),
	})
	go limiter.Run(ctx, time.Minute)

	chatHandler := handlers.NewChatHandler(engine, sqliteClient, cfg.Pipeline.MaxContextTurns)
	feedbackHandler := handlers.NewFeedbackHandler(sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(engine, cfg.Pipeline.MaxContextTurns)

	app.Get("/health", system.Health)
	app.Get("/ready", system.Ready)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.Named("validation")}),
	)
	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/sessions/:id/history", chatHandler.GetSessionHistory)
	api.Post("/feedback", feedbackHandler.SubmitFeedback)
	api.Get("/info", system.Info)

	if cfg.Knowledge.AdminToken != "" {
		resumeHandler := handlers.NewResumeHandler(processor, cfg.Knowledge.AdminToken)
		api.Post("/admin/resume", resumeHandler.RequireToken, resumeHandler.UploadSections)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", limiter.Middleware(), websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stop()
	if err := app.ShutdownWithTimeout(cfg.Pipeline.TurnTimeout); err != nil {
		appLogger.Error("Shutdown did not complete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
