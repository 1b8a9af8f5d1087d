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
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/api"
	"github.com/policyqa/backend/internal/api/handlers"
	"github.com/policyqa/backend/internal/bootstrap"
	"github.com/policyqa/backend/internal/metrics"
	"github.com/policyqa/backend/internal/middleware/ratelimit"
	"github.com/policyqa/backend/internal/middleware/security"
	"github.com/policyqa/backend/internal/middleware/validation"
	"github.com/policyqa/backend/pkg/config"
	appLogger "github.com/policyqa/backend/pkg/logger"
)

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

	appLogger.Info("Starting policy QA API server")

	metrics.Init()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pipeline, err := bootstrap.Build(startCtx, cfg, bootstrap.Options{})
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ",")
	}

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.IsDevelopment,
	}))
	app.Use("/api", rateLimiter.Middleware())
	app.Use("/api", validation.Middleware(validation.Config{
		MaxQuestionLength: cfg.Server.MaxQuestionLength,
		Logger:            appLogger.GetLogger(),
	}))

	checks := map[string]handlers.Check{
		"sqlite": pipeline.SQLite.Ping,
		"neo4j":  pipeline.Neo4j.Ping,
		"zilliz": pipeline.Zilliz.Ready,
	}
	if pipeline.Redis != nil {
		checks["redis"] = pipeline.Redis.Ping
	}

	api.RegisterRoutes(app, api.Handlers{
		Query:     handlers.NewQueryHandler(pipeline.Engine, pipeline.SQLite),
		WebSocket: handlers.NewWebSocketHandler(pipeline.Engine),
		Review:    handlers.NewReviewHandler(pipeline.Reviews),
		Learning:  handlers.NewLearningHandler(pipeline.Learning),
		Health:    handlers.NewHealthHandler(checks),
	})

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
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	rateLimiter.Stop()
	pipeline.Close()
	appLogger.Info("Server stopped")
}
