package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"statement-relay/internal/api"
	"statement-relay/internal/api/handlers"
	"statement-relay/internal/cache"
	"statement-relay/internal/parser"
	"statement-relay/internal/repository"
	"statement-relay/internal/service"
	"statement-relay/pkg/auth"
	"statement-relay/pkg/config"
	"statement-relay/pkg/logger"
	"statement-relay/pkg/postgres"

	"go.uber.org/zap"
)

// @title Statement Relay API
// @version 1.0
// @description Bank statement ingestion and transaction analysis relay

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Format); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting statement relay service")

	// Cancelled on shutdown; ends open relay sessions.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	txRepo := repository.NewTransactionRepository(db, logger.Named("repository"))

	txCache, err := cache.NewTransactionCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	if err != nil {
		appLogger.Fatal("Failed to initialize transaction cache", zap.Error(err))
	}
	defer txCache.Close()

	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Expiration)

	// Parsing
	rowPolicy, err := parser.ParseRowErrorPolicy(cfg.Upload.RowPolicy)
	if err != nil {
		appLogger.Fatal("Invalid CSV row policy", zap.Error(err))
	}
	extractor, err := service.NewTextExtractor(&cfg.Extraction, logger.Named("extraction"))
	if err != nil {
		appLogger.Fatal("Failed to initialize text extraction", zap.Error(err))
	}
	factory := parser.NewFactory(extractor, parser.Options{RowPolicy: rowPolicy}, logger.Named("parser"))
	appLogger.Info("Statement formats enabled", zap.Strings("mime_types", factory.SupportedTypes()))

	// Initialize services
	txService := service.NewTransactionService(txRepo, txCache, logger.Named("transactions"))
	uploadService := service.NewUploadService(factory, txService, cfg.Upload.MaxFileBytes, logger.Named("upload"))
	dialer := service.NewWebSocketDialer(&cfg.Analysis, logger.Named("analysis"))
	relayService := service.NewRelayService(txService, dialer, cfg.Analysis.RequestTimeout, logger.Named("relay"))

	// Initialize handlers
	txHandler := handlers.NewTransactionHandler(uploadService, txService, appLogger)
	relayHandler := handlers.NewRelayHandler(ctx, relayService, appLogger)

	// Setup router
	app := api.SetupRouter(txHandler, relayHandler, jwtManager, cfg, appLogger)

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	cancel()
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
